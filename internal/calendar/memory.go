package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/sophie-assistant/internal/clinic"
)

// MemoryProvider keeps events in process. Used by tests and local development.
type MemoryProvider struct {
	mu     sync.RWMutex
	events map[string]Event
	// Err, when set, is returned by every call.
	Err error
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{events: make(map[string]Event)}
}

func (m *MemoryProvider) busyFor(practitionerID string) []Slot {
	var out []Slot
	for _, ev := range m.events {
		if ev.PractitionerID == practitionerID {
			out = append(out, Slot{Start: ev.Start, End: ev.End})
		}
	}
	return out
}

func (m *MemoryProvider) CheckAvailability(ctx context.Context, practitionerID string, start, end time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return false, m.Err
	}
	return !overlapsAny(Slot{Start: start, End: end}, m.busyFor(practitionerID)), nil
}

func (m *MemoryProvider) GetAvailableSlots(ctx context.Context, practitionerID string, date time.Time, slotMinutes int, hours *clinic.DayHours) ([]Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	open, closeAt, ok := dayBounds(date, hours)
	if !ok {
		return nil, nil
	}
	return FreeSlots(open, closeAt, m.busyFor(practitionerID), slotMinutes), nil
}

func (m *MemoryProvider) CreateEvent(ctx context.Context, ev Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	ev.ID = uuid.NewString()
	m.events[ev.ID] = ev
	return ev.ID, nil
}

func (m *MemoryProvider) UpdateEvent(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.events[ev.ID]; !ok {
		return ErrEventNotFound
	}
	m.events[ev.ID] = ev
	return nil
}

func (m *MemoryProvider) DeleteEvent(ctx context.Context, practitionerID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.events[eventID]; !ok {
		return ErrEventNotFound
	}
	delete(m.events, eventID)
	return nil
}

// Events returns a snapshot of stored events.
func (m *MemoryProvider) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev)
	}
	return out
}
