// Package calendar answers availability questions and writes booking events.
package calendar

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/wolfman30/sophie-assistant/internal/clinic"
)

// ErrEventNotFound is returned when an event id is unknown to the provider.
var ErrEventNotFound = errors.New("calendar: event not found")

// DefaultDayHours applies when a caller has no opening hours for the day.
var DefaultDayHours = clinic.DayHours{Open: "09:00", Close: "18:00"}

// Slot is a bookable time range.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Event is an appointment written to a practitioner's calendar.
type Event struct {
	ID             string
	PractitionerID string
	Summary        string
	Description    string
	Start          time.Time
	End            time.Time
}

// Provider is the calendar contract consumed by the dialogue engine.
// practitionerID is the practitioner's calendar identifier.
type Provider interface {
	CheckAvailability(ctx context.Context, practitionerID string, start, end time.Time) (bool, error)
	GetAvailableSlots(ctx context.Context, practitionerID string, date time.Time, slotMinutes int, hours *clinic.DayHours) ([]Slot, error)
	CreateEvent(ctx context.Context, ev Event) (string, error)
	UpdateEvent(ctx context.Context, ev Event) error
	DeleteEvent(ctx context.Context, practitionerID, eventID string) error
}

// dayBounds returns the open and close instants of date for hours (DefaultDayHours when nil).
func dayBounds(date time.Time, hours *clinic.DayHours) (time.Time, time.Time, bool) {
	if hours == nil {
		hours = &DefaultDayHours
	}
	open, closeAt, ok := hours.Window()
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	base := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return base.Add(time.Duration(open) * time.Minute), base.Add(time.Duration(closeAt) * time.Minute), true
}

// FreeSlots cuts [dayStart, dayEnd) into slotMinutes ranges that overlap no busy range.
func FreeSlots(dayStart, dayEnd time.Time, busy []Slot, slotMinutes int) []Slot {
	if slotMinutes <= 0 || !dayEnd.After(dayStart) {
		return nil
	}
	sorted := append([]Slot(nil), busy...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	step := time.Duration(slotMinutes) * time.Minute
	var out []Slot
	for start := dayStart; !start.Add(step).After(dayEnd); start = start.Add(step) {
		candidate := Slot{Start: start, End: start.Add(step)}
		if !overlapsAny(candidate, sorted) {
			out = append(out, candidate)
		}
	}
	return out
}

func overlapsAny(s Slot, busy []Slot) bool {
	for _, b := range busy {
		if s.Start.Before(b.End) && b.Start.Before(s.End) {
			return true
		}
	}
	return false
}
