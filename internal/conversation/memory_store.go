package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	byIdentity    map[string]string
	messages      map[string][]Message
	patients      map[string]*Patient
	appointments  map[string]*Appointment
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		byIdentity:    make(map[string]string),
		messages:      make(map[string][]Message),
		patients:      make(map[string]*Patient),
		appointments:  make(map[string]*Appointment),
		now:           time.Now,
	}
}

func identityKey(clinicID, channelID string) string {
	return clinicID + "|" + channelID
}

func copyConversation(c *Conversation) *Conversation {
	cp := *c
	cp.Context = c.Context.Clone()
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		cp.LastMessageAt = &t
	}
	return &cp
}

func copyPatient(p *Patient) *Patient {
	cp := *p
	if p.SocialInsurance != nil {
		v := *p.SocialInsurance
		cp.SocialInsurance = &v
	}
	return &cp
}

func (s *MemoryStore) GetOrCreateConversation(ctx context.Context, clinicID, channelID, displayPhone string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := identityKey(clinicID, channelID)
	if id, ok := s.byIdentity[key]; ok {
		conv := s.conversations[id]
		if displayPhone != "" {
			conv.DisplayPhone = displayPhone
		}
		return copyConversation(conv), nil
	}

	now := s.now().UTC()
	conv := &Conversation{
		ID:           uuid.NewString(),
		ClinicID:     clinicID,
		ChannelID:    channelID,
		DisplayPhone: displayPhone,
		State:        StateIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[conv.ID] = conv
	s.byIdentity[key] = conv.ID
	return copyConversation(conv), nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return copyConversation(conv), nil
}

func (s *MemoryStore) SaveMessage(ctx context.Context, conversationID string, role Role, content, mediaRef string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	now := s.now().UTC()
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		MediaRef:       mediaRef,
		CreatedAt:      now,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	conv.LastMessageAt = &now
	conv.UpdatedAt = now
	return &msg, nil
}

// ListMessages returns the latest limit messages in chronological order.
func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...), nil
}

func (s *MemoryStore) UpdateContext(ctx context.Context, conversationID string, c ConversationContext) error {
	return s.mutate(conversationID, func(conv *Conversation) {
		conv.Context = c.Clone()
	})
}

func (s *MemoryStore) TransitionState(ctx context.Context, conversationID string, state State) error {
	return s.mutate(conversationID, func(conv *Conversation) {
		conv.State = state
	})
}

func (s *MemoryStore) UpdateLanguage(ctx context.Context, conversationID, language string) error {
	return s.mutate(conversationID, func(conv *Conversation) {
		conv.Language = language
	})
}

func (s *MemoryStore) mutate(conversationID string, fn func(*Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	fn(conv)
	conv.UpdatedAt = s.now().UTC()
	return nil
}

// SetLastMessageAt backdates a conversation's activity, for inactivity tests.
func (s *MemoryStore) SetLastMessageAt(conversationID string, at time.Time) {
	_ = s.mutate(conversationID, func(conv *Conversation) {
		conv.LastMessageAt = &at
	})
}

func (s *MemoryStore) GetPatient(ctx context.Context, clinicID, phone string) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[identityKey(clinicID, phone)]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return copyPatient(p), nil
}

func (s *MemoryStore) UpsertPatient(ctx context.Context, clinicID, phone string, f PatientFields) (*Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := identityKey(clinicID, phone)
	p, ok := s.patients[key]
	if !ok {
		p = &Patient{ID: uuid.NewString(), ClinicID: clinicID, Phone: phone, CreatedAt: now}
		s.patients[key] = p
	}

	p.FirstName = pick(p.FirstName, f.FirstName)
	p.LastName = pick(p.LastName, f.LastName)
	p.BirthDate = pick(p.BirthDate, f.BirthDate)
	p.Email = pick(p.Email, f.Email)
	p.InsuranceCardRef = pick(p.InsuranceCardRef, f.InsuranceCardRef)

	if f.SocialInsurance != nil {
		v := *f.SocialInsurance
		p.SocialInsurance = &v
	}
	p.InsuranceType = pick(f.InsuranceType, p.InsuranceType)
	p.BeneficiaryNumber = pick(f.BeneficiaryNumber, p.BeneficiaryNumber)
	p.UpdatedAt = now
	return copyPatient(p), nil
}

func (s *MemoryStore) CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.Status == "" {
		appt.Status = AppointmentConfirmed
	}
	appt.CreatedAt, appt.UpdatedAt = now, now
	stored := appt
	s.appointments[appt.ID] = &stored
	return &appt, nil
}

func (s *MemoryStore) RescheduleAppointment(ctx context.Context, appointmentID string, startsAt, endsAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[appointmentID]
	if !ok {
		return ErrAppointmentNotFound
	}
	appt.StartsAt, appt.EndsAt = startsAt, endsAt
	appt.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) CancelAppointment(ctx context.Context, appointmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[appointmentID]
	if !ok {
		return ErrAppointmentNotFound
	}
	appt.Status = AppointmentCancelled
	appt.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) ListUpcomingAppointments(ctx context.Context, clinicID, patientID string, from time.Time) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Appointment
	for _, a := range s.appointments {
		if a.ClinicID == clinicID && a.PatientID == patientID && a.Status == AppointmentConfirmed && !a.StartsAt.Before(from) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *MemoryStore) HasConfirmedAppointment(ctx context.Context, clinicID, patientID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.appointments {
		if a.ClinicID == clinicID && a.PatientID == patientID && a.Status == AppointmentConfirmed {
			return true, nil
		}
	}
	return false, nil
}

// Appointments returns a snapshot of every stored appointment.
func (s *MemoryStore) Appointments() []Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Appointment, 0, len(s.appointments))
	for _, a := range s.appointments {
		out = append(out, *a)
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
