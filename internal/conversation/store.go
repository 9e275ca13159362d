package conversation

import (
	"context"
	"time"
)

// Store persists conversations, messages, patients and appointments.
type Store interface {
	// GetOrCreateConversation returns the one conversation for (clinicID, channelID), creating it on first contact.
	GetOrCreateConversation(ctx context.Context, clinicID, channelID, displayPhone string) (*Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	SaveMessage(ctx context.Context, conversationID string, role Role, content, mediaRef string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	UpdateContext(ctx context.Context, conversationID string, c ConversationContext) error
	TransitionState(ctx context.Context, conversationID string, state State) error
	UpdateLanguage(ctx context.Context, conversationID, language string) error

	GetPatient(ctx context.Context, clinicID, phone string) (*Patient, error)
	// UpsertPatient never overwrites a non-empty identity field.
	UpsertPatient(ctx context.Context, clinicID, phone string, fields PatientFields) (*Patient, error)

	CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error)
	RescheduleAppointment(ctx context.Context, appointmentID string, startsAt, endsAt time.Time) error
	CancelAppointment(ctx context.Context, appointmentID string) error
	ListUpcomingAppointments(ctx context.Context, clinicID, patientID string, from time.Time) ([]Appointment, error)
	HasConfirmedAppointment(ctx context.Context, clinicID, patientID string) (bool, error)
}
