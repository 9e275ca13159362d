// Package compliance records the guardrail decisions taken on generated
// replies so a clinic can review them.
package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEventType represents the type of compliance event.
type AuditEventType string

const (
	// EventReplyRejected is logged when the response validator rejects a generated reply.
	EventReplyRejected AuditEventType = "dialogue.reply_rejected"
	// EventReplyFallback is logged when a deterministic reply replaced generation.
	EventReplyFallback AuditEventType = "dialogue.reply_fallback"
)

// AuditEvent represents an immutable compliance audit record.
type AuditEvent struct {
	ID             string          `json:"id"`
	EventType      AuditEventType  `json:"event_type"`
	ClinicID       string          `json:"clinic_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	UserMessage    string          `json:"user_message,omitempty"`
	AIResponse     string          `json:"ai_response,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	// For rejected replies
	Violations []string `json:"violations,omitempty"`
	Topic      string   `json:"topic,omitempty"`

	// For fallbacks
	FallbackReason string `json:"fallback_reason,omitempty"`
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditService handles compliance audit logging.
type AuditService struct {
	db  execer
	now func() time.Time
}

// NewAuditService creates a new audit service.
func NewAuditService(pool *pgxpool.Pool) *AuditService {
	if pool == nil {
		panic("compliance: pgx pool cannot be nil")
	}
	return newAuditService(pool)
}

func newAuditService(db execer) *AuditService {
	return &AuditService{db: db, now: time.Now}
}

// LogEvent records a compliance audit event. Message texts are redacted
// before they are stored.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage("{}")
	}

	query := `
		INSERT INTO compliance_audit_events (
			id, event_type, clinic_id, conversation_id,
			user_message, ai_response, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.Exec(ctx, query,
		event.ID,
		string(event.EventType),
		event.ClinicID,
		nullString(event.ConversationID),
		nullString(Redact(event.UserMessage)),
		nullString(Redact(event.AIResponse)),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: log audit event: %w", err)
	}
	return nil
}

// LogReplyRejected logs a generated reply the response validator refused.
func (s *AuditService) LogReplyRejected(ctx context.Context, clinicID, conversationID, userMessage, reply, topic string, violations []string) error {
	details, _ := json.Marshal(AuditDetails{Violations: violations, Topic: topic})
	return s.LogEvent(ctx, AuditEvent{
		EventType:      EventReplyRejected,
		ClinicID:       clinicID,
		ConversationID: conversationID,
		UserMessage:    userMessage,
		AIResponse:     reply,
		Details:        details,
	})
}

// LogFallback logs that the patient received a deterministic reply instead of a generated one.
func (s *AuditService) LogFallback(ctx context.Context, clinicID, conversationID, reason string) error {
	details, _ := json.Marshal(AuditDetails{FallbackReason: reason})
	return s.LogEvent(ctx, AuditEvent{
		EventType:      EventReplyFallback,
		ClinicID:       clinicID,
		ConversationID: conversationID,
		Details:        details,
	})
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
