package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists dialogue state in PostgreSQL.
type PostgresStore struct {
	db rowQuerier
}

// NewPostgresStore initializes a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("conversation: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithExec(db rowQuerier) *PostgresStore {
	if db == nil {
		panic("conversation: exec required")
	}
	return &PostgresStore{db: db}
}

const conversationColumns = `id, clinic_id, channel_id, display_phone, current_state, detected_language, context_data, last_message_at, created_at, updated_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		conv    Conversation
		state   string
		rawCtx  []byte
		lastMsg *time.Time
	)
	if err := row.Scan(
		&conv.ID,
		&conv.ClinicID,
		&conv.ChannelID,
		&conv.DisplayPhone,
		&state,
		&conv.Language,
		&rawCtx,
		&lastMsg,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	conv.State = ParseState(state)
	conv.LastMessageAt = lastMsg
	if len(rawCtx) > 0 {
		if err := json.Unmarshal(rawCtx, &conv.Context); err != nil {
			return nil, fmt.Errorf("conversation: decode context: %w", err)
		}
	}
	return &conv, nil
}

func (s *PostgresStore) GetOrCreateConversation(ctx context.Context, clinicID, channelID, displayPhone string) (*Conversation, error) {
	query := `
		INSERT INTO conversations (id, clinic_id, channel_id, display_phone, current_state, detected_language, context_data)
		VALUES ($1, $2, $3, $4, $5, '', '{}'::jsonb)
		ON CONFLICT (clinic_id, channel_id) DO UPDATE
		SET display_phone = COALESCE(NULLIF(EXCLUDED.display_phone, ''), conversations.display_phone)
		RETURNING ` + conversationColumns
	conv, err := scanConversation(s.db.QueryRow(ctx, query, uuid.NewString(), clinicID, channelID, displayPhone, string(StateIdle)))
	if err != nil {
		return nil, fmt.Errorf("conversation: get or create: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	conv, err := scanConversation(s.db.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversation: select conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, conversationID string, role Role, content, mediaRef string) (*Message, error) {
	query := `
		WITH inserted AS (
			INSERT INTO messages (id, conversation_id, role, content, media_ref)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''))
			RETURNING created_at
		)
		UPDATE conversations c
		SET last_message_at = inserted.created_at, updated_at = now()
		FROM inserted
		WHERE c.id = $2
		RETURNING inserted.created_at
	`
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		MediaRef:       mediaRef,
	}
	if err := s.db.QueryRow(ctx, query, msg.ID, conversationID, string(role), content, mediaRef).Scan(&msg.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversation: save message: %w", err)
	}
	return &msg, nil
}

// ListMessages returns the latest limit messages in chronological order.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, conversation_id, role, content, COALESCE(media_ref, ''), created_at
		FROM (
			SELECT * FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2
		) recent
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.MediaRef, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: list messages: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateContext(ctx context.Context, conversationID string, c ConversationContext) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("conversation: encode context: %w", err)
	}
	return s.updateConversation(ctx, "update context", `UPDATE conversations SET context_data = $2, updated_at = now() WHERE id = $1`, conversationID, raw)
}

func (s *PostgresStore) TransitionState(ctx context.Context, conversationID string, state State) error {
	return s.updateConversation(ctx, "transition state", `UPDATE conversations SET current_state = $2, updated_at = now() WHERE id = $1`, conversationID, string(state))
}

func (s *PostgresStore) UpdateLanguage(ctx context.Context, conversationID, language string) error {
	return s.updateConversation(ctx, "update language", `UPDATE conversations SET detected_language = $2, updated_at = now() WHERE id = $1`, conversationID, language)
}

func (s *PostgresStore) updateConversation(ctx context.Context, op, query string, args ...any) error {
	ct, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("conversation: %s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

const patientColumns = `id, clinic_id, phone, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(birth_date, ''), COALESCE(email, ''), COALESCE(insurance_card_ref, ''), social_insurance, COALESCE(insurance_type, ''), COALESCE(beneficiary_number, ''), created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(
		&p.ID,
		&p.ClinicID,
		&p.Phone,
		&p.FirstName,
		&p.LastName,
		&p.BirthDate,
		&p.Email,
		&p.InsuranceCardRef,
		&p.SocialInsurance,
		&p.InsuranceType,
		&p.BeneficiaryNumber,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPatient(ctx context.Context, clinicID, phone string) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE clinic_id = $1 AND phone = $2`
	p, err := scanPatient(s.db.QueryRow(ctx, query, clinicID, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("conversation: select patient: %w", err)
	}
	return p, nil
}

// UpsertPatient keeps stored identity columns (COALESCE on the existing row
// first) and lets insurance columns take any supplied value.
func (s *PostgresStore) UpsertPatient(ctx context.Context, clinicID, phone string, f PatientFields) (*Patient, error) {
	query := `
		INSERT INTO patients (id, clinic_id, phone, first_name, last_name, birth_date, email, insurance_card_ref, social_insurance, insurance_type, beneficiary_number)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, ''), NULLIF($11, ''))
		ON CONFLICT (clinic_id, phone) DO UPDATE SET
			first_name = COALESCE(patients.first_name, EXCLUDED.first_name),
			last_name = COALESCE(patients.last_name, EXCLUDED.last_name),
			birth_date = COALESCE(patients.birth_date, EXCLUDED.birth_date),
			email = COALESCE(patients.email, EXCLUDED.email),
			insurance_card_ref = COALESCE(patients.insurance_card_ref, EXCLUDED.insurance_card_ref),
			social_insurance = COALESCE(EXCLUDED.social_insurance, patients.social_insurance),
			insurance_type = COALESCE(EXCLUDED.insurance_type, patients.insurance_type),
			beneficiary_number = COALESCE(EXCLUDED.beneficiary_number, patients.beneficiary_number),
			updated_at = now()
		RETURNING ` + patientColumns
	p, err := scanPatient(s.db.QueryRow(ctx, query,
		uuid.NewString(),
		clinicID,
		phone,
		f.FirstName,
		f.LastName,
		f.BirthDate,
		f.Email,
		f.InsuranceCardRef,
		f.SocialInsurance,
		f.InsuranceType,
		f.BeneficiaryNumber,
	))
	if err != nil {
		return nil, fmt.Errorf("conversation: upsert patient: %w", err)
	}
	return p, nil
}

const appointmentColumns = `id, clinic_id, patient_id, COALESCE(conversation_id::text, ''), practitioner_id, practitioner_name, appointment_type, event_id, starts_at, ends_at, status, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a      Appointment
		status string
	)
	if err := row.Scan(
		&a.ID,
		&a.ClinicID,
		&a.PatientID,
		&a.ConversationID,
		&a.PractitionerID,
		&a.PractitionerName,
		&a.Type,
		&a.EventID,
		&a.StartsAt,
		&a.EndsAt,
		&status,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = AppointmentStatus(status)
	return &a, nil
}

func (s *PostgresStore) CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.Status == "" {
		appt.Status = AppointmentConfirmed
	}
	query := `
		INSERT INTO appointments (id, clinic_id, patient_id, conversation_id, practitioner_id, practitioner_name, appointment_type, event_id, starts_at, ends_at, status)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	if err := s.db.QueryRow(ctx, query,
		appt.ID,
		appt.ClinicID,
		appt.PatientID,
		appt.ConversationID,
		appt.PractitionerID,
		appt.PractitionerName,
		appt.Type,
		appt.EventID,
		appt.StartsAt,
		appt.EndsAt,
		string(appt.Status),
	).Scan(&appt.CreatedAt, &appt.UpdatedAt); err != nil {
		return nil, fmt.Errorf("conversation: insert appointment: %w", err)
	}
	return &appt, nil
}

func (s *PostgresStore) RescheduleAppointment(ctx context.Context, appointmentID string, startsAt, endsAt time.Time) error {
	ct, err := s.db.Exec(ctx, `UPDATE appointments SET starts_at = $2, ends_at = $3, updated_at = now() WHERE id = $1`, appointmentID, startsAt, endsAt)
	if err != nil {
		return fmt.Errorf("conversation: reschedule appointment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// CancelAppointment only transitions the status; rows are never deleted.
func (s *PostgresStore) CancelAppointment(ctx context.Context, appointmentID string) error {
	ct, err := s.db.Exec(ctx, `UPDATE appointments SET status = $2, updated_at = now() WHERE id = $1`, appointmentID, string(AppointmentCancelled))
	if err != nil {
		return fmt.Errorf("conversation: cancel appointment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (s *PostgresStore) ListUpcomingAppointments(ctx context.Context, clinicID, patientID string, from time.Time) ([]Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE clinic_id = $1 AND patient_id = $2 AND status = $3 AND starts_at >= $4
		ORDER BY starts_at ASC`
	rows, err := s.db.Query(ctx, query, clinicID, patientID, string(AppointmentConfirmed), from)
	if err != nil {
		return nil, fmt.Errorf("conversation: list appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("conversation: scan appointment: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: list appointments: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) HasConfirmedAppointment(ctx context.Context, clinicID, patientID string) (bool, error) {
	query := `SELECT 1 FROM appointments WHERE clinic_id = $1 AND patient_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := s.db.QueryRow(ctx, query, clinicID, patientID, string(AppointmentConfirmed)).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("conversation: check appointments: %w", err)
	}
	return true, nil
}

var _ Store = (*PostgresStore)(nil)
