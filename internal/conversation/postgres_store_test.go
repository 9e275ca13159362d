package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var conversationRowColumns = []string{"id", "clinic_id", "channel_id", "display_phone", "current_state", "detected_language", "context_data", "last_message_at", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresStoreWithExec(mock), mock
}

func TestPostgresGetConversationDecodesContext(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	last := now.Add(-time.Minute)
	raw := []byte(`{"patient":{"first_name":"Jeanne"},"appointment":{"date":"2025-03-10"},"flow":"BOOK","rejected_times":["2025-03-09 10:00"]}`)

	mock.ExpectQuery("SELECT id, clinic_id, channel_id").
		WithArgs("conv-1").
		WillReturnRows(pgxmock.NewRows(conversationRowColumns).
			AddRow("conv-1", "clinic-1", "+33612345678", "+33612345678", "collecting_appointment_data", "fr", raw, &last, now, now))

	conv, err := store.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, StateCollectingAppointmentData, conv.State)
	assert.Equal(t, "Jeanne", conv.Context.Patient.FirstName)
	assert.Equal(t, ActionBook, conv.Context.Flow)
	assert.True(t, conv.Context.IsRejected("2025-03-09", "10:00"))
	require.NotNil(t, conv.LastMessageAt)
	assert.True(t, last.Equal(*conv.LastMessageAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetConversationNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, clinic_id, channel_id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := store.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetOrCreateConversation(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs(pgxmock.AnyArg(), "clinic-1", "+33612345678", "+33612345678", "IDLE").
		WillReturnRows(pgxmock.NewRows(conversationRowColumns).
			AddRow("conv-1", "clinic-1", "+33612345678", "+33612345678", "IDLE", "", []byte(`{}`), (*time.Time)(nil), now, now))

	conv, err := store.GetOrCreateConversation(context.Background(), "clinic-1", "+33612345678", "+33612345678")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, StateIdle, conv.State)
	assert.Nil(t, conv.LastMessageAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConversationUpdates(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE conversations SET context_data").
		WithArgs("conv-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.UpdateContext(ctx, "conv-1", ConversationContext{Flow: ActionBook}))

	mock.ExpectExec("UPDATE conversations SET current_state").
		WithArgs("conv-1", "CONFIRMATION").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.TransitionState(ctx, "conv-1", StateConfirmation))

	mock.ExpectExec("UPDATE conversations SET detected_language").
		WithArgs("missing", "en").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.UpdateLanguage(ctx, "missing", "en"), ErrConversationNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveAndListMessages(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(pgxmock.AnyArg(), "conv-1", "user", "Bonjour", "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(at))
	msg, err := store.SaveMessage(ctx, "conv-1", RoleUser, "Bonjour", "")
	require.NoError(t, err)
	assert.Equal(t, at, msg.CreatedAt)

	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(pgxmock.AnyArg(), "gone", "user", "Bonjour", "").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.SaveMessage(ctx, "gone", RoleUser, "Bonjour", "")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	mock.ExpectQuery("SELECT id, conversation_id, role, content").
		WithArgs("conv-1", 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "conversation_id", "role", "content", "media_ref", "created_at"}).
			AddRow("m1", "conv-1", "user", "Bonjour", "", at).
			AddRow("m2", "conv-1", "assistant", "Bonjour, je suis Sophie", "", at.Add(time.Second)))
	msgs, err := store.ListMessages(ctx, "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertPatient(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	yes := true

	mock.ExpectQuery("INSERT INTO patients").
		WithArgs(pgxmock.AnyArg(), "clinic-1", "+33612345678", "Jeanne", "", "", "", "", &yes, "", "").
		WillReturnRows(pgxmock.NewRows([]string{"id", "clinic_id", "phone", "first_name", "last_name", "birth_date", "email", "insurance_card_ref", "social_insurance", "insurance_type", "beneficiary_number", "created_at", "updated_at"}).
			AddRow("p-1", "clinic-1", "+33612345678", "Marie", "", "", "", "", &yes, "", "", now, now))

	p, err := store.UpsertPatient(context.Background(), "clinic-1", "+33612345678", PatientFields{FirstName: "Jeanne", SocialInsurance: &yes})
	require.NoError(t, err)
	// The stored first name is write-once; the row returned by the upsert wins.
	assert.Equal(t, "Marie", p.FirstName)
	require.NotNil(t, p.SocialInsurance)
	assert.True(t, *p.SocialInsurance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetPatientNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM patients").WithArgs("clinic-1", "+33600000000").WillReturnError(pgx.ErrNoRows)

	_, err := store.GetPatient(context.Background(), "clinic-1", "+33600000000")
	assert.ErrorIs(t, err, ErrPatientNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppointments(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), "clinic-1", "p-1", "conv-1", "p-martin", "Dr Martin", "consultation", "evt-1", start, end, "CONFIRMED").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	appt, err := store.CreateAppointment(ctx, Appointment{
		ClinicID: "clinic-1", PatientID: "p-1", ConversationID: "conv-1",
		PractitionerID: "p-martin", PractitionerName: "Dr Martin", Type: "consultation",
		EventID: "evt-1", StartsAt: start, EndsAt: end,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, appt.ID)
	assert.Equal(t, AppointmentConfirmed, appt.Status)

	mock.ExpectExec("UPDATE appointments SET status").
		WithArgs(appt.ID, "CANCELLED").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.CancelAppointment(ctx, appt.ID))

	mock.ExpectExec("UPDATE appointments SET starts_at").
		WithArgs("unknown", start, end).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.RescheduleAppointment(ctx, "unknown", start, end), ErrAppointmentNotFound)

	mock.ExpectQuery("SELECT 1 FROM appointments").
		WithArgs("clinic-1", "p-2", "CONFIRMED").
		WillReturnError(pgx.ErrNoRows)
	returning, err := store.HasConfirmedAppointment(ctx, "clinic-1", "p-2")
	require.NoError(t, err)
	assert.False(t, returning)

	mock.ExpectQuery("FROM appointments").
		WithArgs("clinic-1", "p-1", "CONFIRMED", start).
		WillReturnError(errors.New("connection reset"))
	_, err = store.ListUpcomingAppointments(ctx, "clinic-1", "p-1", start)
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
