package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreOneConversationPerIdentity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.GetOrCreateConversation(ctx, "clinic-1", "+33612345678", "")
	require.NoError(t, err)
	again, err := store.GetOrCreateConversation(ctx, "clinic-1", "+33612345678", "06 12 34 56 78")
	require.NoError(t, err)
	other, err := store.GetOrCreateConversation(ctx, "clinic-2", "+33612345678", "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "06 12 34 56 78", again.DisplayPhone)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Equal(t, StateIdle, first.State)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv, err := store.GetOrCreateConversation(ctx, "clinic-1", "+33612345678", "")
	require.NoError(t, err)
	require.NoError(t, store.UpdateContext(ctx, conv.ID, ConversationContext{RejectedTimes: []string{"2025-03-09 10:00"}}))

	loaded, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	loaded.Context.RejectedTimes[0] = "mutated"

	reloaded, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-09 10:00", reloaded.Context.RejectedTimes[0])
}

func TestMemoryStoreMessagesTouchLastMessageAt(t *testing.T) {
	store := NewMemoryStore()
	at := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return at }
	ctx := context.Background()
	conv, err := store.GetOrCreateConversation(ctx, "clinic-1", "+33612345678", "")
	require.NoError(t, err)
	assert.Nil(t, conv.LastMessageAt)

	for _, text := range []string{"un", "deux", "trois"} {
		_, err := store.SaveMessage(ctx, conv.ID, RoleUser, text, "")
		require.NoError(t, err)
	}

	loaded, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.LastMessageAt)
	assert.True(t, at.Equal(*loaded.LastMessageAt))

	latest, err := store.ListMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "deux", latest[0].Content)
	assert.Equal(t, "trois", latest[1].Content)

	_, err = store.SaveMessage(ctx, "missing", RoleUser, "x", "")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestMemoryStorePatientIdentityIsWriteOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.UpsertPatient(ctx, "clinic-1", "+33612345678", PatientFields{FirstName: "Jeanne", InsuranceType: "mutuelle"})
	require.NoError(t, err)
	yes := true
	p, err := store.UpsertPatient(ctx, "clinic-1", "+33612345678", PatientFields{FirstName: "Marie", LastName: "Dupont", InsuranceType: "CSS", SocialInsurance: &yes})
	require.NoError(t, err)

	assert.Equal(t, "Jeanne", p.FirstName)
	assert.Equal(t, "Dupont", p.LastName)
	assert.Equal(t, "CSS", p.InsuranceType)
	require.NotNil(t, p.SocialInsurance)
	assert.True(t, *p.SocialInsurance)

	_, err = store.GetPatient(ctx, "clinic-2", "+33612345678")
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestMemoryStoreAppointmentLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	later, err := store.CreateAppointment(ctx, Appointment{ClinicID: "clinic-1", PatientID: "p-1", StartsAt: base.Add(48 * time.Hour)})
	require.NoError(t, err)
	sooner, err := store.CreateAppointment(ctx, Appointment{ClinicID: "clinic-1", PatientID: "p-1", StartsAt: base})
	require.NoError(t, err)
	_, err = store.CreateAppointment(ctx, Appointment{ClinicID: "clinic-1", PatientID: "p-1", StartsAt: base.Add(-48 * time.Hour)})
	require.NoError(t, err)

	upcoming, err := store.ListUpcomingAppointments(ctx, "clinic-1", "p-1", base)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, sooner.ID, upcoming[0].ID)
	assert.Equal(t, later.ID, upcoming[1].ID)

	require.NoError(t, store.CancelAppointment(ctx, sooner.ID))
	upcoming, err = store.ListUpcomingAppointments(ctx, "clinic-1", "p-1", base)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Len(t, store.Appointments(), 3)

	moved := base.Add(72 * time.Hour)
	require.NoError(t, store.RescheduleAppointment(ctx, later.ID, moved, moved.Add(30*time.Minute)))
	upcoming, err = store.ListUpcomingAppointments(ctx, "clinic-1", "p-1", base)
	require.NoError(t, err)
	assert.True(t, moved.Equal(upcoming[0].StartsAt))

	returning, err := store.HasConfirmedAppointment(ctx, "clinic-1", "p-1")
	require.NoError(t, err)
	assert.True(t, returning)
	returning, err = store.HasConfirmedAppointment(ctx, "clinic-1", "p-9")
	require.NoError(t, err)
	assert.False(t, returning)

	assert.ErrorIs(t, store.CancelAppointment(ctx, "nope"), ErrAppointmentNotFound)
}
