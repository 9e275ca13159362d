package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockAudit(t *testing.T) (*AuditService, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	svc := newAuditService(mock)
	svc.now = func() time.Time { return time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC) }
	return svc, mock
}

func ptr(s string) *string { return &s }

func TestAuditServiceLogReplyRejected(t *testing.T) {
	svc, mock := newMockAudit(t)
	details, err := json.Marshal(AuditDetails{Violations: []string{"parking:parking gratuit"}, Topic: "parking"})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO compliance_audit_events").
		WithArgs(
			pgxmock.AnyArg(),
			"dialogue.reply_rejected",
			"clinic-1",
			ptr("conv-1"),
			ptr("Je suis au [PHONE], où se garer ?"),
			ptr("Un parking gratuit est au sous-sol."),
			details,
			time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = svc.LogReplyRejected(context.Background(), "clinic-1", "conv-1",
		"Je suis au 06 12 34 56 78, où se garer ?", "Un parking gratuit est au sous-sol.",
		"parking", []string{"parking:parking gratuit"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditServiceLogFallback(t *testing.T) {
	svc, mock := newMockAudit(t)

	mock.ExpectExec("INSERT INTO compliance_audit_events").
		WithArgs(pgxmock.AnyArg(), "dialogue.reply_fallback", "clinic-1", ptr("conv-1"), (*string)(nil), (*string)(nil), []byte(`{"fallback_reason":"validator"}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, svc.LogFallback(context.Background(), "clinic-1", "conv-1", "validator"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditServiceLogEventError(t *testing.T) {
	svc, mock := newMockAudit(t)

	mock.ExpectExec("INSERT INTO compliance_audit_events").
		WillReturnError(errors.New("connection reset"))

	err := svc.LogEvent(context.Background(), AuditEvent{EventType: EventReplyFallback, ClinicID: "clinic-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compliance: log audit event")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAuditServicePanicsWithoutPool(t *testing.T) {
	assert.Panics(t, func() { NewAuditService(nil) })
}
