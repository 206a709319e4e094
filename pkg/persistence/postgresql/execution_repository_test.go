package postgresql

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPersistence(t *testing.T) (*Persistence, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewWithDB(db, slog.New(slog.NewTextHandler(io.Discard, nil))), mock
}

func documentRow(t *testing.T, execution *models.Execution) *sqlmock.Rows {
	t.Helper()

	document, err := json.Marshal(execution)
	require.NoError(t, err)

	return sqlmock.NewRows([]string{"document"}).AddRow(document)
}

func TestExecutionRepository_SaveDuplicate(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectExec("INSERT INTO executions").WillReturnError(&pq.Error{Code: uniqueViolation})

	err := p.Executions().Save(context.Background(), &models.Execution{ID: "exec-1", WorkflowID: "wf-1"})
	require.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_GetNotFound(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectQuery("SELECT document FROM executions WHERE id").
		WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}))

	_, err := p.Executions().Get(context.Background(), "exec-1")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_UpdateLocksAndWrites(t *testing.T) {
	p, mock := newMockPersistence(t)
	stored := &models.Execution{ID: "exec-1", WorkflowID: "wf-1", Status: models.ExecutionStatusQueued, Attempt: 1}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT document FROM executions WHERE id = \\$1 FOR UPDATE").
		WithArgs("exec-1").
		WillReturnRows(documentRow(t, stored))
	mock.ExpectExec("UPDATE executions SET status").
		WithArgs("exec-1", "running", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := p.Executions().Update(context.Background(), "exec-1", models.ExecutionStatusQueued, func(e *models.Execution) {
		e.Status = models.ExecutionStatusRunning
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, updated.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_UpdateConflictRollsBack(t *testing.T) {
	p, mock := newMockPersistence(t)
	stored := &models.Execution{ID: "exec-1", Status: models.ExecutionStatusCanceled}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(documentRow(t, stored))
	mock.ExpectRollback()

	current, err := p.Executions().Update(context.Background(), "exec-1", models.ExecutionStatusRunning, func(e *models.Execution) {
		e.Status = models.ExecutionStatusSuccess
	})
	require.ErrorIs(t, err, persistence.ErrStatusConflict)
	assert.Equal(t, models.ExecutionStatusCanceled, current.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildExecutionQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	query, args := buildExecutionQuery(persistence.ExecutionFilter{
		WorkflowID:   "wf-1",
		Statuses:     []models.ExecutionStatus{models.ExecutionStatusFailed},
		ExcludeModes: []models.ExecutionMode{models.ExecutionModeHealingValidation},
		Since:        since,
	}, 20, persistence.NewestFirst)

	assert.Equal(t,
		"SELECT document FROM executions WHERE workflow_id = $1 AND status = ANY($2) AND NOT (mode = ANY($3)) AND created_at >= $4 ORDER BY created_at DESC LIMIT $5",
		query)
	assert.Len(t, args, 5)
	assert.Equal(t, 20, args[4])

	query, args = buildExecutionQuery(persistence.ExecutionFilter{}, 0, persistence.OldestFirst)
	assert.Equal(t, "SELECT document FROM executions ORDER BY created_at ASC", query)
	assert.Empty(t, args)
}

func TestHealingRepository_Count(t *testing.T) {
	p, mock := newMockPersistence(t)
	since := time.Now().Add(-5 * time.Minute)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM healing_entries WHERE workflow_id = \\$1 AND created_at >= \\$2").
		WithArgs("wf-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := p.HealingHistory().Count(context.Background(), persistence.HealingFilter{WorkflowID: "wf-1", Since: since})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRuleRepository_GetNotFound(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectQuery("SELECT document FROM alert_rules WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"document"}))

	_, err := p.AlertRules().Get(context.Background(), "missing")
	assert.True(t, persistence.IsAlertRuleNotFound(err))
}
