package file

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecution(id, workflowID string, createdAt time.Time) *models.Execution {
	return &models.Execution{
		ID:          id,
		WorkflowID:  workflowID,
		Status:      models.ExecutionStatusQueued,
		Priority:    models.PriorityNormal,
		Mode:        models.ExecutionModeManual,
		Attempt:     1,
		MaxAttempts: 2,
		Input:       map[string]any{"order": "A-1"},
		CreatedAt:   createdAt,
	}
}

func TestNewPersistence_StripsScheme(t *testing.T) {
	root := t.TempDir()
	p := NewPersistence("file://" + root)

	assert.Equal(t, root, p.root)
	require.NoError(t, p.HealthCheck(context.Background()))
	require.NoError(t, p.Close(context.Background()))

	missing := NewPersistence(root + "/missing")
	require.Error(t, missing.HealthCheck(context.Background()))
}

func TestExecutionRepository_SaveGet(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).Executions()

	execution := newExecution("exec-1", "wf-1", time.Now().UTC())
	require.NoError(t, repo.Save(ctx, execution))

	got, err := repo.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, "A-1", got.Input["order"])

	err = repo.Save(ctx, execution)
	require.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)

	_, err = repo.Get(ctx, "exec-missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_RejectsPathTraversal(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).Executions()

	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		_, err := repo.Get(ctx, id)
		require.ErrorIs(t, err, persistence.ErrInvalidID, id)
	}
}

func TestExecutionRepository_UpdateCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).Executions()
	require.NoError(t, repo.Save(ctx, newExecution("exec-1", "wf-1", time.Now().UTC())))

	updated, err := repo.Update(ctx, "exec-1", models.ExecutionStatusQueued, func(e *models.Execution) {
		e.Status = models.ExecutionStatusRunning
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, updated.Status)

	current, err := repo.Update(ctx, "exec-1", models.ExecutionStatusQueued, func(e *models.Execution) {
		e.Status = models.ExecutionStatusCanceled
	})
	require.ErrorIs(t, err, persistence.ErrStatusConflict)
	assert.Equal(t, models.ExecutionStatusRunning, current.Status)

	_, err = repo.Update(ctx, "exec-missing", models.ExecutionStatusQueued, func(*models.Execution) {})
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestExecutionRepository_ConcurrentUpdatesHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).Executions()
	require.NoError(t, repo.Save(ctx, newExecution("exec-1", "wf-1", time.Now().UTC())))

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := repo.Update(ctx, "exec-1", models.ExecutionStatusQueued, func(e *models.Execution) {
				e.Status = models.ExecutionStatusRunning
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestExecutionRepository_Find(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).Executions()
	base := time.Now().UTC()

	for i, id := range []string{"exec-1", "exec-2", "exec-3"} {
		execution := newExecution(id, "wf-1", base.Add(time.Duration(i)*time.Minute))
		execution.Status = models.ExecutionStatusFailed
		require.NoError(t, repo.Save(ctx, execution))
	}

	validation := newExecution("exec-4", "wf-1", base.Add(5*time.Minute))
	validation.Status = models.ExecutionStatusFailed
	validation.Mode = models.ExecutionModeHealingValidation
	require.NoError(t, repo.Save(ctx, validation))

	filter := persistence.ExecutionFilter{
		Statuses:     []models.ExecutionStatus{models.ExecutionStatusFailed},
		ExcludeModes: []models.ExecutionMode{models.ExecutionModeHealingValidation},
	}

	newest, err := repo.Find(ctx, filter, 2, persistence.NewestFirst)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "exec-3", newest[0].ID)
	assert.Equal(t, "exec-2", newest[1].ID)

	oldest, err := repo.Find(ctx, filter, 0, persistence.OldestFirst)
	require.NoError(t, err)
	require.Len(t, oldest, 3)
	assert.Equal(t, "exec-1", oldest[0].ID)
}

func TestHealingRepository_AppendFindCount(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).HealingHistory()
	now := time.Now().UTC()

	for i, outcome := range []models.HealingOutcome{models.HealingOutcomeFixed, models.HealingOutcomeFailed, models.HealingOutcomeRolledBack} {
		entry := &models.HealingEntry{
			ExecutionID: "exec-1",
			WorkflowID:  "wf-1",
			Outcome:     outcome,
			CreatedAt:   now.Add(-time.Duration(i) * time.Hour),
		}
		require.NoError(t, repo.Append(ctx, entry))
		assert.NotEmpty(t, entry.ID)
	}

	require.NoError(t, repo.Append(ctx, &models.HealingEntry{WorkflowID: "wf-2", CreatedAt: now}))

	recent, err := repo.Count(ctx, persistence.HealingFilter{WorkflowID: "wf-1", Since: now.Add(-90 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 2, recent)

	entries, err := repo.Find(ctx, persistence.HealingFilter{WorkflowID: "wf-1"}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.HealingOutcomeFixed, entries[0].Outcome)

	duplicate := *entries[0]
	require.Error(t, repo.Append(ctx, &duplicate))
}

func TestAlertRuleRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).AlertRules()

	rules, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)

	for _, rule := range models.DefaultAlertRules() {
		require.NoError(t, repo.Save(ctx, rule))
	}

	rules, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, len(models.DefaultAlertRules()))

	rule, err := repo.Get(ctx, rules[0].ID)
	require.NoError(t, err)
	assert.Equal(t, rules[0].Name, rule.Name)

	_, err = repo.Get(ctx, "nope")
	assert.True(t, persistence.IsAlertRuleNotFound(err))
}
