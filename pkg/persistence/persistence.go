// Package persistence provides the storage abstraction for execution records, healing history and alert rules.
package persistence

import (
	"context"
	"slices"
	"time"

	"github.com/dukex/flowmedic/pkg/models"
)

type Persistence interface {
	Executions() ExecutionRepository
	HealingHistory() HealingRepository
	AlertRules() AlertRuleRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type SortOrder int

const (
	NewestFirst SortOrder = iota
	OldestFirst
)

// ExecutionFilter selects execution records. Zero-valued fields match everything.
type ExecutionFilter struct {
	WorkflowID   string
	Statuses     []models.ExecutionStatus
	Modes        []models.ExecutionMode
	ExcludeModes []models.ExecutionMode
	Since        time.Time
}

func (f ExecutionFilter) Match(execution *models.Execution) bool {
	if f.WorkflowID != "" && execution.WorkflowID != f.WorkflowID {
		return false
	}

	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, execution.Status) {
		return false
	}

	if len(f.Modes) > 0 && !slices.Contains(f.Modes, execution.Mode) {
		return false
	}

	if slices.Contains(f.ExcludeModes, execution.Mode) {
		return false
	}

	return f.Since.IsZero() || !execution.CreatedAt.Before(f.Since)
}

type ExecutionRepository interface {
	// Save inserts a new record. Existing IDs are rejected with ErrExecutionAlreadyExists.
	Save(ctx context.Context, execution *models.Execution) error
	Get(ctx context.Context, id string) (*models.Execution, error)
	// Update applies mutate to the stored record only when its status equals expected,
	// otherwise it returns ErrStatusConflict. The check and write are atomic per record.
	Update(ctx context.Context, id string, expected models.ExecutionStatus, mutate func(*models.Execution)) (*models.Execution, error)
	// Find returns at most limit records (all when limit <= 0) ordered by creation time.
	Find(ctx context.Context, filter ExecutionFilter, limit int, order SortOrder) ([]*models.Execution, error)
}

// HealingFilter selects healing entries. Zero-valued fields match everything.
type HealingFilter struct {
	WorkflowID  string
	ExecutionID string
	Outcomes    []models.HealingOutcome
	Since       time.Time
}

func (f HealingFilter) Match(entry *models.HealingEntry) bool {
	if f.WorkflowID != "" && entry.WorkflowID != f.WorkflowID {
		return false
	}

	if f.ExecutionID != "" && entry.ExecutionID != f.ExecutionID {
		return false
	}

	if len(f.Outcomes) > 0 && !slices.Contains(f.Outcomes, entry.Outcome) {
		return false
	}

	return f.Since.IsZero() || !entry.CreatedAt.Before(f.Since)
}

// HealingRepository is append-only.
type HealingRepository interface {
	Append(ctx context.Context, entry *models.HealingEntry) error
	// Find returns matching entries newest first, at most limit (all when limit <= 0).
	Find(ctx context.Context, filter HealingFilter, limit int) ([]*models.HealingEntry, error)
	Count(ctx context.Context, filter HealingFilter) (int, error)
}

type AlertRuleRepository interface {
	List(ctx context.Context) ([]*models.AlertRule, error)
	Get(ctx context.Context, id string) (*models.AlertRule, error)
	Save(ctx context.Context, rule *models.AlertRule) error
}
