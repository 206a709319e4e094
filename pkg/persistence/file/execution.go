package file

import (
	"context"
	"errors"
	"slices"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
)

// ExecutionRepository handles execution record file operations.
type ExecutionRepository struct {
	docs *collection[models.Execution]
}

func (r *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	r.docs.mu.Lock()
	defer r.docs.mu.Unlock()

	err := validateID(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	if r.docs.exists(execution.ID) {
		return persistence.NewExecutionError("Save", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	err = r.docs.write(execution.ID, execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) Get(_ context.Context, id string) (*models.Execution, error) {
	r.docs.mu.Lock()
	defer r.docs.mu.Unlock()

	execution, err := r.docs.read(id)
	if err != nil {
		return nil, persistence.NewExecutionError("Get", id, notFound(err, persistence.ErrExecutionNotFound))
	}

	return execution, nil
}

func (r *ExecutionRepository) Update(_ context.Context, id string, expected models.ExecutionStatus, mutate func(*models.Execution)) (*models.Execution, error) {
	r.docs.mu.Lock()
	defer r.docs.mu.Unlock()

	execution, err := r.docs.read(id)
	if err != nil {
		return nil, persistence.NewExecutionError("Update", id, notFound(err, persistence.ErrExecutionNotFound))
	}

	if execution.Status != expected {
		return execution, persistence.NewExecutionError("Update", id, persistence.ErrStatusConflict)
	}

	mutate(execution)
	execution.ID = id

	err = r.docs.write(id, execution)
	if err != nil {
		return nil, persistence.NewExecutionError("Update", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) Find(_ context.Context, filter persistence.ExecutionFilter, limit int, order persistence.SortOrder) ([]*models.Execution, error) {
	r.docs.mu.Lock()
	all, err := r.docs.all()
	r.docs.mu.Unlock()

	if err != nil {
		return nil, err
	}

	matched := make([]*models.Execution, 0, len(all))

	for _, execution := range all {
		if filter.Match(execution) {
			matched = append(matched, execution)
		}
	}

	slices.SortStableFunc(matched, func(a, b *models.Execution) int {
		if order == persistence.OldestFirst {
			return a.CreatedAt.Compare(b.CreatedAt)
		}

		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, errDocumentNotFound) {
		return sentinel
	}

	return err
}
