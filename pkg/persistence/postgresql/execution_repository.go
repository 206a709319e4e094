package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// ExecutionRepository handles execution record database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	document, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal execution: %w", err))
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, status, mode, created_at, document)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		execution.ID, execution.WorkflowID, execution.Status, execution.Mode, execution.CreatedAt, document,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewExecutionError("Save", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) Get(ctx context.Context, id string) (*models.Execution, error) {
	execution, err := scanExecution(r.db.QueryRowContext(ctx, "SELECT document FROM executions WHERE id = $1", id))
	if err != nil {
		return nil, persistence.NewExecutionError("Get", id, err)
	}

	return execution, nil
}

// Update locks the row for the duration of the compare and write.
func (r *ExecutionRepository) Update(ctx context.Context, id string, expected models.ExecutionStatus, mutate func(*models.Execution)) (*models.Execution, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.NewExecutionError("Update", id, fmt.Errorf("failed to begin transaction: %w", err))
	}

	execution, err := scanExecution(tx.QueryRowContext(ctx, "SELECT document FROM executions WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		_ = tx.Rollback()

		return nil, persistence.NewExecutionError("Update", id, err)
	}

	if execution.Status != expected {
		_ = tx.Rollback()

		return execution, persistence.NewExecutionError("Update", id, persistence.ErrStatusConflict)
	}

	mutate(execution)
	execution.ID = id

	document, err := json.Marshal(execution)
	if err != nil {
		_ = tx.Rollback()

		return nil, persistence.NewExecutionError("Update", id, fmt.Errorf("failed to marshal execution: %w", err))
	}

	_, err = tx.ExecContext(ctx, "UPDATE executions SET status = $2, document = $3 WHERE id = $1", id, execution.Status, document)
	if err != nil {
		_ = tx.Rollback()

		return nil, persistence.NewExecutionError("Update", id, err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, persistence.NewExecutionError("Update", id, fmt.Errorf("failed to commit: %w", err))
	}

	return execution, nil
}

func (r *ExecutionRepository) Find(ctx context.Context, filter persistence.ExecutionFilter, limit int, order persistence.SortOrder) ([]*models.Execution, error) {
	query, args := buildExecutionQuery(filter, limit, order)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	executions := []*models.Execution{}

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func buildExecutionQuery(filter persistence.ExecutionFilter, limit int, order persistence.SortOrder) (string, []any) {
	var (
		conditions []string
		args       []any
	)

	arg := func(value any) string {
		args = append(args, value)

		return "$" + strconv.Itoa(len(args))
	}

	if filter.WorkflowID != "" {
		conditions = append(conditions, "workflow_id = "+arg(filter.WorkflowID))
	}

	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "status = ANY("+arg(pq.Array(toStrings(filter.Statuses)))+")")
	}

	if len(filter.Modes) > 0 {
		conditions = append(conditions, "mode = ANY("+arg(pq.Array(toStrings(filter.Modes)))+")")
	}

	if len(filter.ExcludeModes) > 0 {
		conditions = append(conditions, "NOT (mode = ANY("+arg(pq.Array(toStrings(filter.ExcludeModes)))+"))")
	}

	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= "+arg(filter.Since))
	}

	query := "SELECT document FROM executions"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	if order == persistence.OldestFirst {
		query += " ORDER BY created_at ASC"
	} else {
		query += " ORDER BY created_at DESC"
	}

	if limit > 0 {
		query += " LIMIT " + arg(limit)
	}

	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var document []byte

	err := row.Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	var execution models.Execution

	err = json.Unmarshal(document, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	return &execution, nil
}

func toStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}

	return out
}
