package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// HealingRepository keeps the append-only healing history.
type HealingRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *HealingRepository) Append(ctx context.Context, entry *models.HealingEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	document, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal healing entry: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO healing_entries (id, execution_id, workflow_id, outcome, created_at, document)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.ExecutionID, entry.WorkflowID, entry.Outcome, entry.CreatedAt, document,
	)
	if err != nil {
		return fmt.Errorf("failed to append healing entry %s: %w", entry.ID, err)
	}

	return nil
}

func (r *HealingRepository) Find(ctx context.Context, filter persistence.HealingFilter, limit int) ([]*models.HealingEntry, error) {
	where, args := healingConditions(filter)

	query := "SELECT document FROM healing_entries" + where + " ORDER BY created_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query healing entries: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	entries := []*models.HealingEntry{}

	for rows.Next() {
		var document []byte

		err := rows.Scan(&document)
		if err != nil {
			return nil, fmt.Errorf("failed to scan healing entry: %w", err)
		}

		var entry models.HealingEntry

		err = json.Unmarshal(document, &entry)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal healing entry: %w", err)
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

func (r *HealingRepository) Count(ctx context.Context, filter persistence.HealingFilter) (int, error) {
	where, args := healingConditions(filter)

	var count int

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM healing_entries"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count healing entries: %w", err)
	}

	return count, nil
}

func healingConditions(filter persistence.HealingFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)

	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, strings.ReplaceAll(condition, "?", "$"+strconv.Itoa(len(args))))
	}

	if filter.WorkflowID != "" {
		add("workflow_id = ?", filter.WorkflowID)
	}

	if filter.ExecutionID != "" {
		add("execution_id = ?", filter.ExecutionID)
	}

	if len(filter.Outcomes) > 0 {
		add("outcome = ANY(?)", pq.Array(toStrings(filter.Outcomes)))
	}

	if !filter.Since.IsZero() {
		add("created_at >= ?", filter.Since)
	}

	if len(conditions) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}
