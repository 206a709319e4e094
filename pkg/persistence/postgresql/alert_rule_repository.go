package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
)

type AlertRuleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *AlertRuleRepository) List(ctx context.Context) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT document FROM alert_rules ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	rules := []*models.AlertRule{}

	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, err
		}

		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func (r *AlertRuleRepository) Get(ctx context.Context, id string) (*models.AlertRule, error) {
	rule, err := scanAlertRule(r.db.QueryRowContext(ctx, "SELECT document FROM alert_rules WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("alert rule %s: %w", id, err)
	}

	return rule, nil
}

func (r *AlertRuleRepository) Save(ctx context.Context, rule *models.AlertRule) error {
	document, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal alert rule: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO alert_rules (id, document, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at`,
		rule.ID, document,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert rule %s: %w", rule.ID, err)
	}

	return nil
}

func scanAlertRule(row rowScanner) (*models.AlertRule, error) {
	var document []byte

	err := row.Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrAlertRuleNotFound
		}

		return nil, fmt.Errorf("failed to scan alert rule: %w", err)
	}

	var rule models.AlertRule

	err = json.Unmarshal(document, &rule)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert rule: %w", err)
	}

	return &rule, nil
}
