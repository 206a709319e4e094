package file

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
)

type AlertRuleRepository struct {
	docs *collection[models.AlertRule]
}

func (r *AlertRuleRepository) List(_ context.Context) ([]*models.AlertRule, error) {
	r.docs.mu.Lock()
	defer r.docs.mu.Unlock()

	rules, err := r.docs.all()
	if err != nil {
		return nil, err
	}

	slices.SortFunc(rules, func(a, b *models.AlertRule) int {
		return strings.Compare(a.ID, b.ID)
	})

	return rules, nil
}

func (r *AlertRuleRepository) Get(_ context.Context, id string) (*models.AlertRule, error) {
	r.docs.mu.Lock()
	defer r.docs.mu.Unlock()

	rule, err := r.docs.read(id)
	if err != nil {
		return nil, fmt.Errorf("alert rule %s: %w", id, notFound(err, persistence.ErrAlertRuleNotFound))
	}

	return rule, nil
}

func (r *AlertRuleRepository) Save(_ context.Context, rule *models.AlertRule) error {
	r.docs.mu.Lock()
	defer r.docs.mu.Unlock()

	return r.docs.write(rule.ID, rule)
}
