// Package file provides JSON-document persistence on the local file system.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
)

// Persistence implements persistence.Persistence using one directory per collection.
type Persistence struct {
	root       string
	executions *ExecutionRepository
	healing    *HealingRepository
	alertRules *AlertRuleRepository
}

// NewPersistence creates a file store rooted at root. A "file://" prefix is accepted.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:       cleanRoot,
		executions: &ExecutionRepository{docs: newCollection[models.Execution](cleanRoot, "executions")},
		healing:    &HealingRepository{docs: newCollection[models.HealingEntry](cleanRoot, "healing_history")},
		alertRules: &AlertRuleRepository{docs: newCollection[models.AlertRule](cleanRoot, "alert_rules")},
	}
}

func (fp *Persistence) Executions() persistence.ExecutionRepository {
	return fp.executions
}

func (fp *Persistence) HealingHistory() persistence.HealingRepository {
	return fp.healing
}

func (fp *Persistence) AlertRules() persistence.AlertRuleRepository {
	return fp.alertRules
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}
