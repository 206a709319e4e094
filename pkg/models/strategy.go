package models

// FixStep is one ordered action of a fix strategy.
type FixStep struct {
	Order        int            `json:"order"        yaml:"order"        validate:"min=1"`
	Action       string         `json:"action"       yaml:"action"       validate:"required"`
	Parameters   map[string]any `json:"parameters"   yaml:"parameters"`
	Rollbackable bool           `json:"rollbackable" yaml:"rollbackable"`
	Description  string         `json:"description"  yaml:"description"`
}

// FixStrategy is an ordered, partially rollbackable remediation for one error type.
type FixStrategy struct {
	ID                       string    `json:"id"                         yaml:"id"                         validate:"required"`
	ErrorType                ErrorType `json:"error_type"                 yaml:"error_type"                 validate:"required"`
	Steps                    []FixStep `json:"steps"                      yaml:"steps"                      validate:"required,min=1,dive"`
	RequiresApproval         bool      `json:"requires_approval"          yaml:"requires_approval"`
	EstimatedDurationSeconds int       `json:"estimated_duration_seconds" yaml:"estimated_duration_seconds"`
	Description              string    `json:"description"                yaml:"description"`
}

// FixStatus is the overall result of applying a strategy.
type FixStatus string

const (
	FixStatusFixed   FixStatus = "fixed"
	FixStatusFailed  FixStatus = "failed"
	FixStatusPending FixStatus = "pending" // Dry run, nothing was changed
)

// StepResult records what happened to one step.
type StepResult struct {
	Order       int    `json:"order"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
	Simulated   bool   `json:"simulated,omitempty"`
	RolledBack  bool   `json:"rolled_back,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ValidationRun is the execution used to judge whether a fix worked.
type ValidationRun struct {
	ExecutionID string          `json:"execution_id"`
	Status      ExecutionStatus `json:"status"`
	Error       *ExecutionError `json:"error,omitempty"`
}

// FixResult is returned by the fix strategy executor.
type FixResult struct {
	StrategyID   string              `json:"strategy_id"`
	Status       FixStatus           `json:"status"`
	AppliedSteps []StepResult        `json:"applied_steps"`
	FailedStep   *StepResult         `json:"failed_step,omitempty"`
	TestResult   *ValidationRun      `json:"test_result,omitempty"`
	RolledBack   bool                `json:"rolled_back"`
	Inconsistent bool                `json:"inconsistent"` // A non-rollbackable step stayed applied after a failure
	Backup       *WorkflowDefinition `json:"backup,omitempty"`
	Preview      *WorkflowDefinition `json:"preview,omitempty"` // Dry run result
	Message      string              `json:"message,omitempty"`
}
