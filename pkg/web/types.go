// Package web provides HTTP request and response types for the operator control API.
package web

import (
	"time"

	"github.com/dukex/flowmedic/pkg/models"
)

// ClassifyRequest carries a failure to classify without recording anything.
type ClassifyRequest struct {
	Message    string         `json:"message"     validate:"required"`
	NodeName   string         `json:"node_name"`
	NodeType   string         `json:"node_type"`
	HTTPStatus int            `json:"http_status" validate:"omitempty,min=100,max=599"`
	Context    map[string]any `json:"context"`
}

func (r ClassifyRequest) executionError() *models.ExecutionError {
	return &models.ExecutionError{
		Message:    r.Message,
		NodeName:   r.NodeName,
		NodeType:   r.NodeType,
		HTTPStatus: r.HTTPStatus,
		Context:    r.Context,
	}
}

type ClassifyResponse struct {
	Classification *models.Classification `json:"classification"`
	Strategy       *models.FixStrategy    `json:"strategy,omitempty"`
}

// UpdateAlertRuleRequest is a partial update. Durations use Go syntax, e.g. "30m".
type UpdateAlertRuleRequest struct {
	Name       *string               `json:"name,omitempty"        validate:"omitempty,min=1"`
	Operator   *models.AlertOperator `json:"operator,omitempty"    validate:"omitempty,oneof=gt gte lt lte eq"`
	Threshold  *float64              `json:"threshold,omitempty"`
	TimeWindow *string               `json:"time_window,omitempty"`
	Cooldown   *string               `json:"cooldown,omitempty"`
	Enabled    *bool                 `json:"enabled,omitempty"`
}

func (r UpdateAlertRuleRequest) apply(rule *models.AlertRule) error {
	if r.Name != nil {
		rule.Name = *r.Name
	}

	if r.Operator != nil {
		rule.Operator = *r.Operator
	}

	if r.Threshold != nil {
		rule.Threshold = *r.Threshold
	}

	if r.Enabled != nil {
		rule.Enabled = *r.Enabled
	}

	if r.TimeWindow != nil {
		window, err := time.ParseDuration(*r.TimeWindow)
		if err != nil {
			return err
		}

		rule.TimeWindow = window
	}

	if r.Cooldown != nil {
		cooldown, err := time.ParseDuration(*r.Cooldown)
		if err != nil {
			return err
		}

		rule.Cooldown = cooldown
	}

	return nil
}

type ExecutionListResponse struct {
	Executions []*models.Execution `json:"executions"`
	Count      int                 `json:"count"`
}

type HealingHistoryResponse struct {
	Entries []*models.HealingEntry `json:"entries"`
	Count   int                    `json:"count"`
}
