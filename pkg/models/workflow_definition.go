package models

import (
	"encoding/json"
	"fmt"
)

// WorkflowDefinition is the engine's document for one workflow. The orchestrator never
// interprets the node graph; it only edits node settings when applying fixes.
type WorkflowDefinition struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Active      bool            `json:"active"`
	Nodes       []*WorkflowNode `json:"nodes"`
	Connections map[string]any  `json:"connections,omitempty"`
	Settings    map[string]any  `json:"settings,omitempty"`
}

// WorkflowNode is a single node of an engine workflow.
type WorkflowNode struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Type             string         `json:"type"`
	TypeVersion      float64        `json:"typeVersion,omitempty"`
	Position         []float64      `json:"position,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	Credentials      map[string]any `json:"credentials,omitempty"`
	RetryOnFail      bool           `json:"retryOnFail,omitempty"`
	MaxTries         int            `json:"maxTries,omitempty"`
	WaitBetweenTries int            `json:"waitBetweenTries,omitempty"`
	ContinueOnFail   bool           `json:"continueOnFail,omitempty"`
	Disabled         bool           `json:"disabled,omitempty"`
}

// WorkflowSummary is the listing form returned by the engine.
type WorkflowSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Clone returns a deep copy of the definition.
func (w *WorkflowDefinition) Clone() (*WorkflowDefinition, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to copy workflow %s: %w", w.ID, err)
	}

	var clone WorkflowDefinition

	err = json.Unmarshal(data, &clone)
	if err != nil {
		return nil, fmt.Errorf("failed to copy workflow %s: %w", w.ID, err)
	}

	return &clone, nil
}

// Node returns the node with the given name, or nil.
func (w *WorkflowDefinition) Node(name string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.Name == name {
			return node
		}
	}

	return nil
}
