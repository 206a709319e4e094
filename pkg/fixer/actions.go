package fixer

import (
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/flowmedic/pkg/classifier"
	"github.com/dukex/flowmedic/pkg/models"
)

const defaultNodeTimeoutMs = 10000

// Action edits a working copy of a workflow for one fix step.
type Action interface {
	// Apply mutates nodes in place and describes what changed.
	Apply(nodes []*models.WorkflowNode, params map[string]any) (string, error)
}

// Restorer is implemented by actions whose edits can be undone by copying the
// touched fields back from the backup.
type Restorer interface {
	Restore(node, backup *models.WorkflowNode)
}

// Registry maps step action names to their implementation.
type Registry struct {
	actions map[string]Action
}

func NewRegistry() *Registry {
	r := &Registry{actions: make(map[string]Action)}

	r.Register(classifier.ActionIncreaseTimeout, increaseTimeout{})
	r.Register(classifier.ActionSetRetryOnFail, setRetryOnFail{})
	r.Register(classifier.ActionSetContinueOnFail, setContinueOnFail{})
	r.Register(classifier.ActionRefreshCredentials, refreshCredentials{})
	r.Register(classifier.ActionRewriteExpression, rewriteExpression{})

	return r
}

func (r *Registry) Register(name string, action Action) {
	r.actions[name] = action
}

func (r *Registry) Get(name string) (Action, error) {
	action, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}

	return action, nil
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.actions))
}

type increaseTimeout struct{}

func (increaseTimeout) Apply(nodes []*models.WorkflowNode, params map[string]any) (string, error) {
	factor := floatParam(params, "factor", 2)
	maxMs := intParam(params, "max_ms", 300000)
	fallback := intParam(params, "current_ms", defaultNodeTimeoutMs)

	changed := 0

	for _, node := range nodes {
		options, _ := node.Parameters["options"].(map[string]any)

		current := fallback
		if options != nil {
			if value, ok := toInt(options["timeout"]); ok && value > 0 {
				current = value
			}
		}

		next := min(int(float64(current)*factor), maxMs)
		if next <= current {
			continue
		}

		if node.Parameters == nil {
			node.Parameters = make(map[string]any)
		}

		if options == nil {
			options = make(map[string]any)
			node.Parameters["options"] = options
		}

		options["timeout"] = next
		changed++
	}

	if changed == 0 {
		return "", fmt.Errorf("%w: timeout already at %dms", ErrNoChange, maxMs)
	}

	return fmt.Sprintf("raised timeout on %d node(s), capped at %dms", changed, maxMs), nil
}

func (increaseTimeout) Restore(node, backup *models.WorkflowNode) {
	var previous any

	if options, ok := backup.Parameters["options"].(map[string]any); ok {
		previous = options["timeout"]
	}

	options, ok := node.Parameters["options"].(map[string]any)
	if !ok {
		return
	}

	if previous == nil {
		delete(options, "timeout")

		if len(options) == 0 {
			if _, hadOptions := backup.Parameters["options"]; !hadOptions {
				delete(node.Parameters, "options")
			}
		}

		if len(node.Parameters) == 0 && backup.Parameters == nil {
			node.Parameters = nil
		}

		return
	}

	options["timeout"] = previous
}

type setRetryOnFail struct{}

func (setRetryOnFail) Apply(nodes []*models.WorkflowNode, params map[string]any) (string, error) {
	maxTries := intParam(params, "max_tries", 3)
	waitMs := intParam(params, "wait_ms", 1000)

	for _, node := range nodes {
		node.RetryOnFail = true
		node.MaxTries = maxTries
		node.WaitBetweenTries = waitMs
	}

	return fmt.Sprintf("enabled retry on fail (%d tries, %dms apart) on %d node(s)", maxTries, waitMs, len(nodes)), nil
}

func (setRetryOnFail) Restore(node, backup *models.WorkflowNode) {
	node.RetryOnFail = backup.RetryOnFail
	node.MaxTries = backup.MaxTries
	node.WaitBetweenTries = backup.WaitBetweenTries
}

type setContinueOnFail struct{}

func (setContinueOnFail) Apply(nodes []*models.WorkflowNode, _ map[string]any) (string, error) {
	for _, node := range nodes {
		node.ContinueOnFail = true
	}

	return fmt.Sprintf("enabled continue on fail on %d node(s)", len(nodes)), nil
}

func (setContinueOnFail) Restore(node, backup *models.WorkflowNode) {
	node.ContinueOnFail = backup.ContinueOnFail
}

// refreshCredentials points a node at an operator-supplied credential. The
// previous credential may already be revoked, so there is nothing to restore.
type refreshCredentials struct{}

func (refreshCredentials) Apply(nodes []*models.WorkflowNode, params map[string]any) (string, error) {
	id, _ := params["credential_id"].(string)
	if id == "" {
		return "", fmt.Errorf("%w: credential_id", ErrMissingParameter)
	}

	name, _ := params["credential_name"].(string)
	credentialType, _ := params["credential_type"].(string)

	for _, node := range nodes {
		kind := credentialType
		if kind == "" {
			if len(node.Credentials) != 1 {
				return "", fmt.Errorf("%w: credential_type for node %s", ErrMissingParameter, node.Name)
			}

			for existing := range node.Credentials {
				kind = existing
			}
		}

		if node.Credentials == nil {
			node.Credentials = make(map[string]any)
		}

		node.Credentials[kind] = map[string]any{"id": id, "name": name}
	}

	return fmt.Sprintf("switched %d node(s) to credential %s", len(nodes), id), nil
}

type rewriteExpression struct{}

func (rewriteExpression) Apply(nodes []*models.WorkflowNode, params map[string]any) (string, error) {
	parameter, _ := params["parameter"].(string)
	if parameter == "" {
		return "", fmt.Errorf("%w: parameter", ErrMissingParameter)
	}

	expression, ok := params["expression"].(string)
	if !ok {
		return "", fmt.Errorf("%w: expression", ErrMissingParameter)
	}

	for _, node := range nodes {
		if node.Parameters == nil {
			node.Parameters = make(map[string]any)
		}

		node.Parameters[parameter] = expression
	}

	return fmt.Sprintf("rewrote %s on %d node(s)", parameter, len(nodes)), nil
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func intParam(params map[string]any, key string, fallback int) int {
	if value, ok := toInt(params[key]); ok {
		return value
	}

	return fallback
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	default:
		return fallback
	}
}
