package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Priority is fixed when an execution is created and drives its dispatch policy.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists every priority from most to least urgent.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// Rank orders priorities for dispatch; lower ranks are dispatched first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// BackoffKind selects how the delay between dispatch attempts grows.
type BackoffKind string

const (
	BackoffNone        BackoffKind = "none"
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

const (
	MaxDispatchAttempts = 100
	// MaxBackoffDelay caps exponential growth unless BaseDelay alone is larger.
	MaxBackoffDelay = time.Hour
)

// DispatchPolicy bounds how often and how fast a failed dispatch is retried.
type DispatchPolicy struct {
	MaxAttempts int           `json:"max_attempts" validate:"min=1,max=100"`
	Backoff     BackoffKind   `json:"backoff"      validate:"oneof=none fixed exponential"`
	BaseDelay   time.Duration `json:"base_delay"   validate:"min=0"`
}

// Delay returns the wait before dispatching attempt+1 after attempt failed.
func (p DispatchPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	switch p.Backoff {
	case BackoffExponential:
		if p.BaseDelay <= 0 {
			return 0
		}

		limit := max(MaxBackoffDelay, p.BaseDelay)
		delay := p.BaseDelay

		for range attempt - 1 {
			if delay > limit/2 {
				return limit
			}

			delay *= 2
		}

		return delay
	case BackoffFixed:
		return p.BaseDelay
	default:
		return 0
	}
}

func (p DispatchPolicy) String() string {
	return fmt.Sprintf("%d/%s/%s", p.MaxAttempts, p.Backoff, p.BaseDelay)
}

// ParseDispatchPolicy parses the "attempts/kind/delay" form, e.g. "5/exponential/2s".
func ParseDispatchPolicy(raw string) (DispatchPolicy, error) {
	parts := strings.Split(strings.TrimSpace(raw), "/")
	if len(parts) != 3 {
		return DispatchPolicy{}, fmt.Errorf("invalid dispatch policy %q: want attempts/kind/delay", raw)
	}

	attempts, err := strconv.Atoi(parts[0])
	if err != nil || attempts < 1 || attempts > MaxDispatchAttempts {
		return DispatchPolicy{}, fmt.Errorf("invalid dispatch policy %q: attempts must be between 1 and %d", raw, MaxDispatchAttempts)
	}

	kind := BackoffKind(parts[1])
	switch kind {
	case BackoffNone, BackoffFixed, BackoffExponential:
	default:
		return DispatchPolicy{}, fmt.Errorf("invalid dispatch policy %q: unknown backoff %q", raw, parts[1])
	}

	delay, err := time.ParseDuration(parts[2])
	if err != nil {
		return DispatchPolicy{}, fmt.Errorf("invalid dispatch policy %q: %w", raw, err)
	}

	return DispatchPolicy{MaxAttempts: attempts, Backoff: kind, BaseDelay: delay}, nil
}

// PolicyTable maps each priority to its dispatch policy.
type PolicyTable map[Priority]DispatchPolicy

// DefaultPolicyTable returns the built-in per-priority dispatch policies.
func DefaultPolicyTable() PolicyTable {
	return PolicyTable{
		PriorityUrgent: {MaxAttempts: 5, Backoff: BackoffExponential, BaseDelay: 2 * time.Second},
		PriorityHigh:   {MaxAttempts: 3, Backoff: BackoffExponential, BaseDelay: 5 * time.Second},
		PriorityNormal: {MaxAttempts: 2, Backoff: BackoffFixed, BaseDelay: 10 * time.Second},
		PriorityLow:    {MaxAttempts: 1, Backoff: BackoffNone},
	}
}

// For returns the policy for p, falling back to the built-in table.
func (t PolicyTable) For(p Priority) DispatchPolicy {
	if policy, ok := t[p]; ok {
		return policy
	}

	return DefaultPolicyTable()[p]
}
