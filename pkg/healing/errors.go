package healing

import "errors"

var (
	ErrCycleInProgress = errors.New("healing cycle already in progress")
	ErrAlreadyStarted  = errors.New("healing loop already started")

	// ErrNotHealable is returned for manual fixes on executions that did not fail.
	ErrNotHealable = errors.New("execution has no failure to heal")
	ErrNoStrategy  = errors.New("no fix strategy for execution")
)
