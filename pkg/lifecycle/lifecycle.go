// Package lifecycle encodes the execution record state machine.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/qmuntal/stateless"
)

// Trigger is an event that moves an execution between states.
type Trigger string

const (
	TriggerDispatch Trigger = "dispatch" // Worker picked the job up
	TriggerSucceed  Trigger = "succeed"  // Engine reported success
	TriggerRetry    Trigger = "retry"    // Attempt failed, attempts remain
	TriggerFail     Trigger = "fail"     // Attempts exhausted or engine reported an error
	TriggerTimeout  Trigger = "timeout"  // Poll phase exceeded its timeout
	TriggerCancel   Trigger = "cancel"
)

// ErrInvalidTransition is returned when a trigger is not permitted from the current state.
var ErrInvalidTransition = errors.New("invalid execution status transition")

func configure(sm *stateless.StateMachine) {
	sm.Configure(models.ExecutionStatusQueued).
		Permit(TriggerDispatch, models.ExecutionStatusRunning).
		Permit(TriggerCancel, models.ExecutionStatusCanceled)

	sm.Configure(models.ExecutionStatusRunning).
		Permit(TriggerSucceed, models.ExecutionStatusSuccess).
		Permit(TriggerRetry, models.ExecutionStatusQueued).
		Permit(TriggerFail, models.ExecutionStatusFailed).
		Permit(TriggerTimeout, models.ExecutionStatusTimedOut).
		Permit(TriggerCancel, models.ExecutionStatusCanceled)

	// Terminal states have no exits.
	sm.Configure(models.ExecutionStatusSuccess)
	sm.Configure(models.ExecutionStatusFailed)
	sm.Configure(models.ExecutionStatusTimedOut)
	sm.Configure(models.ExecutionStatusCanceled)
}

func machine(current *models.ExecutionStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return *current, nil
		},
		func(_ context.Context, state stateless.State) error {
			status, ok := state.(models.ExecutionStatus)
			if !ok {
				return fmt.Errorf("unexpected state %v", state)
			}

			*current = status

			return nil
		},
		stateless.FiringImmediate,
	)
	configure(sm)

	return sm
}

// Next returns the status reached by firing trigger from the status from.
func Next(from models.ExecutionStatus, trigger Trigger) (models.ExecutionStatus, error) {
	if !from.Valid() {
		return from, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}

	current := from

	err := machine(&current).Fire(trigger)
	if err != nil {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, from)
	}

	return current, nil
}

// Can reports whether trigger is permitted from the status from.
func Can(from models.ExecutionStatus, trigger Trigger) bool {
	if !from.Valid() {
		return false
	}

	current := from

	ok, err := machine(&current).CanFire(trigger)

	return err == nil && ok
}

// Apply fires trigger against the execution's status and updates it in place.
func Apply(execution *models.Execution, trigger Trigger) error {
	next, err := Next(execution.Status, trigger)
	if err != nil {
		return err
	}

	execution.Status = next

	return nil
}
