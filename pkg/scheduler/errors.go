package scheduler

import "errors"

var (
	// ErrClosed is returned once the scheduler stopped accepting and handing out work.
	ErrClosed = errors.New("scheduler closed")

	// ErrCanceled is returned to a worker whose job was canceled before it started.
	ErrCanceled = errors.New("execution canceled")

	ErrInvalidRequest = errors.New("invalid enqueue request")
)
