package engine

import (
	"errors"
	"fmt"
)

var (
	ErrMissingExecutionID = errors.New("engine accepted the execution without an id")
	ErrInvalidConfig      = errors.New("invalid engine client configuration")
)

// StatusError is a non-2xx response. Body carries at most maxBodySnippet bytes.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Retryable reports whether the response suggests a later attempt may succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// TransportError is a failure before any response was read.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
