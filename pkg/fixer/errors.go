package fixer

import "errors"

var (
	ErrApprovalRequired = errors.New("strategy requires operator approval")
	ErrUnknownAction    = errors.New("unknown fix action")
	ErrNodeNotFound     = errors.New("node not found in workflow")
	ErrMissingParameter = errors.New("missing fix parameter")
	ErrNoChange         = errors.New("fix step would not change the workflow")
	ErrInvalidRequest   = errors.New("invalid fix request")
)
