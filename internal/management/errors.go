package management

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is the single error GetAttribute reports, whatever
	// the underlying cause.
	ErrInvalidState     = errors.New("invalid state")
	ErrResourceNotFound = errors.New("resource not found")
	ErrUnauthorized     = errors.New("unauthorized")
)

// OperationError reports a failed InvokeOperation call.
type OperationError struct {
	Resource  string
	Operation string
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s on %s failed: %v", e.Operation, e.Resource, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Call outcomes reported to ObserveCall.
const (
	OutcomeOK           = "ok"
	OutcomeInvalidState = "invalid_state"
	OutcomeDenied       = "denied"
	OutcomeNotFound     = "not_found"
	OutcomeFailed       = "failed"
)
