package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDataUnreadable    = errors.New("dataset unreadable")
	ErrOperationFailure  = errors.New("operation failed")
	// ErrJobBusy means another phase holds the job lock; the task may be retried.
	ErrJobBusy           = errors.New("job is busy")
	ErrInvalidSuggestion = errors.New("invalid suggestion")
)

// OperationError reports the transformation step that aborted an apply.
type OperationError struct {
	Step      int
	Operation string
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Operation, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

func (e *OperationError) Is(target error) bool { return target == ErrOperationFailure }
