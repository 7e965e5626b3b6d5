package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession means the operation needs an active session and there is none.
	ErrNoSession = errors.New("no active session")
	// ErrBusy means another operation is still in flight for the session.
	ErrBusy = errors.New("another operation is in progress")
	// ErrSessionActive means a session must be deleted before a new one is created.
	ErrSessionActive = errors.New("a session is already active")
	// ErrStaleSession means the handle was deleted or replaced.
	ErrStaleSession = errors.New("session is no longer active")
)

// ValidationError reports bad input caught before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("session: invalid %s: %s", e.Field, e.Reason)
}

// PreconditionError reports an operation attempted without the session state
// it requires. Err is one of the sentinels above.
type PreconditionError struct {
	Op  string
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("session: cannot %s: %v", e.Op, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func precondition(op string, err error) error {
	return &PreconditionError{Op: op, Err: err}
}
