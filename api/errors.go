package api

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is to classify an error returned by a session.
var (
	// ErrLaunch means the backend process or connection could not be
	// established.
	ErrLaunch = errors.New("launch error")
	// ErrNavigation means the URL is malformed, unreachable, or the page
	// did not load in time.
	ErrNavigation = errors.New("navigation error")
	// ErrAction is the kind of every *ActionError.
	ErrAction = errors.New("action error")
	// ErrActionTimeout means the wait of an action exceeded its bound.
	ErrActionTimeout = errors.New("action timeout")
	// ErrBackend means the backend failed to carry out an action for a
	// reason other than a timeout, like a lost connection.
	ErrBackend = errors.New("backend error")
	// ErrTeardown is only ever logged. Closing a session never fails.
	ErrTeardown = errors.New("teardown fault")
	// ErrInvalidSettings means the browser settings were rejected.
	ErrInvalidSettings = errors.New("invalid browser settings")
)

// ActionErrorReason tells why an action was refused.
type ActionErrorReason string

// Action error reasons.
const (
	ReasonInvalidCoordinate ActionErrorReason = "InvalidCoordinate"
	ReasonNotLaunched       ActionErrorReason = "NotLaunched"
	ReasonClosed            ActionErrorReason = "Closed"
	ReasonBusy              ActionErrorReason = "Busy"
)

// Sentinels for matching action errors by reason with errors.Is.
var (
	ErrInvalidCoordinate = &ActionError{Reason: ReasonInvalidCoordinate}
	ErrNotLaunched       = &ActionError{Reason: ReasonNotLaunched}
	ErrClosed            = &ActionError{Reason: ReasonClosed}
	ErrBusy              = &ActionError{Reason: ReasonBusy}
)

// ActionError is returned when an action gets invalid input or is called
// in a state that does not allow it.
type ActionError struct {
	Reason ActionErrorReason
	Err    error
}

// NewActionError returns an action error for reason with a cause.
func NewActionError(reason ActionErrorReason, format string, args ...any) *ActionError {
	return &ActionError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

func (e *ActionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s(%s)", ErrAction, e.Reason)
	}
	return fmt.Sprintf("%s(%s): %v", ErrAction, e.Reason, e.Err)
}

// Unwrap returns the cause.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// Is matches ErrAction and any *ActionError with the same reason.
func (e *ActionError) Is(target error) bool {
	if target == ErrAction { //nolint:errorlint
		return true
	}
	t, ok := target.(*ActionError) //nolint:errorlint
	return ok && t.Reason == e.Reason
}

// Error is a launch, navigation or timeout failure of a backend operation.
type Error struct {
	// Kind is one of ErrLaunch, ErrNavigation, ErrActionTimeout or
	// ErrBackend.
	Kind    error
	Op      string
	Backend BackendKind
	Err     error
}

// NewError returns an *Error of the given kind.
func NewError(kind error, backend BackendKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Backend: backend, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s %s: %v", e.Kind, e.Backend, e.Op, e.Err)
}

// Unwrap returns both the kind and the cause so that errors.Is matches
// either.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
