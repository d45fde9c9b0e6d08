package call

import (
	"errors"
	"fmt"
)

var (
	ErrMediaUnavailable      = errors.New("local media unavailable")
	ErrInvalidSignalingState = errors.New("invalid signaling state")
	ErrTransportFailure      = errors.New("transport failure")
	ErrCallCancelled         = errors.New("call cancelled")
	ErrCallDeclined          = errors.New("peer declined the call")
	ErrBusy                  = errors.New("peer is busy")
	ErrNoAnswer              = errors.New("no answer")
	ErrInvalidPeer           = errors.New("invalid peer identity")
	ErrNoIncomingCall        = errors.New("no incoming call")
	ErrNoActiveCall          = errors.New("no active call")
	ErrAlreadyInCall         = errors.New("already in a call")
	ErrClosed                = errors.New("call machine closed")
)

// CallError records the operation that failed and the underlying cause.
type CallError struct {
	Op      string
	Err     error
	Details string
}

func (e *CallError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *CallError {
	return &CallError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *CallError {
	return &CallError{Op: op, Err: err, Details: details}
}
