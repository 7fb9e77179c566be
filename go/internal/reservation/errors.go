package reservation

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a command failed.
type ErrorKind int

const (
	// ErrLocalValidation means required input was missing; nothing was sent.
	ErrLocalValidation ErrorKind = iota + 1
	// ErrRejected means the authority processed the request and declined it.
	ErrRejected
	// ErrUnreachable means no usable answer was received from the authority.
	ErrUnreachable
)

func (k ErrorKind) String() string {
	switch k {
	case ErrLocalValidation:
		return "local_validation"
	case ErrRejected:
		return "rejected"
	case ErrUnreachable:
		return "unreachable"
	}
	return fmt.Sprintf("error_kind(%d)", int(k))
}

// CommandError is the terminal outcome of a failed command.
type CommandError struct {
	Kind       ErrorKind
	Op         Op
	Device     string
	StatusCode int
	// Holder is the current holder on a reserve conflict.
	Holder  string
	Message string
	Cause   error
}

func (e *CommandError) Error() string {
	if e.Cause != nil && e.Kind == ErrUnreachable {
		return fmt.Sprintf("%s %s: %s (%v)", e.Op, e.Device, e.Message, e.Cause)
	}
	return e.Message
}

func (e *CommandError) Unwrap() error { return e.Cause }

func kindOf(err error) ErrorKind {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Kind
	}
	return 0
}

func IsLocalValidation(err error) bool { return kindOf(err) == ErrLocalValidation }
func IsRejected(err error) bool        { return kindOf(err) == ErrRejected }
func IsUnreachable(err error) bool     { return kindOf(err) == ErrUnreachable }
