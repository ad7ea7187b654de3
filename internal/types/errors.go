package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies handler failures so callers branch on kind instead
// of matching messages.
type ErrorKind int

const (
	ErrKindNone ErrorKind = iota
	ErrKindValidation
	ErrKindAuthorizationDenied
	ErrKindExecutionFailed
	ErrKindEscalationFailed
	ErrKindFollowUpCreation
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindNone:
		return "none"
	case ErrKindValidation:
		return "validation_error"
	case ErrKindAuthorizationDenied:
		return "authorization_denied"
	case ErrKindExecutionFailed:
		return "execution_failed"
	case ErrKindEscalationFailed:
		return "escalation_failed"
	case ErrKindFollowUpCreation:
		return "follow_up_creation_failed"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ParameterValidationError reports action parameters that do not match
// the expected shape.
type ParameterValidationError struct {
	Expected string
	Err      error
}

func (e *ParameterValidationError) Error() string {
	return fmt.Sprintf("invalid parameters, expected %s: %v", e.Expected, e.Err)
}

func (e *ParameterValidationError) Unwrap() error { return e.Err }

func (e *ParameterValidationError) Kind() ErrorKind { return ErrKindValidation }

// HandlerError is a classified failure inside a handler.
type HandlerError struct {
	Kind   ErrorKind
	Action ActionType
	Op     string
	Err    error
}

func (e *HandlerError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Action, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Action, e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// FollowUpCreationError is the one handler failure that is never masked:
// the thought's status was written but its continuation could not be.
type FollowUpCreationError struct {
	ThoughtID string
	Err       error
}

func (e *FollowUpCreationError) Error() string {
	return fmt.Sprintf("failed to persist follow-up for thought %s: %v", e.ThoughtID, e.Err)
}

func (e *FollowUpCreationError) Unwrap() error { return e.Err }

func (e *FollowUpCreationError) Kind() ErrorKind { return ErrKindFollowUpCreation }

// KindOf returns the ErrorKind carried anywhere in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrKindNone
	}
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Kind
	}
	var kinded interface{ Kind() ErrorKind }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	return ErrKindExecutionFailed
}
