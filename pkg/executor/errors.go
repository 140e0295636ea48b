package executor

import (
	"fmt"
	"time"
)

// Kind classifies an Error the way spec §7 enumerates handling: by source,
// not by message text.
type Kind int

const (
	KindUnexpected Kind = iota
	KindOngoingExecution
	KindIllegalArgument
	KindIllegalState
	KindTaskFatal
	KindUnsupportedType
)

func (k Kind) String() string {
	switch k {
	case KindOngoingExecution:
		return "OngoingExecution"
	case KindIllegalArgument:
		return "IllegalArgument"
	case KindIllegalState:
		return "IllegalState"
	case KindTaskFatal:
		return "TaskFatal"
	case KindUnsupportedType:
		return "UnsupportedType"
	default:
		return "Unexpected"
	}
}

// Error is the controller's single error type. It mirrors the teacher's
// resilience.ClassifiedError shape (component tag, timestamp, wrapped
// cause) but carries the kinds spec.md §7 actually names.
type Error struct {
	Kind      Kind
	Component string
	Cause     error
	Timestamp time.Time
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("[%s:%s]", e.Component, e.Kind)
	}
	return fmt.Sprintf("[%s:%s] %v", e.Component, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, component string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Cause: cause, Timestamp: time.Now()}
}

func NewOngoingExecutionError(component string, cause error) *Error {
	return newError(KindOngoingExecution, component, cause)
}

func NewIllegalArgumentError(component string, cause error) *Error {
	return newError(KindIllegalArgument, component, cause)
}

func NewIllegalStateError(component string, cause error) *Error {
	return newError(KindIllegalState, component, cause)
}

func NewTaskFatalError(component string, cause error) *Error {
	return newError(KindTaskFatal, component, cause)
}

func NewUnexpectedError(component string, cause error) *Error {
	return newError(KindUnexpected, component, cause)
}

func NewUnsupportedTypeError(component string, cause error) *Error {
	return newError(KindUnsupportedType, component, cause)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
