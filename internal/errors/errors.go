// Package errors defines the closed error-kind taxonomy shared by every
// control-plane component, replacing ad-hoc string matching with a type
// callers can switch on.
package errors

import "fmt"

// Kind is the closed set of error categories a control-plane call can fail
// with. Every boundary (HTTP, bus consumer, CLI) maps these to a concrete
// transport-level outcome instead of inventing its own.
type Kind string

const (
	KindBadRequest           Kind = "BAD_REQUEST"
	KindUnauthorized         Kind = "UNAUTHORIZED"
	KindForbidden            Kind = "FORBIDDEN"
	KindInsufficientCredits  Kind = "INSUFFICIENT_CREDITS"
	KindDuplicateEvent       Kind = "DUPLICATE_EVENT"
	KindEnqueueFailed        Kind = "ENQUEUE_FAILED"
	KindWorkerFailure        Kind = "WORKER_FAILURE"
	KindWorkerDisappeared    Kind = "WORKER_DISAPPEARED"
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	KindNotFound             Kind = "NOT_FOUND"
	KindBadTheme             Kind = "BAD_THEME"
	KindInternal             Kind = "INTERNAL"
)

// CPError wraps an underlying error with an operation name and a closed
// Kind so callers across package boundaries can errors.As into it instead
// of parsing messages.
type CPError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *CPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *CPError) Unwrap() error { return e.Err }

// New builds a CPError for op failing with kind, optionally wrapping cause.
func New(op string, kind Kind, cause error) *CPError {
	return &CPError{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err is a CPError of the given kind.
func Is(err error, kind Kind) bool {
	var cp *CPError
	if As(err, &cp) {
		return cp.Kind == kind
	}
	return false
}

// As is a thin wrapper so callers don't need to import the standard errors
// package just for this one check.
func As(err error, target **CPError) bool {
	for err != nil {
		if cp, ok := err.(*CPError); ok {
			*target = cp
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
