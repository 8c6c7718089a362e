package memory

import (
	"errors"
	"fmt"
)

// Kind discriminates the engine's error taxonomy. Every error the engine
// returns is a value callers can switch on via errors.As, never a bare
// string or a panic.
type Kind string

const (
	// KindNotInitialized is returned by any public operation invoked
	// before initialize() has completed.
	KindNotInitialized Kind = "not_initialized"
	// KindAlreadyExists is returned when creating a session id that
	// already has a record.
	KindAlreadyExists Kind = "already_exists"
	// KindNotFound is returned when a session, context, message, or
	// record is missing for a mutation operation.
	KindNotFound Kind = "not_found"
	// KindInvariantViolation is returned for task id collisions,
	// attempted messageId changes, or system-message removal attempts.
	KindInvariantViolation Kind = "invariant_violation"
	// KindBackendUnsupported is returned when the selected adapter type
	// has no implementation.
	KindBackendUnsupported Kind = "backend_unsupported"
	// KindBackendUnavailable is returned when an adapter could not
	// acquire its driver, directory, or database connection.
	KindBackendUnavailable Kind = "backend_unavailable"
	// KindCorruptData marks a file that failed to parse and had no
	// recoverable backup. Reported via log, not normally returned.
	KindCorruptData Kind = "corrupt_data"
	// KindWriteFailure marks a single-file write failure.
	KindWriteFailure Kind = "write_failure"
)

// Error is the engine's typed error value.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &Error{Kind: K}) to match by Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err is a *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
