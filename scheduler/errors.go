package scheduler

import "fmt"

// ErrorKind classifies a failure so the HTTP layer and the agent path can
// choose the right propagation policy.
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"
	KindInfrastructure       ErrorKind = "infrastructure"
	KindSolver               ErrorKind = "solver"
	KindInvariant            ErrorKind = "invariant"
	KindDialog               ErrorKind = "dialog"
	KindNotification         ErrorKind = "notification"
	KindAgent                ErrorKind = "agent"
	KindSemanticVerification ErrorKind = "semantic_verification"
)

// Error is a classified failure. Recoverable only applies to agent errors and
// tells the orchestrator a single retry is worth attempting.
type Error struct {
	Kind        ErrorKind
	Message     string
	Recoverable bool
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError creates a classified error wrapping an optional cause.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Errorf creates a classified error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, defaulting to infrastructure for
// unclassified errors.
func KindOf(err error) ErrorKind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInfrastructure
}
