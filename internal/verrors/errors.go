// Package verrors implements the venue's closed error taxonomy: every
// rejection a component produces carries one of five kinds so callers can
// branch on Kind without string matching on messages.
package verrors

import "fmt"

type Kind int

const (
	KindValidation Kind = iota // malformed/out-of-bounds input
	KindState                  // the target is in a status that forbids the operation
	KindPolicy                 // the operation is well-formed but the venue's rules block it
	KindResource                // a collaborator (ledger, durable mirror) could not be reached
	KindInvariant               // an internal invariant was about to be violated
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindPolicy:
		return "policy"
	case KindResource:
		return "resource"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is the venue's typed error. Code is a short machine-readable token
// (e.g. "bad_signature", "insufficient_margin") unique within its Kind.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

func Validation(code, message string) *Error { return New(KindValidation, code, message) }
func State(code, message string) *Error      { return New(KindState, code, message) }
func Policy(code, message string) *Error     { return New(KindPolicy, code, message) }
func Resource(code, message string) *Error   { return New(KindResource, code, message) }
func Invariant(code, message string) *Error  { return New(KindInvariant, code, message) }

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	ve, ok := err.(*Error)
	return ok && ve.Kind == kind
}
