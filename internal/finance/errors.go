// ABOUTME: Typed error kinds for collaborator failures.
// ABOUTME: Callers dispatch on Kind, never on error message text.

package finance

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a collaborator failure.
type ErrorKind int

const (
	// KindTransient covers timeouts and temporary unavailability; the user
	// may re-issue the command.
	KindTransient ErrorKind = iota
	// KindNotFound means the referenced entity does not exist.
	KindNotFound
	// KindInvalid means the collaborator rejected the request contents.
	KindInvalid
	// KindInternal covers everything else.
	KindInternal
)

// String returns the kind's name for logging.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

// Error wraps a collaborator failure with its kind and the operation that
// produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified collaborator error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from err, defaulting to KindInternal for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsTransient reports whether err is a transient collaborator failure.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
