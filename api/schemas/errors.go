package schemas

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the orchestrator can decide what is fatal.
type ErrorKind string

const (
	// KindSetup covers missing credentials or input. Fatal before any browser work.
	KindSetup ErrorKind = "SETUP"
	// KindAuth is a login that was attempted but never confirmed.
	KindAuth ErrorKind = "AUTH"
	// KindNavigation means the search surface could not be reached by any strategy.
	KindNavigation ErrorKind = "NAVIGATION"
	// KindSessionLoss is a mid-item loss of the session that exhausted its retries.
	KindSessionLoss ErrorKind = "SESSION_LOSS"
	// KindClassification is a terminal page state matching no known pattern.
	KindClassification ErrorKind = "CLASSIFICATION"
	// KindTransport is a failure of the browser control surface itself.
	KindTransport ErrorKind = "TRANSPORT"
)

// Error is a classified error. It wraps the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindTransport
// for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}
