package schemas

import (
	"fmt"
	"time"
)

// Outcome is the terminal classification of a single submitted identifier.
type Outcome string

const (
	OutcomeAdded         Outcome = "ADDED"
	OutcomeAlreadyExists Outcome = "ALREADY_EXISTS"
	OutcomeNotFound      Outcome = "NOT_FOUND"
	OutcomeUnknown       Outcome = "UNKNOWN"
	OutcomeError         Outcome = "ERROR"
)

// Valid reports whether o is one of the five canonical outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAdded, OutcomeAlreadyExists, OutcomeNotFound, OutcomeUnknown, OutcomeError:
		return true
	}
	return false
}

// ItemState is the lifecycle state of a work item.
type ItemState string

const (
	ItemPending  ItemState = "PENDING"
	ItemInFlight ItemState = "IN_FLIGHT"
	ItemResolved ItemState = "RESOLVED"
)

// WorkItem is one identifier moving through the batch.
type WorkItem struct {
	ISBN  string    `json:"isbn"`
	State ItemState `json:"state"`
}

// Result is what the classifier reports for one identifier.
type Result struct {
	ISBN    string    `json:"isbn"`
	Outcome Outcome   `json:"outcome"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

func (r Result) String() string {
	if r.Message == "" {
		return fmt.Sprintf("%s=%s", r.ISBN, r.Outcome)
	}
	return fmt.Sprintf("%s=%s (%s)", r.ISBN, r.Outcome, r.Message)
}

// Readiness is the classification of the page a navigation attempt landed on.
type Readiness string

const (
	ReadinessReady            Readiness = "READY"
	ReadinessLoginRequired    Readiness = "LOGIN_REQUIRED"
	ReadinessPermissionDenied Readiness = "PERMISSION_DENIED"
	ReadinessRedirected       Readiness = "UNEXPECTED_REDIRECT"
)

// SessionLoss reports whether the readiness indicates the session is no
// longer usable for the search surface.
func (r Readiness) SessionLoss() bool {
	return r == ReadinessPermissionDenied || r == ReadinessRedirected
}

// AuthResult describes the outcome of an authentication check.
type AuthResult struct {
	Authenticated bool `json:"authenticated"`
	// LoggedIn is true when the credentials were actually submitted during
	// this call, false when an existing session was reused.
	LoggedIn bool `json:"logged_in"`
	Attempts int  `json:"attempts"`
}

// Tally counts the ledger sets and the pending queue.
type Tally struct {
	Added         int `json:"added"`
	AlreadyExists int `json:"already_exists"`
	NotFound      int `json:"not_found"`
	Errors        int `json:"errors"`
	Pending       int `json:"pending"`
}

// Terminal is the number of identifiers with a recorded outcome.
func (t Tally) Terminal() int {
	return t.Added + t.AlreadyExists + t.NotFound + t.Errors
}

// Total is the number of distinct identifiers ever supplied.
func (t Tally) Total() int {
	return t.Terminal() + t.Pending
}
