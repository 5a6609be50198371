// Package approval provides the generic state machine behind every
// user-confirmable dApp request category.
package approval

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle state of an approval surface.
type State int32

const (
	// StateIdle means no request is pending.
	StateIdle State = iota

	// StatePresented means a request is shown and awaits a user decision.
	StatePresented

	// StateExecuting means the user approved and the category action is running.
	StateExecuting

	// StateApproved means a success response was sent; the surface is closing.
	StateApproved

	// StateRejected means an error (or keep-current) response was sent.
	StateRejected
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePresented:
		return "presented"
	case StateExecuting:
		return "executing"
	case StateApproved:
		return "approved"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseState(str)
	return nil
}

// ParseState converts a string to State.
func ParseState(s string) State {
	switch s {
	case "presented":
		return StatePresented
	case "executing":
		return StateExecuting
	case "approved":
		return StateApproved
	case "rejected":
		return StateRejected
	default:
		return StateIdle
	}
}

// IsResolved reports whether the pending request has already been answered.
func (s State) IsResolved() bool {
	return s == StateApproved || s == StateRejected
}

// AwaitsUser reports whether approve, cancel and dismiss act on the request.
func (s State) AwaitsUser() bool {
	return s == StatePresented
}

// Category names one approval surface.
type Category string

const (
	CategoryTransaction  Category = "transaction"
	CategoryCertificate  Category = "certificate"
	CategoryTypedData    Category = "typed-data"
	CategoryLogin        Category = "login"
	CategorySwitchWallet Category = "switch-wallet"
	CategoryReconcile    Category = "reconciliation"
)
