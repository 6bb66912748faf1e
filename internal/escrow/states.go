// Package escrow defines the job lifecycle state machine and the escrow engine.
//
// Valid state graph:
//
//	ACTIVE ──► FINISHED
//	   │
//	   └─────► CANCELLED
//
// FINISHED and CANCELLED are terminal states.
package escrow

import "fmt"

// State values mirror the job_state enum used by the journal and the APIs.
type State string

const (
	StateActive    State = "ACTIVE"
	StateCancelled State = "CANCELLED"
	StateFinished  State = "FINISHED"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[State][]State{
	StateActive: {StateFinished, StateCancelled},
	// FINISHED and CANCELLED are terminal — no outgoing transitions
}

// ParseState converts a raw string to a State, returning an error for
// unknown values.
func ParseState(s string) (State, error) {
	st := State(s)
	switch st {
	case StateActive, StateCancelled, StateFinished:
		return st, nil
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// state machine.
func IsTransitionAllowed(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal state — no outgoing transitions
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states with no outgoing transitions.
func IsTerminal(s State) bool {
	_, ok := validTransitions[s]
	return !ok
}

// HoldsCertificate returns true for states in which the job's certificate
// must exist.
func HoldsCertificate(s State) bool { return s == StateActive || s == StateFinished }
