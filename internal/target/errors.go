package target

import "fmt"

// ErrTerminal is returned when something attempts to transition a target
// that has already reached a terminal state.
type ErrTerminal struct {
	ID    string
	State State
}

func (e *ErrTerminal) Error() string {
	return fmt.Sprintf("target %s: already terminal in state %s", e.ID, e.State)
}

// ErrInvalidTransition is returned by the state machine when a requested
// transition is not in the allowed table for the target's current state.
type ErrInvalidTransition struct {
	ID   string
	From State
	To   State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("target %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}
