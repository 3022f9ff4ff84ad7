package bot

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a Bot.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StateClosing
	StateClosed
	StateFailed
)

// ErrProhibitedState is returned when an operation is not allowed in the
// bot's current state.
var ErrProhibitedState = errors.New("operation not allowed in current bot state")

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateCreated:     {StateInitialized, StateFailed},
	StateInitialized: {StateRunning, StateClosing, StateFailed},
	StateRunning:     {StateClosing, StateFailed},
	StateClosing:     {StateClosed, StateFailed},
}

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
