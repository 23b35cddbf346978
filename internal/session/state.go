package session

import "github.com/skobkin/avcomgo/internal/connectors"

// State is the session lifecycle. Stopped is terminal.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateScanning
	StateStopped
)

var allStates = []State{StateUninitialized, StateInitializing, StateReady, StateScanning, StateStopped}

func (s State) String() string {
	return string(s.connectorState())
}

func (s State) connectorState() connectors.SessionState {
	switch s {
	case StateUninitialized:
		return connectors.SessionStateUninitialized
	case StateInitializing:
		return connectors.SessionStateInitializing
	case StateReady:
		return connectors.SessionStateReady
	case StateScanning:
		return connectors.SessionStateScanning
	case StateStopped:
		return connectors.SessionStateStopped
	default:
		return connectors.SessionState("unknown")
	}
}

func stateNames() []string {
	out := make([]string, len(allStates))
	for i, s := range allStates {
		out[i] = s.String()
	}

	return out
}
