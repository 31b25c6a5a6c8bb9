package gobayeux

import (
	"sync/atomic"
)

// TransportState is the lifecycle state of a transport
type TransportState int32

const (
	// Idle is the state before Start
	Idle TransportState = iota
	// Handshaking means a /meta/handshake exchange is outstanding
	Handshaking
	// Connected means a session exists and /meta/connect long-polls are
	// being issued
	Connected
	// Reconnecting means an exchange failed and a retry is pending
	Reconnecting
	// Cancelled is terminal
	Cancelled
)

var stateNames = []string{"IDLE", "HANDSHAKING", "CONNECTED", "RECONNECTING", "CANCELLED"}

func (s TransportState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Event represents and event that can change the state of a state machine
type Event string

const (
	handshakeSent         Event = "handshake request sent"
	successfullyConnected Event = "Successful connect response"
	connectFailed         Event = "Exchange failed"
	disconnectSent        Event = "Disconnect request sent"
	cancelled             Event = "Cancelled"
)

// ConnectionStateMachine handles managing the connection's state
//
// See also: https://docs.cometd.org/current/reference/#_client_state_table
type ConnectionStateMachine struct {
	currentState atomic.Int32
	onChange     func(from, to TransportState)
}

// NewConnectionStateMachine creates a new ConnectionStateMachine to manage a
// connection's state
func NewConnectionStateMachine() *ConnectionStateMachine {
	return &ConnectionStateMachine{}
}

// IsConnected reflects whether the connection is connected to the Bayeux
// server
func (csm *ConnectionStateMachine) IsConnected() bool {
	return csm.CurrentState() == Connected
}

// HasSession reflects whether a handshake completed and has not been
// invalidated. A reconnecting transport keeps its session until the server
// says otherwise.
func (csm *ConnectionStateMachine) HasSession() bool {
	switch csm.CurrentState() {
	case Connected, Reconnecting:
		return true
	default:
		return false
	}
}

// CurrentState provides the current state of the state machine
func (csm *ConnectionStateMachine) CurrentState() TransportState {
	return TransportState(csm.currentState.Load())
}

func (csm *ConnectionStateMachine) transition(from []TransportState, to TransportState) bool {
	for _, f := range from {
		if csm.currentState.CompareAndSwap(int32(f), int32(to)) {
			if csm.onChange != nil && f != to {
				csm.onChange(f, to)
			}
			return true
		}
	}
	return false
}

// ProcessEvent handles an event
func (csm *ConnectionStateMachine) ProcessEvent(e Event) error {
	switch e {
	case handshakeSent:
		if !csm.transition([]TransportState{Idle, Reconnecting}, Handshaking) {
			return newBadHandshake(csm.CurrentState())
		}
	case successfullyConnected:
		if !csm.transition([]TransportState{Handshaking, Reconnecting, Connected}, Connected) {
			return newBadConnection(csm.CurrentState())
		}
	case connectFailed:
		if !csm.transition([]TransportState{Handshaking, Connected, Reconnecting}, Reconnecting) {
			return &BadStateError{
				Message:      "exchange failure outside of an active session",
				CurrentState: csm.CurrentState(),
				Event:        e,
			}
		}
	case disconnectSent:
		csm.transition([]TransportState{Connected, Handshaking, Reconnecting}, Idle)
	case cancelled:
		for {
			current := csm.CurrentState()
			if current == Cancelled || csm.transition([]TransportState{current}, Cancelled) {
				return nil
			}
		}
	default:
		return UnknownEventTypeError{e}
	}
	return nil
}
