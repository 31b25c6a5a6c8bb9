package gobayeux

import (
	"errors"
	"testing"
)

func TestNewConnectionStateMachineDefaults(t *testing.T) {
	csm := NewConnectionStateMachine()
	if csm.IsConnected() {
		t.Error("expected IsConnected() to be false, got true")
	}
	if got := csm.CurrentState(); got != Idle {
		t.Errorf("expected initial state IDLE, got %s", got)
	}
	csm.currentState.Store(int32(Connected))
	if !csm.IsConnected() {
		t.Error("expected IsConnected() to be true, got false")
	}
}

func TestProcessEvent(t *testing.T) {
	testCases := []struct {
		name          string
		startingState TransportState
		event         Event
		shouldErr     bool
		endingState   TransportState
	}{
		{"idle state machine gets handshake request sent event", Idle, handshakeSent, false, Handshaking},
		{"idle state machine gets successful connect response", Idle, successfullyConnected, true, Idle},
		{"idle state machine gets unknown event", Idle, "random", true, Idle},
		{"idle state machine gets exchange failure", Idle, connectFailed, true, Idle},
		{"handshaking state machine gets successfully connected response", Handshaking, successfullyConnected, false, Connected},
		{"handshaking state machine gets exchange failure", Handshaking, connectFailed, false, Reconnecting},
		{"handshaking state machine gets handshake request sent", Handshaking, handshakeSent, true, Handshaking},
		{"connected state machine gets another connect response", Connected, successfullyConnected, false, Connected},
		{"connected state machine gets exchange failure", Connected, connectFailed, false, Reconnecting},
		{"connected state machine gets disconnect", Connected, disconnectSent, false, Idle},
		{"reconnecting state machine retries handshake", Reconnecting, handshakeSent, false, Handshaking},
		{"reconnecting state machine recovers with connect", Reconnecting, successfullyConnected, false, Connected},
		{"reconnecting state machine fails again", Reconnecting, connectFailed, false, Reconnecting},
		{"idle state machine gets cancelled", Idle, cancelled, false, Cancelled},
		{"connected state machine gets cancelled", Connected, cancelled, false, Cancelled},
		{"cancelled state machine stays cancelled", Cancelled, cancelled, false, Cancelled},
		{"cancelled state machine rejects handshake", Cancelled, handshakeSent, true, Cancelled},
		{"cancelled state machine rejects connect", Cancelled, successfullyConnected, true, Cancelled},
		{"cancelled state machine ignores disconnect", Cancelled, disconnectSent, false, Cancelled},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			csm := NewConnectionStateMachine()
			csm.currentState.Store(int32(tc.startingState))
			err := csm.ProcessEvent(tc.event)
			if err != nil && !tc.shouldErr {
				t.Errorf("expected ProcessEvent(%q) to not error, got %q", tc.event, err)
			}
			if err == nil && tc.shouldErr {
				t.Errorf("expected ProcessEvent(%q) to error but it didn't", tc.event)
			}
			if got := csm.CurrentState(); got != tc.endingState {
				t.Errorf("expected state %s, got %s", tc.endingState, got)
			}
		})
	}
}

func TestProcessEventErrorTypes(t *testing.T) {
	csm := NewConnectionStateMachine()
	csm.currentState.Store(int32(Connected))

	var handshakeErr *BadHandshakeError
	if err := csm.ProcessEvent(handshakeSent); !errors.As(err, &handshakeErr) {
		t.Errorf("expected a BadHandshakeError, got %T", err)
	} else if handshakeErr.CurrentState != Connected {
		t.Errorf("expected current state CONNECTED in error, got %s", handshakeErr.CurrentState)
	}

	csm.currentState.Store(int32(Idle))
	var connErr *BadConnectionError
	if err := csm.ProcessEvent(successfullyConnected); !errors.As(err, &connErr) {
		t.Errorf("expected a BadConnectionError, got %T", err)
	}
}

func TestStateChangeCallback(t *testing.T) {
	var changes [][2]TransportState
	csm := NewConnectionStateMachine()
	csm.onChange = func(from, to TransportState) {
		changes = append(changes, [2]TransportState{from, to})
	}
	_ = csm.ProcessEvent(handshakeSent)
	_ = csm.ProcessEvent(successfullyConnected)
	_ = csm.ProcessEvent(successfullyConnected)
	_ = csm.ProcessEvent(cancelled)

	want := [][2]TransportState{{Idle, Handshaking}, {Handshaking, Connected}, {Connected, Cancelled}}
	if len(changes) != len(want) {
		t.Fatalf("expected changes %v, got %v", want, changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d: want %v, got %v", i, want[i], changes[i])
		}
	}
}

func TestTransportStateString(t *testing.T) {
	if got := Reconnecting.String(); got != "RECONNECTING" {
		t.Errorf("unexpected name %q", got)
	}
	if got := TransportState(42).String(); got != "UNKNOWN" {
		t.Errorf("unexpected name %q", got)
	}
}
