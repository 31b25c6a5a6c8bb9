package gobayeux

// Listener receives callbacks from a transport. Callbacks run on the
// transport's goroutine and should return promptly.
type Listener interface {
	// OnConnected is called after every successful handshake
	OnConnected()
	// OnDisconnected is called once the transport reaches Cancelled. reason
	// is nil when Cancel was called.
	OnDisconnected(reason error)
	// OnMessage is called for every message received from a /meta/connect
	// long-poll after it has been dispatched to subscribers
	OnMessage(channel Channel, message Message)
	// OnError is called for every failed exchange
	OnError(kind ErrorKind, err error)
	// OnStateChange is called on every state transition
	OnStateChange(from, to TransportState)
}

// ListenerFuncs implements Listener with optional functions. Nil fields are
// skipped.
type ListenerFuncs struct {
	Connected    func()
	Disconnected func(reason error)
	Message      func(channel Channel, message Message)
	Error        func(kind ErrorKind, err error)
	StateChange  func(from, to TransportState)
}

// OnConnected implements Listener
func (l ListenerFuncs) OnConnected() {
	if l.Connected != nil {
		l.Connected()
	}
}

// OnDisconnected implements Listener
func (l ListenerFuncs) OnDisconnected(reason error) {
	if l.Disconnected != nil {
		l.Disconnected(reason)
	}
}

// OnMessage implements Listener
func (l ListenerFuncs) OnMessage(channel Channel, message Message) {
	if l.Message != nil {
		l.Message(channel, message)
	}
}

// OnError implements Listener
func (l ListenerFuncs) OnError(kind ErrorKind, err error) {
	if l.Error != nil {
		l.Error(kind, err)
	}
}

// OnStateChange implements Listener
func (l ListenerFuncs) OnStateChange(from, to TransportState) {
	if l.StateChange != nil {
		l.StateChange(from, to)
	}
}
