package gobayeux

import (
	"context"
	"errors"
	"sync"
	"time"
)

// LongPollingTransport keeps a Bayeux session alive: it handshakes, issues
// /meta/connect long-polls back to back, reconnects with backoff when an
// exchange fails and dispatches every delivered message to the subscriptions
// registered on its SubscriptionRegistry.
type LongPollingTransport struct {
	session  *BayeuxClient
	registry *SubscriptionRegistry
	listener Listener
	backoff  BackoffPolicy
	logger   Logger
	metrics  *Metrics

	lock    sync.Mutex
	started bool
	stop    context.CancelFunc
	reason  error

	done     chan struct{}
	doneOnce sync.Once
}

// NewLongPollingTransport creates a transport for serverAddress. An invalid
// address or pinning configuration is the only error it reports; everything
// after Start is reported through the Listener.
func NewLongPollingTransport(serverAddress string, opts ...Option) (*LongPollingTransport, error) {
	return newLongPollingTransport(serverAddress, newOptions(opts))
}

func newLongPollingTransport(serverAddress string, options *Options) (*LongPollingTransport, error) {
	session, err := newBayeuxClient(serverAddress, options)
	if err != nil {
		return nil, err
	}
	return &LongPollingTransport{
		session:  session,
		registry: NewSubscriptionRegistry(),
		listener: options.Listener,
		backoff:  options.Backoff,
		logger:   options.Logger.WithField("at", "transport"),
		metrics:  options.Metrics,
		done:     make(chan struct{}),
	}, nil
}

// Start runs the handshake/connect loop on its own goroutine and returns
// immediately. It fails with ErrAlreadyStarted on a second call and with
// ErrCancelled once the transport was cancelled.
func (t *LongPollingTransport) Start(ctx context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.started {
		return ErrAlreadyStarted
	}
	if t.session.tracker.isCancelled() {
		return ErrCancelled
	}
	t.started = true

	// Cancel only wakes the backoff sleep. Exchanges run on ctx so a
	// long-poll in flight completes on its own.
	wake, stop := context.WithCancel(ctx)
	t.stop = stop
	context.AfterFunc(ctx, t.registry.Close)
	go t.run(ctx, wake, stop)
	return nil
}

// Cancel stops the transport. No request is issued afterwards, an exchange
// already in flight is left to complete or fail and its response is
// discarded. The transport reaches Cancelled once every in-flight exchange
// has settled. Cancel returns immediately and may be called any number of
// times.
func (t *LongPollingTransport) Cancel() {
	if !t.session.tracker.cancel() {
		return
	}
	t.logger.Debug("cancelling", "in_flight", t.session.tracker.outstanding())
	t.registry.Close()

	t.lock.Lock()
	started, stop := t.started, t.stop
	t.lock.Unlock()

	if !started {
		t.finish(nil)
		return
	}
	stop()
}

// Done is closed once the transport reaches Cancelled
func (t *LongPollingTransport) Done() <-chan struct{} {
	return t.done
}

// Err returns why the transport stopped: nil after Cancel,
// ErrMaxRetriesExceeded or ErrReconnectNone otherwise. It is only
// meaningful once Done is closed.
func (t *LongPollingTransport) Err() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.reason
}

// State returns the current TransportState
func (t *LongPollingTransport) State() TransportState {
	return t.session.State()
}

// Registry returns the subscriptions that connect deliveries are dispatched to
func (t *LongPollingTransport) Registry() *SubscriptionRegistry {
	return t.registry
}

// Session returns the BayeuxClient used for every exchange. Subscribe,
// Unsubscribe and Publish may be issued on it while the transport runs.
func (t *LongPollingTransport) Session() *BayeuxClient {
	return t.session
}

func (t *LongPollingTransport) run(ctx, wake context.Context, stop context.CancelFunc) {
	defer stop()
	reason := t.loop(ctx, wake)

	t.session.tracker.cancel()
	<-t.session.tracker.Settled()
	t.finish(reason)
}

func (t *LongPollingTransport) finish(reason error) {
	t.doneOnce.Do(func() {
		t.lock.Lock()
		t.reason = reason
		t.lock.Unlock()

		_ = t.session.stateMachine.ProcessEvent(cancelled)
		if reason != nil {
			t.logger.WithError(reason).Info("stopped")
		} else {
			t.logger.Debug("stopped")
		}
		close(t.done)
		t.listener.OnDisconnected(reason)
	})
}

func (t *LongPollingTransport) loop(ctx, wake context.Context) error {
	failures := 0
	handshake := true
	for {
		if ctx.Err() != nil || t.session.tracker.isCancelled() {
			return nil
		}

		var advice *Advice
		var err error
		if handshake {
			advice, err = t.handshake(ctx)
			if err == nil {
				handshake = false
			}
		} else {
			advice, err = t.connect(ctx)
		}

		if err == nil {
			failures = 0
			if advice.MustNotRetryOrHandshake() {
				return ErrReconnectNone
			}
			continue
		}

		if errors.Is(err, ErrCancelled) || ctx.Err() != nil || t.session.tracker.isCancelled() {
			return nil
		}
		failures++
		kind := KindOf(err)
		t.logger.WithError(err).Warn("exchange failed", "kind", string(kind), "attempt", failures)
		t.listener.OnError(kind, err)

		switch {
		case advice.MustNotRetryOrHandshake():
			return ErrReconnectNone
		case advice.ShouldHandshake(), t.session.ClientID() == "":
			handshake = true
		}
		if t.backoff.Exhausted(failures) {
			return ErrMaxRetriesExceeded
		}

		delay := advice.RetryDelay(t.backoff.Delay(failures))
		t.metrics.reconnecting()
		t.logger.Debug("reconnecting", "attempt", failures, "delay", delay, "handshake", handshake)
		if !sleep(wake, delay) {
			return nil
		}
	}
}

func (t *LongPollingTransport) handshake(ctx context.Context) (*Advice, error) {
	ms, err := t.session.Handshake(ctx)
	advice := adviceFor(ms, MetaHandshake)
	if err != nil {
		return advice, err
	}
	t.listener.OnConnected()
	t.resubscribe(ctx)
	return advice, nil
}

func (t *LongPollingTransport) connect(ctx context.Context) (*Advice, error) {
	ms, err := t.session.Connect(ctx)
	advice := adviceFor(ms, MetaConnect)
	if err != nil {
		return advice, err
	}
	t.dispatch(ms)
	return advice, nil
}

// resubscribe restores the server side subscriptions of a new session from
// the registry
func (t *LongPollingTransport) resubscribe(ctx context.Context) {
	var channels []Channel
	for _, pattern := range t.registry.Patterns() {
		if pattern.Type() == BroadcastChannel {
			channels = append(channels, pattern)
		}
	}
	if len(channels) == 0 {
		return
	}
	if _, err := t.session.Subscribe(ctx, channels); err != nil {
		t.logger.WithError(err).Warn("could not restore subscriptions")
		t.listener.OnError(KindOf(err), err)
	}
}

func (t *LongPollingTransport) dispatch(ms []Message) {
	for _, m := range ms {
		if m.Channel == MetaConnect {
			continue
		}
		if t.session.tracker.isCancelled() {
			return
		}
		delivered := t.registry.Dispatch(m.Channel, m)
		t.metrics.dispatched(m.Channel, delivered)
		t.listener.OnMessage(m.Channel, m)
	}
}

func adviceFor(ms []Message, channel Channel) *Advice {
	for _, m := range ms {
		if m.Channel == channel && m.Advice != nil {
			return m.Advice
		}
	}
	return nil
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
