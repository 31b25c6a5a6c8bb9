package gobayeux

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// InFlightRequest is one outstanding HTTP exchange with the server
type InFlightRequest struct {
	// ID uniquely identifies the exchange and keys its response buffer
	ID string
	// Channel is the channel of the first message in the request
	Channel Channel
	// Started is when the request was dispatched
	Started time.Time

	cancelled bool
}

// Cancelled reports whether the transport was cancelled while this request
// was outstanding, as of the last time the tracker was consulted
func (r *InFlightRequest) Cancelled() bool {
	return r.cancelled
}

// inFlightTracker is the single synchronisation point between the code that
// schedules requests and the code that consumes their responses: it owns the
// cancellation flag and the set of outstanding requests.
type inFlightTracker struct {
	lock      sync.Mutex
	cancelled bool
	requests  map[string]*InFlightRequest
	settled   chan struct{}
	once      sync.Once
}

func newInFlightTracker() *inFlightTracker {
	return &inFlightTracker{
		requests: make(map[string]*InFlightRequest),
		settled:  make(chan struct{}),
	}
}

// begin registers a new request. It fails with ErrCancelled once cancel has
// been called.
func (t *inFlightTracker) begin(channel Channel) (*InFlightRequest, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.cancelled {
		return nil, ErrCancelled
	}
	req := &InFlightRequest{ID: uuid.NewString(), Channel: channel, Started: time.Now()}
	t.requests[req.ID] = req
	return req, nil
}

// check refreshes the cancellation snapshot of req and reports whether its
// response may still be consumed
func (t *inFlightTracker) check(req *InFlightRequest) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	_, live := t.requests[req.ID]
	req.cancelled = t.cancelled
	return live && !t.cancelled
}

// end removes req. When the tracker has been cancelled and this was the
// last outstanding request the tracker settles.
func (t *inFlightTracker) end(req *InFlightRequest) {
	t.lock.Lock()
	delete(t.requests, req.ID)
	settle := t.cancelled && len(t.requests) == 0
	t.lock.Unlock()

	if settle {
		t.settle()
	}
}

// cancel sets the cancellation flag. It reports false if the flag was
// already set. With nothing outstanding the tracker settles immediately.
func (t *inFlightTracker) cancel() bool {
	t.lock.Lock()
	if t.cancelled {
		t.lock.Unlock()
		return false
	}
	t.cancelled = true
	settle := len(t.requests) == 0
	t.lock.Unlock()

	if settle {
		t.settle()
	}
	return true
}

func (t *inFlightTracker) isCancelled() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.cancelled
}

func (t *inFlightTracker) outstanding() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.requests)
}

func (t *inFlightTracker) settle() {
	t.once.Do(func() { close(t.settled) })
}

// Settled is closed once the tracker is cancelled and every outstanding
// request has ended
func (t *inFlightTracker) Settled() <-chan struct{} {
	return t.settled
}
