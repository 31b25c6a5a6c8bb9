package gobayeux

import (
	"sync"
	"weak"
)

// MessageHandler receives messages dispatched to a subscription
type MessageHandler interface {
	HandleMessage(channel Channel, message Message)
}

// MessageHandlerFunc adapts a function to a MessageHandler
type MessageHandlerFunc func(channel Channel, message Message)

// HandleMessage implements MessageHandler
func (f MessageHandlerFunc) HandleMessage(channel Channel, message Message) {
	f(channel, message)
}

// Subscription binds a channel pattern to a receiver. The registry does not
// own the receiver: deliver reports false once the receiver is gone and the
// subscription is then dropped.
type Subscription struct {
	pattern Channel
	deliver func(Channel, Message) bool
}

// Pattern returns the channel pattern of the subscription
func (s *Subscription) Pattern() Channel {
	return s.pattern
}

// SubscriptionRegistry holds subscriptions in insertion order and resolves
// concrete channels to the subscriptions whose pattern matches
type SubscriptionRegistry struct {
	lock sync.RWMutex
	subs []*Subscription

	closed    chan struct{}
	closeOnce sync.Once
}

// NewSubscriptionRegistry creates an empty SubscriptionRegistry
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{closed: make(chan struct{})}
}

// Close releases every delivery blocked on a chan subscription. Chan
// deliveries after Close are dropped. Close may be called more than once.
func (r *SubscriptionRegistry) Close() {
	r.closeOnce.Do(func() { close(r.closed) })
}

func (r *SubscriptionRegistry) add(pattern Channel, deliver func(Channel, Message) bool) (*Subscription, error) {
	if !pattern.IsValid() {
		return nil, InvalidChannelError{pattern}
	}
	sub := &Subscription{pattern: pattern, deliver: deliver}

	r.lock.Lock()
	defer r.lock.Unlock()
	r.subs = append(r.subs, sub)
	return sub, nil
}

// Subscribe registers handler for every channel matching pattern. The
// registry keeps handler alive until it is unsubscribed.
func (r *SubscriptionRegistry) Subscribe(pattern Channel, handler MessageHandler) (*Subscription, error) {
	return r.add(pattern, func(channel Channel, message Message) bool {
		handler.HandleMessage(channel, message)
		return true
	})
}

// SubscribeChan registers a chan that receives each matching message as a
// single element batch. Delivery blocks until the receiver reads it or the
// registry is closed.
func (r *SubscriptionRegistry) SubscribeChan(pattern Channel, ms chan<- []Message) (*Subscription, error) {
	return r.add(pattern, func(_ Channel, message Message) bool {
		select {
		case ms <- []Message{message}:
		case <-r.closed:
		}
		return true
	})
}

// SubscribeWeak registers fn to be invoked with target for every matching
// channel without keeping target reachable. Once target has been garbage
// collected the subscription is skipped and pruned.
func SubscribeWeak[T any](r *SubscriptionRegistry, pattern Channel, target *T, fn func(target *T, channel Channel, message Message)) (*Subscription, error) {
	ref := weak.Make(target)
	return r.add(pattern, func(channel Channel, message Message) bool {
		t := ref.Value()
		if t == nil {
			return false
		}
		fn(t, channel, message)
		return true
	})
}

// Unsubscribe removes sub. It reports whether sub was registered.
func (r *SubscriptionRegistry) Unsubscribe(sub *Subscription) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	for i, s := range r.subs {
		if s == sub {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// RemovePattern removes every subscription registered with exactly pattern
// and returns how many were removed
func (r *SubscriptionRegistry) RemovePattern(pattern Channel) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	kept := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if s.pattern != pattern {
			kept = append(kept, s)
		}
	}
	removed := len(r.subs) - len(kept)
	r.subs = kept
	return removed
}

// Patterns returns the distinct patterns in insertion order
func (r *SubscriptionRegistry) Patterns() []Channel {
	r.lock.RLock()
	defer r.lock.RUnlock()
	seen := make(map[Channel]struct{}, len(r.subs))
	patterns := make([]Channel, 0, len(r.subs))
	for _, s := range r.subs {
		if _, ok := seen[s.pattern]; ok {
			continue
		}
		seen[s.pattern] = struct{}{}
		patterns = append(patterns, s.pattern)
	}
	return patterns
}

// Len returns the number of registered subscriptions
func (r *SubscriptionRegistry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.subs)
}

// Dispatch delivers message to every live subscription whose pattern
// matches channel, in subscription order, and returns the number of
// deliveries. Subscriptions whose receiver is gone are removed.
func (r *SubscriptionRegistry) Dispatch(channel Channel, message Message) int {
	// Deliver outside the lock so handlers may subscribe or unsubscribe
	r.lock.RLock()
	matched := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if s.pattern.Match(channel) {
			matched = append(matched, s)
		}
	}
	r.lock.RUnlock()

	delivered := 0
	for _, s := range matched {
		if s.deliver(channel, message) {
			delivered++
			continue
		}
		r.Unsubscribe(s)
	}
	return delivered
}
