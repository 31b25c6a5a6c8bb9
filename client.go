package gobayeux

import (
	"context"
	"encoding/json"
	"sync"
)

const requestQueueSize = 10

// Client is a high-level abstraction over a LongPollingTransport. Subscribe
// and Unsubscribe requests are queued and sent once the session is
// connected; messages for a subscription are delivered on its chan.
type Client struct {
	transport   *LongPollingTransport
	logger      Logger
	ignoreError func(err error) bool

	subscribeRequestChannel   chan subscriptionRequest
	unsubscribeRequestChannel chan Channel
	connected                 chan struct{}
	failures                  chan error
	shutdown                  chan struct{}
	shutdownOnce              sync.Once

	// only touched by the goroutine started in Start
	subscriptions map[Channel][]*Subscription
}

// NewClient creates a new high-level client
func NewClient(serverAddress string, opts ...Option) (*Client, error) {
	options := newOptions(opts)
	c := &Client{
		logger:                    options.Logger.WithField("at", "client"),
		ignoreError:               options.IgnoreError,
		subscribeRequestChannel:   make(chan subscriptionRequest, requestQueueSize),
		unsubscribeRequestChannel: make(chan Channel, requestQueueSize),
		connected:                 make(chan struct{}, 1),
		failures:                  make(chan error, requestQueueSize),
		shutdown:                  make(chan struct{}),
		subscriptions:             make(map[Channel][]*Subscription),
	}
	options.Listener = &clientListener{client: c, next: options.Listener}

	transport, err := newLongPollingTransport(serverAddress, options)
	if err != nil {
		return nil, err
	}
	c.transport = transport
	return c, nil
}

// Subscribe queues a request to subscribe to a new channel from the server.
// Delivery to receiving blocks the transport until it is read or the client
// disconnects.
func (c *Client) Subscribe(ch Channel, receiving chan []Message) {
	_ = c.SubscribeWithContext(context.Background(), ch, receiving)
}

// SubscribeWithContext queues a request to subscribe to a new channel from
// the server, giving up when ctx is done first
func (c *Client) SubscribeWithContext(ctx context.Context, ch Channel, receiving chan []Message) error {
	select {
	case c.subscribeRequestChannel <- subscriptionRequest{ch, receiving}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe queues a request to unsubscribe from a channel on the server
func (c *Client) Unsubscribe(ch Channel) {
	_ = c.UnsubscribeWithContext(context.Background(), ch)
}

// UnsubscribeWithContext queues a request to unsubscribe from a channel on
// the server, giving up when ctx is done first
func (c *Client) UnsubscribeWithContext(ctx context.Context, ch Channel) error {
	select {
	case c.unsubscribeRequestChannel <- ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends data to ch on its own request, independently of the
// long-poll.
// See also
// https://docs.cometd.org/current/reference/#_two_connection_operation
func (c *Client) Publish(ctx context.Context, ch Channel, data json.RawMessage) error {
	_, err := c.transport.Session().Publish(ctx, ch, data)
	return err
}

// State returns the state of the underlying transport
func (c *Client) State() TransportState {
	return c.transport.State()
}

// Transport returns the underlying LongPollingTransport
func (c *Client) Transport() *LongPollingTransport {
	return c.transport
}

// Start begins the background process that talks to the server. Errors are
// reported on the returned channel, which is closed once the client stops.
func (c *Client) Start(ctx context.Context) <-chan error {
	errors := make(chan error)
	go c.start(ctx, errors)
	return errors
}

// Disconnect issues a /meta/disconnect request to the Bayeux server and then
// cancels the transport
func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.transport.Session().Disconnect(ctx)
	c.transport.Cancel()
	c.shutdownOnce.Do(func() { close(c.shutdown) })
	return err
}

func (c *Client) start(ctx context.Context, errors chan error) {
	defer close(errors)

	if err := c.transport.Start(ctx); err != nil {
		c.report(ctx, errors, err)
		return
	}

	// Requests stay queued until the first handshake completes
	var subscribeRequests chan subscriptionRequest
	var unsubscribeRequests chan Channel
	for {
		select {
		case <-c.shutdown:
			return
		case <-c.transport.Done():
			if err := c.transport.Err(); err != nil {
				c.report(ctx, errors, err)
			} else if err := ctx.Err(); err != nil {
				c.report(ctx, errors, err)
			}
			return
		case <-c.connected:
			subscribeRequests = c.subscribeRequestChannel
			unsubscribeRequests = c.unsubscribeRequestChannel
		case err := <-c.failures:
			c.report(ctx, errors, err)
		case subReq := <-subscribeRequests:
			// Let's attempt to drain the channel before sending a
			// /meta/subscribe request to more efficiently use HTTP
			// requests
			subReqs := append(c.drainSubscriptionRequests(), subReq)
			if err := c.subscribe(ctx, subReqs); err != nil {
				c.report(ctx, errors, err)
			}
		case unsubReq := <-unsubscribeRequests:
			channels := append(c.drainUnsubscriptionRequests(), unsubReq)
			if err := c.unsubscribe(ctx, channels); err != nil {
				c.report(ctx, errors, err)
			}
		}
	}
}

func (c *Client) subscribe(ctx context.Context, subReqs []subscriptionRequest) error {
	// Channels the session already holds, or that appear twice in the
	// batch, are only sent once
	seen := make(map[Channel]struct{}, len(subReqs))
	channels := make([]Channel, 0, len(subReqs))
	for _, subReq := range subReqs {
		if _, ok := seen[subReq.subscription]; ok {
			continue
		}
		seen[subReq.subscription] = struct{}{}
		if len(c.subscriptions[subReq.subscription]) == 0 {
			channels = append(channels, subReq.subscription)
		}
	}
	if len(channels) > 0 {
		if _, err := c.transport.Session().Subscribe(ctx, channels); err != nil {
			return err
		}
	}

	registry := c.transport.Registry()
	for _, subReq := range subReqs {
		if subReq.msgChan == nil {
			continue
		}
		sub, err := registry.SubscribeChan(subReq.subscription, subReq.msgChan)
		if err != nil {
			return err
		}
		c.subscriptions[subReq.subscription] = append(c.subscriptions[subReq.subscription], sub)
	}
	return nil
}

func (c *Client) unsubscribe(ctx context.Context, channels []Channel) error {
	registry := c.transport.Registry()
	for _, channel := range channels {
		for _, sub := range c.subscriptions[channel] {
			registry.Unsubscribe(sub)
		}
		delete(c.subscriptions, channel)
	}
	_, err := c.transport.Session().Unsubscribe(ctx, channels)
	return err
}

func (c *Client) report(ctx context.Context, errors chan<- error, err error) {
	if c.ignoreError != nil && c.ignoreError(err) {
		c.logger.WithError(err).Debug("ignoring error")
		return
	}
	select {
	case errors <- err:
	case <-c.shutdown:
	case <-ctx.Done():
	}
}

func (c *Client) drainSubscriptionRequests() []subscriptionRequest {
	subscriptionRequests := make([]subscriptionRequest, 0)
	for {
		select {
		case req := <-c.subscribeRequestChannel:
			subscriptionRequests = append(subscriptionRequests, req)
		default:
			return subscriptionRequests
		}
	}
}

func (c *Client) drainUnsubscriptionRequests() []Channel {
	unsubscriptionRequests := make([]Channel, 0)
	for {
		select {
		case req := <-c.unsubscribeRequestChannel:
			unsubscriptionRequests = append(unsubscriptionRequests, req)
		default:
			return unsubscriptionRequests
		}
	}
}

type subscriptionRequest struct {
	subscription Channel
	msgChan      chan []Message
}

// clientListener feeds transport callbacks into the Client goroutine before
// passing them on
type clientListener struct {
	client *Client
	next   Listener
}

func (l *clientListener) OnConnected() {
	select {
	case l.client.connected <- struct{}{}:
	default:
	}
	l.next.OnConnected()
}

func (l *clientListener) OnDisconnected(reason error) {
	l.next.OnDisconnected(reason)
}

func (l *clientListener) OnMessage(channel Channel, message Message) {
	l.next.OnMessage(channel, message)
}

func (l *clientListener) OnError(kind ErrorKind, err error) {
	select {
	case l.client.failures <- err:
	case <-l.client.shutdown:
	default:
		l.client.logger.WithError(err).Warn("error queue full, dropping error")
	}
	l.next.OnError(kind, err)
}

func (l *clientListener) OnStateChange(from, to TransportState) {
	l.next.OnStateChange(from, to)
}
