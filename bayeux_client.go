package gobayeux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	bayeuxVersion = "1.0"

	// readChunkSize is how much of a response body is read before the
	// assembler is asked for a complete frame
	readChunkSize = 32 << 10

	// errorBodyLimit bounds how much of a non-200 body is kept for
	// BadResponseError
	errorBodyLimit = 4 << 10
)

// BayeuxClient is a way of acting as a client with a given Bayeux server.
// Every exchange is tracked as an InFlightRequest and its response is
// streamed through a ResponseAssembler.
type BayeuxClient struct {
	stateMachine  *ConnectionStateMachine
	client        *http.Client
	serverAddress *url.URL
	state         *clientState
	logger        Logger
	codec         Codec
	assembler     *ResponseAssembler
	tracker       *inFlightTracker
	metrics       *Metrics
	listener      Listener
	messageID     atomic.Uint64

	extLock sync.RWMutex
	exts    []MessageExtender
}

// NewBayeuxClient initializes a BayeuxClient for the user
func NewBayeuxClient(serverAddress string, opts ...Option) (*BayeuxClient, error) {
	return newBayeuxClient(serverAddress, newOptions(opts))
}

func newBayeuxClient(serverAddress string, options *Options) (*BayeuxClient, error) {
	parsedAddress, err := parseEndpoint(serverAddress)
	if err != nil {
		return nil, err
	}

	client, err := options.httpClient()
	if err != nil {
		return nil, err
	}

	b := &BayeuxClient{
		stateMachine:  NewConnectionStateMachine(),
		client:        client,
		serverAddress: parsedAddress,
		state:         &clientState{},
		logger:        options.Logger,
		codec:         options.Codec,
		assembler:     NewResponseAssembler(options.MaxResponseSize, options.Codec),
		tracker:       newInFlightTracker(),
		metrics:       options.Metrics,
		listener:      options.Listener,
	}
	b.stateMachine.onChange = b.stateChanged

	for _, ext := range options.Extensions {
		if err := b.UseExtension(ext); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func parseEndpoint(serverAddress string) (*url.URL, error) {
	parsed, err := url.Parse(serverAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, serverAddress)
	}
	return parsed, nil
}

// State returns the current state of the session
func (b *BayeuxClient) State() TransportState {
	return b.stateMachine.CurrentState()
}

// ClientID returns the identifier assigned by the server on handshake
func (b *BayeuxClient) ClientID() string {
	return b.state.GetClientID()
}

// Handshake sends the handshake request to the Bayeux Server
func (b *BayeuxClient) Handshake(ctx context.Context) ([]Message, error) {
	logger := b.logger.WithField("at", "handshake")
	start := time.Now()
	logger.Debug("starting")
	if err := b.stateMachine.ProcessEvent(handshakeSent); err != nil {
		logger.WithError(err).Debug("invalid action for current state")
		return nil, HandshakeFailedError{err}
	}
	response, message, err := b.handshake(ctx, logger)
	if err != nil {
		_ = b.stateMachine.ProcessEvent(connectFailed)
		return response, err
	}
	b.state.SetClientID(message.ClientID)
	_ = b.stateMachine.ProcessEvent(successfullyConnected)
	logger.Debug("finishing", "duration", time.Since(start))
	return response, nil
}

func (b *BayeuxClient) handshake(ctx context.Context, logger Logger) ([]Message, Message, error) {
	var message Message
	builder := NewHandshakeRequestBuilder()
	if err := builder.AddVersion(bayeuxVersion); err != nil {
		return nil, message, HandshakeFailedError{err}
	}
	if err := builder.AddSupportedConnectionType(ConnectionTypeLongPolling); err != nil {
		return nil, message, HandshakeFailedError{err}
	}
	ms, err := builder.Build()
	if err != nil {
		return nil, message, HandshakeFailedError{err}
	}

	response, err := b.exchange(ctx, logger, ms)
	if err != nil {
		logger.WithError(err).Debug("error during request")
		return response, message, HandshakeFailedError{err}
	}
	if len(response) > 1 {
		return response, message, HandshakeFailedError{ErrTooManyMessages}
	}

	for _, m := range response {
		if m.Channel == MetaHandshake {
			message = m
		}
	}
	if message.Channel == emptyChannel {
		return response, message, HandshakeFailedError{ErrBadChannel}
	}
	if !message.Successful {
		return response, message, newHandshakeError(message.Error)
	}
	return response, message, nil
}

// Connect sends the connect request to the Bayeux Server. The specification
// says that clients MUST maintain only one outstanding connect request. See
// https://docs.cometd.org/current/reference/#_bayeux_meta_connect
func (b *BayeuxClient) Connect(ctx context.Context) ([]Message, error) {
	logger := b.logger.WithField("at", "connect")
	start := time.Now()
	logger.Debug("starting")
	clientID := b.state.GetClientID()
	if !b.stateMachine.HasSession() || clientID == "" {
		return nil, ConnectionFailedError{ErrClientNotConnected}
	}
	builder := NewConnectRequestBuilder()
	builder.AddClientID(clientID)
	_ = builder.AddConnectionType(ConnectionTypeLongPolling)
	ms, err := builder.Build()
	if err != nil {
		return nil, ConnectionFailedError{err}
	}

	response, err := b.exchange(ctx, logger, ms)
	if err != nil {
		logger.WithError(err).Debug("error during request")
		_ = b.stateMachine.ProcessEvent(connectFailed)
		return response, ConnectionFailedError{err}
	}

	for _, m := range response {
		if m.Channel == MetaConnect && !m.Successful {
			_ = b.stateMachine.ProcessEvent(connectFailed)
			return response, ConnectionFailedError{ErrFailedToConnect}
		}
	}
	_ = b.stateMachine.ProcessEvent(successfullyConnected)
	logger.Debug("finishing", "duration", time.Since(start), "messages", len(response))
	return response, nil
}

// Subscribe issues a MetaSubscribe request to the server to subscribe to the
// channels in the subscriptions slice
func (b *BayeuxClient) Subscribe(ctx context.Context, subscriptions []Channel) ([]Message, error) {
	logger := b.logger.WithField("at", "subscribe")
	start := time.Now()
	logger.Debug("starting")
	clientID := b.state.GetClientID()
	if !b.stateMachine.HasSession() || clientID == "" {
		logger.Debug("cannot subscribe because client is not connected")
		return nil, SubscriptionFailedError{subscriptions, ErrClientNotConnected}
	}

	builder := NewSubscribeRequestBuilder()
	builder.AddClientID(clientID)
	for _, s := range subscriptions {
		if err := builder.AddSubscription(s); err != nil {
			return nil, SubscriptionFailedError{subscriptions, err}
		}
	}

	ms, err := builder.Build()
	if err != nil {
		return nil, SubscriptionFailedError{subscriptions, err}
	}

	response, err := b.exchange(ctx, logger, ms)
	if err != nil {
		return response, SubscriptionFailedError{subscriptions, err}
	}

	for _, m := range response {
		if m.Channel == MetaSubscribe && !m.Successful {
			return response, SubscriptionFailedError{
				Channels: subscriptions,
				Err:      newSubscribeError(m.Error),
			}
		}
	}
	logger.Debug("finishing", "duration", time.Since(start))
	return response, nil
}

// Unsubscribe issues a MetaUnsubscribe request to the server to subscribe to the
// channels in the subscriptions slice
func (b *BayeuxClient) Unsubscribe(ctx context.Context, subscriptions []Channel) ([]Message, error) {
	logger := b.logger.WithField("at", "unsubscribe")
	clientID := b.state.GetClientID()
	if !b.stateMachine.HasSession() || clientID == "" {
		return nil, UnsubscribeFailedError{subscriptions, ErrClientNotConnected}
	}

	builder := NewUnsubscribeRequestBuilder()
	builder.AddClientID(clientID)
	for _, s := range subscriptions {
		if err := builder.AddSubscription(s); err != nil {
			return nil, UnsubscribeFailedError{subscriptions, err}
		}
	}

	ms, err := builder.Build()
	if err != nil {
		return nil, UnsubscribeFailedError{subscriptions, err}
	}

	response, err := b.exchange(ctx, logger, ms)
	if err != nil {
		return response, UnsubscribeFailedError{subscriptions, err}
	}

	for _, m := range response {
		if m.Channel == MetaUnsubscribe && !m.Successful {
			return response, UnsubscribeFailedError{
				Channels: subscriptions,
				Err:      newUnsubscribeError(m.Error),
			}
		}
	}
	return response, nil
}

// Publish sends data to channel. The reply for the published message is
// returned along with anything else the server chose to deliver.
//
// See also: https://docs.cometd.org/current/reference/#_publish
func (b *BayeuxClient) Publish(ctx context.Context, channel Channel, data json.RawMessage) ([]Message, error) {
	logger := b.logger.WithField("at", "publish")
	clientID := b.state.GetClientID()
	if !b.stateMachine.HasSession() || clientID == "" {
		return nil, PublishFailedError{channel, ErrClientNotConnected}
	}

	id := strconv.FormatUint(b.messageID.Add(1), 10)
	builder := NewPublishRequestBuilder()
	builder.AddClientID(clientID)
	builder.AddID(id)
	if err := builder.AddChannel(channel); err != nil {
		return nil, PublishFailedError{channel, err}
	}
	if err := builder.AddData(data); err != nil {
		return nil, PublishFailedError{channel, err}
	}
	ms, err := builder.Build()
	if err != nil {
		return nil, PublishFailedError{channel, err}
	}

	response, err := b.exchange(ctx, logger, ms)
	if err != nil {
		return response, PublishFailedError{channel, err}
	}

	for _, m := range response {
		if m.Channel == channel && m.ID == id && !m.Successful {
			return response, PublishFailedError{channel, newPublishError(m.Error)}
		}
	}
	return response, nil
}

// Disconnect sends a /meta/disconnect request to the Bayeux server to
// terminate the session
func (b *BayeuxClient) Disconnect(ctx context.Context) ([]Message, error) {
	logger := b.logger.WithField("at", "disconnect")
	clientID := b.state.GetClientID()
	if !b.stateMachine.HasSession() || clientID == "" {
		return nil, DisconnectFailedError{ErrClientNotConnected}
	}

	builder := NewDisconnectRequestBuilder()
	builder.AddClientID(clientID)
	ms, err := builder.Build()
	if err != nil {
		return nil, DisconnectFailedError{err}
	}

	response, err := b.exchange(ctx, logger, ms)
	if err != nil {
		return response, DisconnectFailedError{err}
	}

	_ = b.stateMachine.ProcessEvent(disconnectSent)
	b.state.SetClientID("")
	for _, m := range response {
		if m.Channel == MetaDisconnect && !m.Successful {
			return response, DisconnectFailedError{nil}
		}
	}
	return response, nil
}

// UseExtension adds the provided MessageExtender to the list of known
// extensions
func (b *BayeuxClient) UseExtension(ext MessageExtender) error {
	b.extLock.Lock()
	for _, registered := range b.exts {
		if ext == registered {
			b.extLock.Unlock()
			return AlreadyRegisteredError{ext}
		}
	}
	b.exts = append(b.exts, ext)
	b.extLock.Unlock()

	ext.Registered(extensionName(ext), b)
	return nil
}

// RemoveExtension unregisters ext. It reports whether ext was registered.
func (b *BayeuxClient) RemoveExtension(ext MessageExtender) bool {
	b.extLock.Lock()
	found := false
	for i, registered := range b.exts {
		if ext == registered {
			b.exts = append(b.exts[:i:i], b.exts[i+1:]...)
			found = true
			break
		}
	}
	b.extLock.Unlock()

	if found {
		ext.Unregistered()
	}
	return found
}

func (b *BayeuxClient) extensions() []MessageExtender {
	b.extLock.RLock()
	defer b.extLock.RUnlock()
	return append([]MessageExtender(nil), b.exts...)
}

// exchange performs one tracked HTTP round trip. The request is refused
// once the tracker is cancelled and the response is discarded if the
// tracker is cancelled while it is being read.
func (b *BayeuxClient) exchange(ctx context.Context, logger Logger, ms []Message) ([]Message, error) {
	if len(ms) == 0 {
		return nil, EmptySliceError("messages")
	}
	req, err := b.tracker.begin(ms[0].Channel)
	if err != nil {
		return nil, err
	}
	defer b.tracker.end(req)
	defer b.assembler.Release(req.ID)

	logger = logger.WithField("request_id", req.ID)
	b.metrics.requestStarted(req.Channel)
	messages, size, err := b.roundTrip(ctx, logger, req, ms)
	b.metrics.requestFinished(req.Channel, req.Started, size, err)
	return messages, err
}

func (b *BayeuxClient) roundTrip(ctx context.Context, logger Logger, req *InFlightRequest, ms []Message) ([]Message, int, error) {
	exts := b.extensions()
	for _, ext := range exts {
		for i := range ms {
			ext.Outgoing(&ms[i])
		}
	}

	body, err := b.codec.Encode(ms)
	if err != nil {
		return nil, 0, &TransportError{Kind: ParseError, RequestID: req.ID, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.serverAddress.String(), bytes.NewReader(body))
	if err != nil {
		return nil, 0, &TransportError{Kind: NetworkError, RequestID: req.ID, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	logger.Debug("request sent", "channel", req.Channel)
	resp, err := b.client.Do(httpReq)
	if err != nil {
		var pinning *PinningError
		switch {
		case errors.As(err, &pinning):
			logger.WithError(err).Warn("server public key rejected")
			return nil, 0, &TransportError{Kind: PinningFailure, RequestID: req.ID, Err: err}
		case !b.tracker.check(req):
			return nil, 0, ErrCancelled
		}
		return nil, 0, &TransportError{Kind: NetworkError, RequestID: req.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, 0, BadResponseError{resp.StatusCode, resp.Status, payload}
	}

	messages, size, err := b.readFrames(req, resp.Body)
	if err != nil {
		return nil, size, err
	}

	for _, ext := range exts {
		for i := range messages {
			ext.Incoming(&messages[i])
		}
	}
	return messages, size, nil
}

// readFrames feeds the body to the assembler chunk by chunk until a complete
// frame can be extracted
func (b *BayeuxClient) readFrames(req *InFlightRequest, body io.Reader) ([]Message, int, error) {
	chunk := make([]byte, readChunkSize)
	size := 0
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			if !b.tracker.check(req) {
				return nil, size, ErrCancelled
			}
			size += n
			if err := b.assembler.Append(req.ID, chunk[:n]); err != nil {
				return nil, size, err
			}
			if messages, ok := b.assembler.TryExtractFrames(req.ID); ok {
				return messages, size, nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil, size, &TransportError{Kind: ParseError, RequestID: req.ID, Err: ErrIncompleteFrame}
		}
		if err != nil {
			if !b.tracker.check(req) {
				return nil, size, ErrCancelled
			}
			return nil, size, &TransportError{Kind: NetworkError, RequestID: req.ID, Err: err}
		}
	}
}

func (b *BayeuxClient) stateChanged(from, to TransportState) {
	b.logger.Debug("state changed", "from", from.String(), "to", to.String())
	b.metrics.stateChanged(to)
	b.listener.OnStateChange(from, to)
}

type clientState struct {
	clientID string
	lock     sync.RWMutex
}

func (cs *clientState) GetClientID() string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.clientID
}

func (cs *clientState) SetClientID(clientID string) {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.clientID = clientID
}
