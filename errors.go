package gobayeux

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// ErrClientNotConnected is returned when the client is not connected
	ErrClientNotConnected = sentinel("client not connected to server")

	// ErrTooManyMessages is returned when there is more than one handshake message
	ErrTooManyMessages = sentinel("more messages than expected in handshake response")

	// ErrBadChannel is returned when the handshake response is on the wrong channel
	ErrBadChannel = sentinel("handshake responses must come back via the /meta/handshake channel")

	// ErrFailedToConnect is a general connection error
	ErrFailedToConnect = sentinel("connect request was not successful")

	// ErrNoSupportedConnectionTypes is returned when the client and server
	// aren't able to agree on a connection type
	ErrNoSupportedConnectionTypes = sentinel("no supported connection types provided")

	// ErrNoVersion is returned when a version is not provided
	ErrNoVersion = sentinel("no version specified")

	// ErrMissingClientID is returned when the client id has not been set
	ErrMissingClientID = sentinel("missing clientID value")

	// ErrMissingConnectionType is returned when the connection type is unset
	ErrMissingConnectionType = sentinel("missing connectionType value")

	// ErrPinningFailure is returned when the server presents a public key that
	// is not part of the configured pin set
	ErrPinningFailure = sentinel("server public key is not pinned")

	// ErrFrameTooLarge is returned when a response grows past the maximum
	// buffer size without forming a complete frame
	ErrFrameTooLarge = sentinel("response exceeded maximum frame size")

	// ErrIncompleteFrame is returned when a response body ends before a
	// complete frame could be extracted
	ErrIncompleteFrame = sentinel("response ended without a complete frame")

	// ErrCancelled is returned when a request is attempted after the
	// transport was cancelled
	ErrCancelled = sentinel("transport cancelled")

	// ErrAlreadyStarted is returned when Start is called more than once
	ErrAlreadyStarted = sentinel("transport already started")

	// ErrInvalidEndpoint is returned when the server address can't be used
	// for long-polling
	ErrInvalidEndpoint = sentinel("server address must be an absolute http or https URL")

	// ErrMaxRetriesExceeded is reported when the configured number of
	// consecutive reconnect attempts has been used up
	ErrMaxRetriesExceeded = sentinel("maximum reconnect attempts exceeded")

	// ErrPinningUnsupported is returned when key pinning is configured with
	// a RoundTripper that is not an *http.Transport
	ErrPinningUnsupported = sentinel("key pinning requires an *http.Transport")

	// ErrReconnectNone is reported when the server advises the client to
	// neither retry nor handshake
	ErrReconnectNone = sentinel("server advised not to reconnect")
)

type sentinel string

func (s sentinel) Error() string {
	return string(s)
}

// ErrorKind classifies failures reported by the transport
type ErrorKind string

const (
	// NetworkError covers refused connections, timeouts, DNS failures and
	// unexpected HTTP statuses
	NetworkError ErrorKind = "network"
	// PinningFailure means the presented public key was not pinned
	PinningFailure ErrorKind = "pinning"
	// ParseError means the server sent a malformed payload
	ParseError ErrorKind = "parse"
	// FrameTooLarge means the response buffer limit was reached
	FrameTooLarge ErrorKind = "frame_too_large"
	// ProtocolError means the server answered with an unsuccessful Bayeux
	// reply
	ProtocolError ErrorKind = "protocol"
)

// TransportError attaches an ErrorKind and the in-flight request identifier
// to an error raised during an exchange
type TransportError struct {
	Kind      ErrorKind
	RequestID string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s error (%s)", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// KindOf classifies err. Errors that carry no better classification are
// reported as NetworkError since they're all retried the same way.
func KindOf(err error) ErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}

	var pe *PinningError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &pe), errors.Is(err, ErrPinningFailure):
		return PinningFailure
	case errors.Is(err, ErrFrameTooLarge):
		return FrameTooLarge
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr),
		errors.As(err, new(ErrMessageUnparsable)),
		errors.Is(err, ErrIncompleteFrame), errors.Is(err, io.ErrUnexpectedEOF):
		return ParseError
	case errors.As(err, new(*ActionFailedError)), errors.Is(err, ErrFailedToConnect),
		errors.Is(err, ErrBadChannel), errors.Is(err, ErrTooManyMessages):
		return ProtocolError
	}
	return NetworkError
}

// PinningError is returned from the TLS verification hook when the server's
// public key isn't in the pin set
type PinningError struct {
	// Presented is the key derived from the server's first certificate. It
	// is the zero value when no key could be extracted.
	Presented PinnedKey
}

func (e *PinningError) Error() string {
	if e.Presented.IsZero() {
		return "server public key is not pinned (no key could be extracted)"
	}
	return fmt.Sprintf("server public key %s is not pinned", e.Presented)
}

func (e *PinningError) Unwrap() error {
	return ErrPinningFailure
}

// ConnectionFailedError is returned whenever Connect is called and it fails
type ConnectionFailedError struct {
	Err error
}

func (e ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection failed (%s)", e.Err)
}

func (e ConnectionFailedError) Unwrap() error {
	return e.Err
}

// HandshakeFailedError is returned whenever the handshake fails
type HandshakeFailedError struct {
	Err error
}

func (e HandshakeFailedError) Error() string {
	return e.Err.Error()
}

func (e HandshakeFailedError) Unwrap() error {
	return e.Err
}

func newHandshakeError(msg string) *HandshakeFailedError {
	return &HandshakeFailedError{
		&ActionFailedError{"complete handshake", msg},
	}
}

// SubscriptionFailedError is returned for any errors on Subscribe
type SubscriptionFailedError struct {
	Channels []Channel
	Err      error
}

func (e SubscriptionFailedError) Error() string {
	return fmt.Sprintf("subscription failed (%s)", e.Err)
}

func (e SubscriptionFailedError) Unwrap() error {
	return e.Err
}

// UnsubscribeFailedError is returned for any errors on Unsubscribe
type UnsubscribeFailedError struct {
	Channels []Channel
	Err      error
}

func (e UnsubscribeFailedError) Error() string {
	return fmt.Sprintf("unsubscribe failed (%s)", e.Err)
}

func (e UnsubscribeFailedError) Unwrap() error {
	return e.Err
}

// PublishFailedError is returned when a publish request is rejected
type PublishFailedError struct {
	Channel Channel
	Err     error
}

func (e PublishFailedError) Error() string {
	return fmt.Sprintf("publish to %s failed (%s)", e.Channel, e.Err)
}

func (e PublishFailedError) Unwrap() error {
	return e.Err
}

// ActionFailedError is a general purpose error returned by the BayeuxClient
type ActionFailedError struct {
	Action       string
	ErrorMessage string
}

func (e *ActionFailedError) Error() string {
	return fmt.Sprintf("unable to %s: %s", e.Action, e.ErrorMessage)
}

func newSubscribeError(msg string) *ActionFailedError {
	return &ActionFailedError{"subscribe to channels", msg}
}

func newUnsubscribeError(msg string) *ActionFailedError {
	return &ActionFailedError{"unsubscribe from channels", msg}
}

func newPublishError(msg string) *ActionFailedError {
	return &ActionFailedError{"publish to channel", msg}
}

// DisconnectFailedError is returned when the call to Disconnect fails
type DisconnectFailedError struct {
	Err error
}

func (e DisconnectFailedError) Error() string {
	msg := "unable to disconnect from Bayeux server"

	if e.Err == nil {
		return msg
	}

	return fmt.Sprintf("%s (%s)", msg, e.Err)
}

func (e DisconnectFailedError) Unwrap() error {
	return e.Err
}

// AlreadyRegisteredError signifies that the given MessageExtender is already
// registered with the client
type AlreadyRegisteredError struct {
	MessageExtender
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("extension already registered: %s", e.MessageExtender)
}

// BadResponseError is returned when we get an unexpected HTTP response from the server
type BadResponseError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e BadResponseError) Error() string {
	return fmt.Sprintf(
		"expected 200 response from bayeux server, got %d with status '%s' and body '%s'",
		e.StatusCode,
		e.Status,
		e.Body,
	)
}

// BadConnectionTypeError is returned when we don't know how to handle the
// requested connection type
type BadConnectionTypeError struct {
	ConnectionType string
}

func (e BadConnectionTypeError) Error() string {
	return fmt.Sprintf("%q is not a valid connection type", e.ConnectionType)
}

// BadConnectionVersionError is returned when we can't support the requested
// version number
type BadConnectionVersionError struct {
	Version string
}

func (e BadConnectionVersionError) Error() string {
	return fmt.Sprintf("version %q is invalid for Bayeux protocol", e.Version)
}

// InvalidChannelError is the result of a failure to validate a channel name
type InvalidChannelError struct {
	Channel
}

func (e InvalidChannelError) Error() string {
	return fmt.Sprintf("channel %q appears to not be a valid channel", e.Channel)
}

// EmptySliceError is returned when an empty slice is unexpected
type EmptySliceError string

func (e EmptySliceError) Error() string {
	return fmt.Sprintf("no %s provided", string(e))
}

// ErrMessageUnparsable is returned when we fail to parse a message
type ErrMessageUnparsable string

func (e ErrMessageUnparsable) Error() string {
	return fmt.Sprintf("error message not parseable: %s", string(e))
}

// BadStateError is returned when the state machine transition is not valid
type BadStateError struct {
	CurrentState TransportState
	Event        Event
	Message      string
}

func (e BadStateError) Error() string {
	return fmt.Sprintf("%s, (current: %s, event: %s)", e.Message, e.CurrentState, e.Event)
}

// BadHandshakeError is returned when trying to handshake from a state that
// does not allow it
type BadHandshakeError struct {
	*BadStateError
}

func newBadHandshake(current TransportState) *BadHandshakeError {
	return &BadHandshakeError{
		&BadStateError{
			Message:      "attempting to handshake but not idle or reconnecting",
			CurrentState: current,
			Event:        handshakeSent,
		},
	}
}

// BadConnectionError is returned when a successful connect arrives in a
// state that does not expect one
type BadConnectionError struct {
	*BadStateError
}

func newBadConnection(current TransportState) *BadConnectionError {
	return &BadConnectionError{
		&BadStateError{
			Message:      "invalid state for successful connect response event",
			CurrentState: current,
			Event:        successfullyConnected,
		},
	}
}

// UnknownEventTypeError is returned when the next state is unknown
type UnknownEventTypeError struct {
	Event
}

func (e UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type (%q)", e.Event)
}
