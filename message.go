package gobayeux

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	timestampFmt = "2006-01-02T15:04:05.00"
)

// Message is one element of the JSON array carried by every Bayeux request
// and response body. Field names follow
// https://docs.cometd.org/current/reference/#_bayeux_message_fields
type Message struct {
	// Advice is set by the server on meta replies and steers reconnection
	Advice *Advice `json:"advice,omitempty"`
	// ID correlates a reply with its request
	ID string `json:"id,omitempty"`
	// Channel the message was sent on
	Channel Channel `json:"channel"`
	// ClientID is the session token handed out by /meta/handshake
	ClientID string `json:"clientId,omitempty"`
	// Data is the application payload, kept raw so subscribers decode it
	// into their own types
	Data json.RawMessage `json:"data,omitempty"`
	// Version and MinimumVersion are only exchanged on /meta/handshake
	Version        string `json:"version,omitempty"`
	MinimumVersion string `json:"minimumVersion,omitempty"`
	// SupportedConnectionTypes is negotiated on /meta/handshake. This client
	// only offers long-polling.
	SupportedConnectionTypes []string `json:"supportedConnectionTypes,omitempty"`
	// ConnectionType is required on every /meta/connect request
	ConnectionType string `json:"connectionType,omitempty"`
	// Timestamp uses the `YYYY-MM-DDThh:mm:ss.ss` profile, see
	// TimestampAsTime
	Timestamp string `json:"timestamp,omitempty"`
	// Successful is set on every meta and publish reply
	Successful     bool `json:"successful,omitempty"`
	AuthSuccessful bool `json:"authSuccessful,omitempty"`
	// Subscription names the channel of a /meta/subscribe or
	// /meta/unsubscribe exchange
	Subscription Channel `json:"subscription,omitempty"`
	// Error is the `code:args:message` string of a failed reply, see
	// ParseError
	Error string `json:"error,omitempty"`
	// Ext is read and written by MessageExtenders
	Ext map[string]any `json:"ext,omitempty"`
}

// TimestampAsTime parses Timestamp
func (m *Message) TimestampAsTime() (time.Time, error) {
	return time.Parse(timestampFmt, m.Timestamp)
}

// ParseError splits Error into its code, arguments and description. A value
// that is not in `code:args:message` form yields ErrMessageUnparsable.
//
// See also: https://docs.cometd.org/current/reference/#_error
func (m *Message) ParseError() (MessageError, error) {
	pieces := strings.SplitN(m.Error, ":", 3)
	if len(pieces) != 3 {
		return MessageError{}, ErrMessageUnparsable(m.Error)
	}
	code, err := strconv.Atoi(pieces[0])
	if err != nil {
		return MessageError{}, err
	}
	var args []string
	if pieces[1] != "" {
		args = strings.Split(pieces[1], ",")
	}
	return MessageError{
		ErrorCode:    code,
		ErrorArgs:    args,
		ErrorMessage: pieces[2],
	}, nil
}

// GetExt returns Ext, allocating it first when create is set
func (m *Message) GetExt(create bool) map[string]any {
	if m.Ext == nil && create {
		m.Ext = make(map[string]any)
	}
	return m.Ext
}

// IsMeta reports whether the message travels on a /meta/ channel
func (m *Message) IsMeta() bool {
	return m.Channel.Type() == MetaChannel
}

// Advice is the server's reconnection advice. Every method is safe on a nil
// *Advice, which stands for "no advice".
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_advice
type Advice struct {
	// Reconnect is one of ReconnectRetry, ReconnectHandshake or ReconnectNone
	Reconnect string `json:"reconnect,omitempty"`
	// Timeout is how long, in milliseconds, the server holds a /meta/connect
	Timeout int `json:"timeout,omitempty"`
	// Interval is the minimum pause, in milliseconds, before the next
	// /meta/connect
	Interval        int      `json:"interval,omitempty"`
	MultipleClients bool     `json:"multiple-clients,omitempty"`
	Hosts           []string `json:"hosts,omitempty"`
}

const (
	// ReconnectRetry advises the client to retry /meta/connect after the
	// interval
	ReconnectRetry = "retry"
	// ReconnectHandshake advises the client that its session is gone and a
	// new /meta/handshake is required
	ReconnectHandshake = "handshake"
	// ReconnectNone advises the client to neither retry nor handshake
	ReconnectNone = "none"
)

// MustNotRetryOrHandshake reports a `reconnect: none` advice, after which the
// transport stops with ErrReconnectNone
func (a *Advice) MustNotRetryOrHandshake() bool {
	return a != nil && a.Reconnect == ReconnectNone
}

// ShouldRetry reports a `reconnect: retry` advice
func (a *Advice) ShouldRetry() bool {
	return a != nil && a.Reconnect == ReconnectRetry
}

// ShouldHandshake reports a `reconnect: handshake` advice
func (a *Advice) ShouldHandshake() bool {
	return a != nil && a.Reconnect == ReconnectHandshake
}

// TimeoutAsDuration converts Timeout
func (a *Advice) TimeoutAsDuration() time.Duration {
	if a == nil {
		return 0
	}
	return time.Duration(a.Timeout) * time.Millisecond
}

// IntervalAsDuration converts Interval
func (a *Advice) IntervalAsDuration() time.Duration {
	if a == nil {
		return 0
	}
	return time.Duration(a.Interval) * time.Millisecond
}

// RetryDelay raises a backoff delay to the advised interval
func (a *Advice) RetryDelay(backoff time.Duration) time.Duration {
	if interval := a.IntervalAsDuration(); interval > backoff {
		return interval
	}
	return backoff
}

// MessageError is the parsed form of Message.Error
type MessageError struct {
	ErrorCode    int
	ErrorArgs    []string
	ErrorMessage string
}

const (
	// ConnectionTypeLongPolling is the only connection type this client
	// speaks
	ConnectionTypeLongPolling string = "long-polling"
	// ConnectionTypeCallbackPolling is accepted by the handshake builder for
	// servers that list it
	ConnectionTypeCallbackPolling = "callback-polling"
	// ConnectionTypeIFrame is accepted by the handshake builder for servers
	// that list it
	ConnectionTypeIFrame = "iframe"
)
