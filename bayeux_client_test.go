package gobayeux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFn func(*http.Request) (*http.Response, error)

func (fn roundTripFn) RoundTrip(r *http.Request) (*http.Response, error) {
	return fn(r)
}

// scriptedServer answers every request with whatever reply returns for the
// decoded request messages. wrap can alter the body reader.
func scriptedServer(t *testing.T, requests *atomic.Int32, wrap func(io.Reader) io.Reader, reply func([]Message) []Message) roundTripFn {
	t.Helper()
	return func(r *http.Request) (*http.Response, error) {
		if requests != nil {
			requests.Add(1)
		}
		var ms []Message
		if err := json.NewDecoder(r.Body).Decode(&ms); err != nil {
			return nil, err
		}
		body, err := json.Marshal(reply(ms))
		if err != nil {
			return nil, err
		}
		var reader io.Reader = bytes.NewReader(body)
		if wrap != nil {
			reader = wrap(reader)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     http.StatusText(http.StatusOK),
			Body:       io.NopCloser(reader),
		}, nil
	}
}

func handshakeReply(ms []Message) []Message {
	switch ms[0].Channel {
	case MetaHandshake:
		return []Message{{Channel: MetaHandshake, ClientID: "abc123", Successful: true}}
	case MetaConnect:
		return []Message{
			{Channel: "/foo/bar", Data: json.RawMessage(`{"n":1}`)},
			{Channel: MetaConnect, Successful: true},
		}
	default:
		replies := make([]Message, 0, len(ms))
		for _, m := range ms {
			replies = append(replies, Message{Channel: m.Channel, ID: m.ID, Subscription: m.Subscription, Successful: true})
		}
		return replies
	}
}

func staticResponse(status int, body string) roundTripFn {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	}
}

func TestClientState_GetClientID(t *testing.T) {
	want := "fakeClientID"
	state := clientState{clientID: want}
	got := state.GetClientID()
	if want != got {
		t.Errorf("error retrieving client ID; want %s got %s", want, got)
	}
}

func TestClientState_SetClientID(t *testing.T) {
	want := "fakeClientID"
	state := clientState{}
	state.SetClientID(want)
	if got := state.clientID; want != got {
		t.Errorf("error retrieving client ID; want %s got %s", want, got)
	}
}

func TestNewBayeuxClient_Endpoint(t *testing.T) {
	testCases := []struct {
		name          string
		serverAddress string
		shouldErr     bool
	}{
		{"https", "https://example.com/cometd", false},
		{"http", "http://127.0.0.1:8080/cometd", false},
		{"websocket scheme", "wss://example.com/cometd", true},
		{"relative", "/cometd", true},
		{"unparsable", "http://192.168.0.%31/", true},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBayeuxClient(tc.serverAddress)
			if tc.shouldErr {
				assert.ErrorIs(t, err, ErrInvalidEndpoint)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewBayeuxClient_PinningNeedsHTTPTransport(t *testing.T) {
	_, err := NewBayeuxClient("https://example.com",
		WithHTTPTransport(staticResponse(http.StatusOK, "[]")),
		WithPinnedKeys(PinnedKey{1}),
	)
	assert.ErrorIs(t, err, ErrPinningUnsupported)
}

func TestBayeuxClient_StreamsChunkedResponses(t *testing.T) {
	var requests atomic.Int32
	client, err := NewBayeuxClient("https://example.com",
		WithHTTPTransport(scriptedServer(t, &requests, iotest.OneByteReader, handshakeReply)),
	)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.Handshake(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", client.ClientID())
	assert.Equal(t, Connected, client.State())

	ms, err := client.Connect(ctx)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, Channel("/foo/bar"), ms[0].Channel)
	assert.JSONEq(t, `{"n":1}`, string(ms[0].Data))

	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, 0, client.assembler.Pending(), "buffers are released after every exchange")
	assert.Equal(t, 0, client.tracker.outstanding())
}

func TestBayeuxClient_ExchangeFailures(t *testing.T) {
	testCases := []struct {
		name    string
		opts    []Option
		rt      http.RoundTripper
		kind    ErrorKind
		wantErr error
	}{
		{
			name: "non 200",
			rt:   staticResponse(http.StatusBadGateway, "upstream gone"),
			kind: NetworkError,
		},
		{
			name:    "truncated body",
			rt:      staticResponse(http.StatusOK, `[{"channel":"/meta/handshake"`),
			kind:    ParseError,
			wantErr: ErrIncompleteFrame,
		},
		{
			name:    "frame too large",
			opts:    []Option{WithMaxResponseSize(16)},
			rt:      staticResponse(http.StatusOK, `[{"channel":"/meta/handshake","successful":true}]`),
			kind:    FrameTooLarge,
			wantErr: ErrFrameTooLarge,
		},
		{
			name:    "transport error",
			rt:      roundTripFn(func(*http.Request) (*http.Response, error) { return nil, errors.New("connection refused") }),
			kind:    NetworkError,
			wantErr: nil,
		},
		{
			name: "unsuccessful handshake",
			rt:   staticResponse(http.StatusOK, `[{"channel":"/meta/handshake","successful":false,"error":"403::denied"}]`),
			kind: ProtocolError,
		},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewBayeuxClient("https://example.com", append(tc.opts, WithHTTPTransport(tc.rt))...)
			require.NoError(t, err)

			_, err = client.Handshake(context.Background())
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			assert.Equal(t, Reconnecting, client.State())
			assert.Equal(t, 0, client.assembler.Pending())
		})
	}
}

func TestBayeuxClient_CancelledTrackerRefusesRequests(t *testing.T) {
	var requests atomic.Int32
	client, err := NewBayeuxClient("https://example.com",
		WithHTTPTransport(scriptedServer(t, &requests, nil, handshakeReply)),
	)
	require.NoError(t, err)

	client.tracker.cancel()
	_, err = client.Handshake(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, int32(0), requests.Load())
}

func TestBayeuxClient_RequiresSession(t *testing.T) {
	client, err := NewBayeuxClient("https://example.com",
		WithHTTPTransport(staticResponse(http.StatusOK, "[]")),
	)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.Connect(ctx)
	assert.ErrorIs(t, err, ErrClientNotConnected)
	_, err = client.Subscribe(ctx, []Channel{"/foo"})
	assert.ErrorIs(t, err, ErrClientNotConnected)
	_, err = client.Unsubscribe(ctx, []Channel{"/foo"})
	assert.ErrorIs(t, err, ErrClientNotConnected)
	_, err = client.Publish(ctx, "/foo", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrClientNotConnected)
	_, err = client.Disconnect(ctx)
	assert.ErrorIs(t, err, ErrClientNotConnected)
}

func TestBayeuxClient_Publish(t *testing.T) {
	var rejected atomic.Bool
	reply := func(ms []Message) []Message {
		if ms[0].Channel == MetaHandshake || !rejected.Load() {
			return handshakeReply(ms)
		}
		return []Message{{Channel: ms[0].Channel, ID: ms[0].ID, Successful: false, Error: "403::publish denied"}}
	}
	client, err := NewBayeuxClient("https://example.com",
		WithHTTPTransport(scriptedServer(t, nil, nil, reply)),
	)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = client.Handshake(ctx)
	require.NoError(t, err)

	ms, err := client.Publish(ctx, "/chat/room", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.True(t, ms[0].Successful)
	assert.Equal(t, "1", ms[0].ID)

	rejected.Store(true)
	_, err = client.Publish(ctx, "/chat/room", json.RawMessage(`{"text":"hi"}`))
	var publishErr PublishFailedError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, Channel("/chat/room"), publishErr.Channel)
	assert.Equal(t, ProtocolError, KindOf(err))

	_, err = client.Publish(ctx, "/chat/*", json.RawMessage(`{}`))
	assert.Error(t, err, "wildcard channels can't be published to")
}

type recordingExtension struct {
	name       string
	registered string
	outgoing   []Channel
	incoming   []Channel
	removed    bool
}

func (e *recordingExtension) Name() string { return e.name }

func (e *recordingExtension) Outgoing(m *Message) {
	e.outgoing = append(e.outgoing, m.Channel)
	m.GetExt(true)["seen"] = true
}

func (e *recordingExtension) Incoming(m *Message) {
	e.incoming = append(e.incoming, m.Channel)
}

func (e *recordingExtension) Registered(name string, _ *BayeuxClient) { e.registered = name }

func (e *recordingExtension) Unregistered() { e.removed = true }

func TestBayeuxClient_Extensions(t *testing.T) {
	var sawExt atomic.Bool
	reply := func(ms []Message) []Message {
		if seen, _ := ms[0].Ext["seen"].(bool); seen {
			sawExt.Store(true)
		}
		return handshakeReply(ms)
	}
	ext := &recordingExtension{name: "recorder"}
	client, err := NewBayeuxClient("https://example.com",
		WithHTTPTransport(scriptedServer(t, nil, nil, reply)),
		WithExtension(ext),
	)
	require.NoError(t, err)
	assert.Equal(t, "recorder", ext.registered)

	var already AlreadyRegisteredError
	assert.ErrorAs(t, client.UseExtension(ext), &already)

	_, err = client.Handshake(context.Background())
	require.NoError(t, err)
	assert.True(t, sawExt.Load(), "outgoing changes are sent to the server")
	assert.Equal(t, []Channel{MetaHandshake}, ext.outgoing)
	assert.Equal(t, []Channel{MetaHandshake}, ext.incoming)

	assert.True(t, client.RemoveExtension(ext))
	assert.True(t, ext.removed)
	assert.False(t, client.RemoveExtension(ext))
}

func TestBayeuxClient_DisconnectEndsSession(t *testing.T) {
	client, err := NewBayeuxClient("https://example.com",
		WithHTTPTransport(scriptedServer(t, nil, nil, handshakeReply)),
	)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = client.Handshake(ctx)
	require.NoError(t, err)

	_, err = client.Disconnect(ctx)
	require.NoError(t, err)
	assert.Equal(t, Idle, client.State())
	assert.Empty(t, client.ClientID())
}
