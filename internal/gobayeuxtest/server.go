package gobayeuxtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/sigmavirus24/gobayeux/v3"
)

const (
	VERSION = "1.0"

	defaultConnectDelay = 10 * time.Millisecond
)

var (
	chars    = []rune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmonpqrstuvwxyz0123456789")
	numChars = len(chars)
)

type Logger interface {
	Log(args ...any)
	Logf(format string, args ...any)
}

// Server is an in-memory Bayeux server. It can be used directly as an
// http.RoundTripper or mounted as an http.Handler, for example behind
// httptest.NewTLSServer.
type Server struct {
	log Logger

	mu       sync.Mutex
	running  bool
	subs     map[string][]gobayeux.Channel
	pending  map[string][]*gobayeux.Message
	requests int
	connects int

	handshakeError bool
	failConnects   int
	connectDelay   time.Duration
	chunkSize      int
	quiet          bool
	advice         *gobayeux.Advice
}

func NewServer(logger Logger, opts ...ServerOpts) *Server {
	server := &Server{
		log:          logger,
		subs:         make(map[string][]gobayeux.Channel),
		pending:      make(map[string][]*gobayeux.Message),
		connectDelay: defaultConnectDelay,
		advice: &gobayeux.Advice{
			Reconnect: gobayeux.ReconnectRetry,
			Timeout:   30000,
		},
	}

	for _, opt := range opts {
		opt.apply(server)
	}

	return server
}

func (s *Server) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = true

	return nil
}

func (s *Server) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false

	return nil
}

// Requests returns how many requests the server has answered
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Publish queues a message on channel for every client with a matching
// subscription. It is delivered on the client's next /meta/connect.
func (s *Server) Publish(channel gobayeux.Channel, data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(&gobayeux.Message{Channel: channel, ID: generateID(5), Data: data})
}

func (s *Server) publish(msg *gobayeux.Message) {
	for clientID, channels := range s.subs {
		for _, ch := range channels {
			if ch.Match(msg.Channel) {
				s.pending[clientID] = append(s.pending[clientID], msg)
				break
			}
		}
	}
}

func (s *Server) RoundTrip(req *http.Request) (*http.Response, error) {
	defer func() {
		if err := req.Body.Close(); err != nil {
			s.log.Logf("could not close test server request body: %+v", err)
		}
	}()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("issue reading body (%w)", err)
	}

	statusCode, reply, hold, err := s.handle(body)
	if err != nil {
		return nil, err
	}
	if hold && !s.hold(req.Context()) {
		return nil, req.Context().Err()
	}

	return &http.Response{
		StatusCode: statusCode,
		Status:     http.StatusText(statusCode),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(&chunkReader{data: reply, size: s.chunkSize}),
		Request:    req,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	statusCode, reply, hold, err := s.handle(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if hold && !s.hold(r.Context()) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	flusher, _ := w.(http.Flusher)
	chunks := &chunkReader{data: reply, size: s.chunkSize}
	buf := make([]byte, len(reply)+1)
	for {
		n, err := chunks.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) hold(ctx context.Context) bool {
	if s.connectDelay <= 0 {
		return true
	}
	timer := time.NewTimer(s.connectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// handle answers one request body. hold reports whether the body contained
// a /meta/connect whose reply should be delayed.
func (s *Server) handle(body []byte) (int, []byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return 0, nil, false, errors.New("server not running")
	}
	s.requests++

	var msgs []*gobayeux.Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		return http.StatusUnprocessableEntity, nil, false, nil
	}

	replies := []*gobayeux.Message{}
	statusCode := http.StatusOK
	hold := false

	for _, msg := range msgs {
		switch msg.Channel {
		case gobayeux.MetaHandshake:
			if s.handshakeError {
				// For error parsing tests, always return a 400 Bad Request for handshake
				return http.StatusBadRequest, []byte(`{"error":"Invalid request"}`), false, nil
			}
			replies = append(replies, &gobayeux.Message{
				Channel:                  gobayeux.MetaHandshake,
				Version:                  msg.Version,
				SupportedConnectionTypes: msg.SupportedConnectionTypes,
				ClientID:                 generateID(10),
				Successful:               true,
				AuthSuccessful:           true,
				Advice:                   s.advice,
				ID:                       msg.ID,
			})

		case gobayeux.MetaConnect:
			s.connects++
			if s.connects <= s.failConnects {
				return http.StatusInternalServerError, []byte(`{"error":"connect failed"}`), false, nil
			}
			hold = true

			if !s.quiet {
				for _, ch := range s.subs[msg.ClientID] {
					replies = append(replies, &gobayeux.Message{
						Channel:    ch,
						ID:         generateID(5),
						ClientID:   msg.ClientID,
						Data:       json.RawMessage(`{}`),
						Successful: true,
					})
				}
			}
			replies = append(replies, s.pending[msg.ClientID]...)
			delete(s.pending, msg.ClientID)

			replies = append(replies, &gobayeux.Message{
				Channel:    gobayeux.MetaConnect,
				Successful: true,
				ClientID:   msg.ClientID,
				Advice:     s.advice,
				ID:         msg.ID,
			})
		case gobayeux.MetaSubscribe:
			if _, ok := s.subs[msg.ClientID]; !ok {
				s.subs[msg.ClientID] = make([]gobayeux.Channel, 0)
			}

			reply := &gobayeux.Message{
				Channel:      gobayeux.MetaSubscribe,
				ID:           msg.ID,
				ClientID:     msg.ClientID,
				Successful:   true,
				Subscription: msg.Subscription,
			}

			for _, ch := range s.subs[msg.ClientID] {
				if ch == msg.Subscription {
					statusCode = http.StatusBadRequest
					reply.Successful = false
					reply.Error = "403:%s:already subscribed"
				}
			}

			s.subs[msg.ClientID] = append(s.subs[msg.ClientID], msg.Subscription)

			replies = append(replies, reply)
		case gobayeux.MetaUnsubscribe:
			if _, ok := s.subs[msg.ClientID]; !ok {
				s.subs[msg.ClientID] = make([]gobayeux.Channel, 0)
			}

			reply := &gobayeux.Message{
				Channel:      gobayeux.MetaUnsubscribe,
				ID:           msg.ID,
				ClientID:     msg.ClientID,
				Successful:   true,
				Subscription: msg.Subscription,
			}

			found := false
			subs := []gobayeux.Channel{}
			for _, ch := range s.subs[msg.ClientID] {
				if ch == msg.Subscription {
					found = true
					continue
				}

				subs = append(subs, ch)
			}

			s.subs[msg.ClientID] = subs

			if !found {
				statusCode = http.StatusBadRequest
				reply.Successful = false
				reply.Error = "403:%s:not subscribed"
			}

			replies = append(replies, reply)
		case gobayeux.MetaDisconnect:
			delete(s.subs, msg.ClientID)
			delete(s.pending, msg.ClientID)

			replies = append(replies, &gobayeux.Message{
				Channel:    gobayeux.MetaDisconnect,
				ID:         msg.ID,
				ClientID:   msg.ClientID,
				Successful: true,
			})
		default:
			if msg.Channel.Type() != gobayeux.BroadcastChannel {
				s.log.Logf("unhandled: %+v", msg)
				continue
			}
			s.publish(&gobayeux.Message{Channel: msg.Channel, ID: generateID(5), Data: msg.Data})
			replies = append(replies, &gobayeux.Message{
				Channel:    msg.Channel,
				ID:         msg.ID,
				Successful: true,
			})
		}
	}

	reply, err := json.Marshal(replies)
	if err != nil {
		return 0, nil, false, fmt.Errorf("issue marshaling body (%w)", err)
	}

	return statusCode, reply, hold, nil
}

// chunkReader hands out data at most size bytes per Read. A size of zero
// or less returns everything at once.
type chunkReader struct {
	data []byte
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := len(c.data)
	if c.size > 0 && n > c.size {
		n = c.size
	}
	n = copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func generateID(length int) string {
	ret := make([]rune, length)
	for i := range ret {
		ret[i] = chars[rand.Intn(numChars)]
	}

	return string(ret)
}

var _ http.RoundTripper = (*Server)(nil)
var _ http.Handler = (*Server)(nil)
