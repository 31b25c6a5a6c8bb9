package gobayeuxtest

import (
	"time"

	"github.com/sigmavirus24/gobayeux/v3"
)

type ServerOpts interface {
	apply(s *Server)
}

type serverOptFn func(s *Server)

func (opt serverOptFn) apply(s *Server) {
	opt(s)
}

func WithHandshakeError(handshakeError bool) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.handshakeError = handshakeError
	})
}

// WithFailingConnects answers the first n /meta/connect requests with a 500
func WithFailingConnects(n int) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.failConnects = n
	})
}

// WithConnectDelay holds every /meta/connect reply for d, the way a real
// server holds a long-poll
func WithConnectDelay(d time.Duration) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.connectDelay = d
	})
}

// WithChunkSize writes reply bodies n bytes at a time
func WithChunkSize(n int) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.chunkSize = n
	})
}

// WithQuietConnect stops /meta/connect from generating a message for every
// subscription so only published messages are delivered
func WithQuietConnect() ServerOpts {
	return serverOptFn(func(s *Server) {
		s.quiet = true
	})
}

// WithAdvice replaces the advice sent on handshake and connect replies
func WithAdvice(advice *gobayeux.Advice) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.advice = advice
	})
}
