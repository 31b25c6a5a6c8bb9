// Package bearer adds an OAuth2 style bearer token to Bayeux requests
package bearer

import (
	"errors"
	"net/http"
	"strings"
)

// ErrNoToken is returned when a request needs a token and none is
// configured
var ErrNoToken = errors.New("no Token provided to authenticator transport")

// Authenticator is an http.RoundTripper that sets the Authorization header
// on requests to matching hosts
type Authenticator struct {
	// Token is the access token sent as "Bearer <Token>"
	Token string
	// HostSuffix limits the header to hosts ending with it. An empty
	// suffix matches every host.
	HostSuffix string
	// Transport performs the request. http.DefaultTransport is used when
	// it is nil.
	Transport http.RoundTripper
}

// New creates an Authenticator wrapping transport
func New(token, hostSuffix string, transport http.RoundTripper) *Authenticator {
	return &Authenticator{Token: token, HostSuffix: hostSuffix, Transport: transport}
}

// RoundTrip implements the RoundTripper interface
func (a *Authenticator) RoundTrip(request *http.Request) (*http.Response, error) {
	if !a.matches(request.URL.Hostname()) {
		return a.transport().RoundTrip(request)
	}
	if a.Token == "" {
		return nil, ErrNoToken
	}

	newRequest := request.Clone(request.Context())
	newRequest.Header.Set("Authorization", "Bearer "+a.Token)
	return a.transport().RoundTrip(newRequest)
}

func (a *Authenticator) matches(host string) bool {
	return a.HostSuffix == "" || strings.HasSuffix(host, a.HostSuffix)
}

func (a *Authenticator) transport() http.RoundTripper {
	if a.Transport == nil {
		return http.DefaultTransport
	}
	return a.Transport
}
