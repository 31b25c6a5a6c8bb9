package gobayeux

import (
	"net/http"
	"net/http/cookiejar"

	"golang.org/x/net/publicsuffix"
)

// Options stores the available configuration options for a BayeuxClient,
// LongPollingTransport or Client
type Options struct {
	Client          *http.Client
	Transport       http.RoundTripper
	Logger          Logger
	PinStore        *KeyPinStore
	Backoff         BackoffPolicy
	MaxResponseSize int
	Codec           Codec
	Listener        Listener
	Metrics         *Metrics
	IgnoreError     func(err error) bool
	Extensions      []MessageExtender
	Wrappers        []func(http.RoundTripper) http.RoundTripper
}

// Option is a functional option applied to Options
type Option func(*Options)

func newOptions(opts []Option) *Options {
	options := &Options{
		Logger:          newNullLogger(),
		Backoff:         DefaultBackoffPolicy(),
		MaxResponseSize: DefaultMaxResponseSize,
		Codec:           JSONCodec{},
		Listener:        ListenerFuncs{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

// WithHTTPClient uses client for every exchange. The client is copied, not
// modified.
func WithHTTPClient(client *http.Client) Option {
	return func(options *Options) {
		options.Client = client
	}
}

// WithHTTPTransport uses transport as the RoundTripper for every exchange
func WithHTTPTransport(transport http.RoundTripper) Option {
	return func(options *Options) {
		options.Transport = transport
	}
}

// WithPinnedKeys restricts TLS connections to servers presenting one of keys
func WithPinnedKeys(keys ...PinnedKey) Option {
	return func(options *Options) {
		options.PinStore = NewKeyPinStore(keys...)
	}
}

// WithKeyPinStore restricts TLS connections to servers presenting a key in
// store
func WithKeyPinStore(store *KeyPinStore) Option {
	return func(options *Options) {
		options.PinStore = store
	}
}

// WithBackoff replaces the reconnect backoff policy, including its
// MaxRetries
func WithBackoff(policy BackoffPolicy) Option {
	return func(options *Options) {
		options.Backoff = policy
	}
}

// WithMaxRetries stops reconnecting after n consecutive failures
func WithMaxRetries(n int) Option {
	return func(options *Options) {
		options.Backoff.MaxRetries = n
	}
}

// WithMaxResponseSize bounds how many bytes of a single response are
// buffered. Zero or less removes the bound.
func WithMaxResponseSize(n int) Option {
	return func(options *Options) {
		options.MaxResponseSize = n
	}
}

// WithCodec replaces the JSON codec used for request and response bodies
func WithCodec(codec Codec) Option {
	return func(options *Options) {
		if codec != nil {
			options.Codec = codec
		}
	}
}

// WithListener receives transport callbacks
func WithListener(listener Listener) Option {
	return func(options *Options) {
		if listener != nil {
			options.Listener = listener
		}
	}
}

// WithMetrics records transport metrics on m
func WithMetrics(m *Metrics) Option {
	return func(options *Options) {
		options.Metrics = m
	}
}

// WithIgnoreError keeps errors for which ignore returns true off the
// Client's error channel
func WithIgnoreError(ignore func(err error) bool) Option {
	return func(options *Options) {
		options.IgnoreError = ignore
	}
}

// WithExtension registers ext on the session when it is created
func WithExtension(ext MessageExtender) Option {
	return func(options *Options) {
		options.Extensions = append(options.Extensions, ext)
	}
}

// WithTransportWrapper wraps the final RoundTripper, after key pinning has
// been configured on it. Wrappers are applied in the order given.
func WithTransportWrapper(wrap func(http.RoundTripper) http.RoundTripper) Option {
	return func(options *Options) {
		if wrap != nil {
			options.Wrappers = append(options.Wrappers, wrap)
		}
	}
}

// httpClient builds the http.Client used for exchanges. The pin check is
// installed on a clone of the underlying *http.Transport.
func (o *Options) httpClient() (*http.Client, error) {
	var client http.Client
	if o.Client != nil {
		client = *o.Client
	} else {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
		client.Jar = jar
	}

	transport := o.Transport
	if transport == nil {
		transport = client.Transport
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	if o.PinStore.Enabled() {
		base, ok := transport.(*http.Transport)
		if !ok {
			return nil, ErrPinningUnsupported
		}
		pinned := base.Clone()
		pinned.TLSClientConfig = o.PinStore.TLSConfig(base.TLSClientConfig)
		transport = pinned
	}
	for _, wrap := range o.Wrappers {
		transport = wrap(transport)
	}

	client.Transport = transport
	return &client, nil
}
