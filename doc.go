// Package gobayeux provides a long-polling client for servers implementing
// the Bayeux Protocol, such as CometD.
//
// There are three layers. BayeuxClient performs single protocol exchanges
// (handshake, connect, subscribe, publish, disconnect) and reassembles
// chunked responses. LongPollingTransport drives a BayeuxClient through the
// handshake, connect and reconnect cycle and dispatches every received
// message to the subscriptions whose pattern matches its channel. Client
// adds queued subscribe and unsubscribe requests on top of the transport and
// delivers messages on chans.
//
// The easiest way to get started is with NewClient
//
//	client, err := gobayeux.NewClient("https://localhost:8080/cometd")
//	if err != nil {
//		return err
//	}
//	errs := client.Start(ctx)
//
//	recv := make(chan []gobayeux.Message)
//	client.Subscribe("/example/*", recv)
//
// Channel patterns may use "*" to match a single segment and a trailing
// "**" to match any number of trailing segments.
//
// Callers that prefer callbacks can use the transport directly
//
//	transport, err := gobayeux.NewLongPollingTransport(serverAddress,
//		gobayeux.WithListener(gobayeux.ListenerFuncs{
//			Error: func(kind gobayeux.ErrorKind, err error) {
//				log.Printf("%s: %v", kind, err)
//			},
//		}),
//	)
//	transport.Registry().Subscribe("/example/**", gobayeux.MessageHandlerFunc(
//		func(channel gobayeux.Channel, m gobayeux.Message) {
//			log.Printf("%s: %s", channel, m.Data)
//		},
//	))
//	transport.Start(ctx)
//	<-transport.Done()
//
// The server's TLS public key can be pinned. Pins are the SHA-256 of the
// key's PKIX encoding, written as "sha256/<base64>"
//
//	key, err := gobayeux.ParsePinnedKey("sha256/...")
//	client, err := gobayeux.NewClient(serverAddress, gobayeux.WithPinnedKeys(key))
//
// You can register custom HTTP transports with your client
//
//	transport := &http.Transport{
//		DialContext: (&net.Dialer{
//			Timeout:   3 * time.Second,
//			KeepAlive: 10 * time.Second,
//		}).DialContext,
//	}
//	client, err := gobayeux.NewClient(serverAddress, gobayeux.WithHTTPTransport(transport))
//
// You can also register extensions that you'd like to use with the server
// by implementing the MessageExtender interface and then passing it to the
// client
//
//	type Example struct {}
//	func (e *Example) Registered(name string, client *gobayeux.BayeuxClient) {}
//	func (e *Example) Unregistered() {}
//	func (e *Example) Outgoing(m *gobayeux.Message) {
//	   switch m.Channel {
//	   case gobayeux.MetaHandshake:
//	   	ext := m.GetExt(true)
//	   	ext["example"] = true
//	   }
//	}
//	func (e *Example) Incoming(m *gobayeux.Message) {}
//
//	client, err := gobayeux.NewClient(serverAddress, gobayeux.WithExtension(&Example{}))
package gobayeux
