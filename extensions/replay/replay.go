// Package replay implements the replay message extension. The extension
// asks the server to resend events a subscriber missed while it was
// reconnecting by sending the last replay ID seen on each channel.
package replay

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/sigmavirus24/gobayeux/v3"
)

const (
	// ExtensionName is the key used in the ext field of handshake and
	// subscribe messages
	ExtensionName string = "replay"
)

// Extension tracks the replay IDs of broadcast messages and sends them on
// every /meta/subscribe once the server says it supports replay
type Extension struct {
	supportedByServer atomic.Bool
	replayStore       IDStorer
}

// IDStorer stores and manages the channels and replay IDs for a bayeux
// server that supports the replay extension
type IDStorer interface {
	Set(channel string, replayID int)
	Get(channel string) (int, bool)
	Delete(channel string)
	AsMap() map[string]int
}

// New creates a new extension instance backed by a MapStorage
func New() *Extension {
	return NewWithStorage(NewMapStorage())
}

// NewWithStorage creates a new extension instance that keeps its replay IDs
// in store
func NewWithStorage(store IDStorer) *Extension {
	return &Extension{replayStore: store}
}

// Name implements gobayeux.NamedExtension
func (e *Extension) Name() string {
	return ExtensionName
}

// Outgoing attaches any additional metadata to a message
func (e *Extension) Outgoing(ms *gobayeux.Message) {
	switch ms.Channel {
	case gobayeux.MetaHandshake:
		ext := ms.GetExt(true)
		ext[ExtensionName] = true
	case gobayeux.MetaSubscribe:
		if e.isSupported() && e.replayStore != nil {
			ext := ms.GetExt(true)
			ext[ExtensionName] = e.replayStore.AsMap()
		}
	}
}

// Incoming reads the server's support for replay from the handshake reply
// and records replay IDs from broadcast messages
func (e *Extension) Incoming(ms *gobayeux.Message) {
	if e.replayStore == nil {
		return
	}
	switch ms.Channel.Type() {
	case gobayeux.MetaChannel:
		switch ms.Channel {
		case gobayeux.MetaHandshake:
			ext := ms.GetExt(false)
			if ext != nil {
				isSupported, ok := ext[ExtensionName].(bool)
				if ok && isSupported {
					e.supportedByServer.Store(true)
				}
			}
		case gobayeux.MetaUnsubscribe:
			if ms.Successful && ms.Subscription != "" {
				e.replayStore.Delete(string(ms.Subscription))
			}
		}
	case gobayeux.BroadcastChannel:
		e.updateReplayID(ms)
	}
}

// Registered is called after an extension has been successfully registered
func (e *Extension) Registered(extensionName string, client *gobayeux.BayeuxClient) {
}

// Unregistered is called when an extension is unregistered
func (e *Extension) Unregistered() {
	e.replayStore = nil
}

// Supported reports whether the server acknowledged the extension during the
// last handshake
func (e *Extension) Supported() bool {
	return e.isSupported()
}

func (e *Extension) updateReplayID(ms *gobayeux.Message) {
	if len(ms.Data) == 0 {
		return
	}
	var data struct {
		Event struct {
			ReplayID *float64 `json:"replayId"`
		} `json:"event"`
	}
	if err := json.Unmarshal(ms.Data, &data); err != nil {
		return
	}
	if data.Event.ReplayID == nil {
		return
	}
	e.replayStore.Set(string(ms.Channel), int(*data.Event.ReplayID))
}

func (e *Extension) isSupported() bool {
	return e.supportedByServer.Load()
}

// MapStorage implements the IDStorer interface over a regular map with a
// RWMutex protecting the access
type MapStorage struct {
	store map[string]int
	lock  sync.RWMutex
}

// NewMapStorage creates a new MapStorage instance
func NewMapStorage() *MapStorage {
	return &MapStorage{store: make(map[string]int)}
}

// Set implements the IDStorer interface
func (s *MapStorage) Set(channel string, replayID int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.store[channel] = replayID
}

// Get implements the IDStorer interface
func (s *MapStorage) Get(channel string) (replayID int, ok bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	replayID, ok = s.store[channel]
	return
}

// Delete implements the IDStorer interface
func (s *MapStorage) Delete(channel string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.store, channel)
}

// AsMap implements the IDStorer interface
func (s *MapStorage) AsMap() map[string]int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	replay := make(map[string]int, len(s.store))
	for k, v := range s.store {
		replay[k] = v
	}
	return replay
}

var (
	_ gobayeux.MessageExtender = (*Extension)(nil)
	_ gobayeux.NamedExtension  = (*Extension)(nil)
)
