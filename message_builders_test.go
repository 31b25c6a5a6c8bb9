package gobayeux

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestHandshakeRequestBuilder_AddSupportedConnectionType(t *testing.T) {
	testCases := []struct {
		name      string
		ct        string
		shouldErr bool
	}{
		{"valid long-polling", ConnectionTypeLongPolling, false},
		{"valid callback-polling", ConnectionTypeCallbackPolling, false},
		{"valid iframe", ConnectionTypeIFrame, false},
		{"invalid websocket", "websocket", true},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			b := NewHandshakeRequestBuilder()
			err := b.AddSupportedConnectionType(tc.ct)
			if err != nil && !tc.shouldErr {
				t.Errorf("expected connection type %s to be valid but got err %q", tc.ct, err)
			}
			if err == nil && tc.shouldErr {
				t.Error("expected an error but didn't get one")
			}
		})
	}
}

func TestHandshakeRequestBuilder_AddVersion(t *testing.T) {
	testCases := []struct {
		name      string
		version   string
		shouldErr bool
	}{
		{"valid version 1.0", "1.0", false},
		{"valid version 1.0beta", "1.0beta", false},
		{"valid version 10.0", "10.0", false},
		{"invalid version .0", ".0", true},
		{"invalid version a.0", "a.0", true},
		{"invalid version (empty)", "", true},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			b := NewHandshakeRequestBuilder()
			err := b.AddVersion(tc.version)
			if err != nil && !tc.shouldErr {
				t.Errorf("expected version %s to be valid but got err %q", tc.version, err)
			}
			if err == nil && tc.shouldErr {
				t.Error("expected an error but didn't get one")
			}
			var versionErr BadConnectionVersionError
			if tc.shouldErr && !errors.As(err, &versionErr) {
				t.Errorf("expected a BadConnectionVersionError, got %T", err)
			}
		})
	}
}

func TestHandshakeRequestBuilder_Build(t *testing.T) {
	b := NewHandshakeRequestBuilder()
	if _, err := b.Build(); !errors.Is(err, ErrNoSupportedConnectionTypes) {
		t.Errorf("expected ErrNoSupportedConnectionTypes, got %v", err)
	}
	_ = b.AddSupportedConnectionType(ConnectionTypeLongPolling)
	_ = b.AddSupportedConnectionType(ConnectionTypeLongPolling)
	if _, err := b.Build(); !errors.Is(err, ErrNoVersion) {
		t.Errorf("expected ErrNoVersion, got %v", err)
	}
	_ = b.AddVersion("1.0")
	_ = b.AddMinimumVersion("1.0")
	ms, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error building handshake: %v", err)
	}
	if got := len(ms[0].SupportedConnectionTypes); got != 1 {
		t.Errorf("expected connection types to be de-duplicated, got %d", got)
	}
	if ms[0].MinimumVersion != "1.0" {
		t.Errorf("expected minimumVersion 1.0, got %q", ms[0].MinimumVersion)
	}
}

func TestSubscribeRequestBuilder_Build(t *testing.T) {
	b := NewSubscribeRequestBuilder()
	b.AddClientID("abc")
	if _, err := b.Build(); err == nil {
		t.Error("expected an error building a subscribe request without channels")
	}
	if err := b.AddSubscription("foo"); err == nil {
		t.Error("expected an error adding an invalid channel")
	}
	_ = b.AddSubscription("/foo/*")
	_ = b.AddSubscription("/foo/*")
	_ = b.AddSubscription("/bar")
	ms, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("expected two subscribe messages, got %d", len(ms))
	}
	for _, m := range ms {
		if m.Channel != MetaSubscribe || m.ClientID != "abc" {
			t.Errorf("unexpected subscribe message %+v", m)
		}
	}
}

func TestPublishRequestBuilder(t *testing.T) {
	testCases := []struct {
		name       string
		channel    Channel
		data       string
		clientID   string
		shouldFail bool
	}{
		{"valid publish", "/chat/room", `{"text":"hi"}`, "abc", false},
		{"meta channel", "/meta/connect", `{}`, "abc", true},
		{"wildcard channel", "/chat/*", `{}`, "abc", true},
		{"invalid data", "/chat/room", `{"text":`, "abc", true},
		{"missing client id", "/chat/room", `{}`, "", true},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			b := NewPublishRequestBuilder()
			b.AddClientID(tc.clientID)
			b.AddID("1")
			var err error
			if err = b.AddChannel(tc.channel); err == nil {
				if err = b.AddData(json.RawMessage(tc.data)); err == nil {
					_, err = b.Build()
				}
			}
			if tc.shouldFail && err == nil {
				t.Error("expected an error but didn't get one")
			}
			if !tc.shouldFail && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
