package gobayeux

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := ConfigFromEnvWithOptions(env.Options{Environment: map[string]string{}})
	require.NoError(t, err)

	assert.Equal(t, DefaultBackoffPolicy(), cfg.Backoff())
	assert.Equal(t, DefaultMaxResponseSize, cfg.MaxResponseBytes)
	assert.Empty(t, cfg.URL)

	store, err := cfg.PinStore()
	require.NoError(t, err)
	assert.False(t, store.Enabled())
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	key := PinnedKey{1, 2, 3}
	cfg, err := ConfigFromEnvWithOptions(env.Options{Environment: map[string]string{
		"BAYEUX_URL":                "https://cometd.example.com/cometd",
		"BAYEUX_PINNED_KEYS":        key.String(),
		"BAYEUX_BACKOFF_INITIAL":    "250ms",
		"BAYEUX_BACKOFF_MULTIPLIER": "1.5",
		"BAYEUX_BACKOFF_MAX":        "5s",
		"BAYEUX_MAX_RETRIES":        "3",
		"BAYEUX_MAX_RESPONSE_BYTES": "1024",
	}})
	require.NoError(t, err)

	assert.Equal(t, "https://cometd.example.com/cometd", cfg.URL)
	assert.Equal(t, BackoffPolicy{
		Initial:    250 * time.Millisecond,
		Multiplier: 1.5,
		Max:        5 * time.Second,
		MaxRetries: 3,
	}, cfg.Backoff())

	opts, err := cfg.Options()
	require.NoError(t, err)
	options := newOptions(opts)
	assert.Equal(t, 1024, options.MaxResponseSize)
	assert.True(t, options.PinStore.Contains(key))
	assert.Equal(t, 3, options.Backoff.MaxRetries)
}

func TestConfig_PinnedKeysFile(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der := selfSignedDER(t, 1, "cometd.example.com", &priv.PublicKey, priv)

	path := filepath.Join(t.TempDir(), "pins.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))

	cfg := Config{PinnedKeysFile: path}
	store, err := cfg.PinStore()
	require.NoError(t, err)

	want, ok := PinnedKeyFromPublicKey(&priv.PublicKey)
	require.True(t, ok)
	assert.Equal(t, 1, store.Len())
	assert.True(t, store.Contains(want))
}

func TestConfig_InvalidPins(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
	}{
		{"bad base64", Config{PinnedKeys: []string{"sha256/not base64"}}},
		{"wrong length", Config{PinnedKeys: []string{"sha256/AAAA"}}},
		{"missing file", Config{PinnedKeysFile: filepath.Join(t.TempDir(), "missing.pem")}},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.cfg.Options()
			assert.Error(t, err)
		})
	}
}
