package gobayeux

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the environment driven configuration of a transport
type Config struct {
	URL               string        `env:"BAYEUX_URL"`
	PinnedKeys        []string      `env:"BAYEUX_PINNED_KEYS"        envSeparator:","`
	PinnedKeysFile    string        `env:"BAYEUX_PINNED_KEYS_FILE"`
	BackoffInitial    time.Duration `env:"BAYEUX_BACKOFF_INITIAL"    envDefault:"1s"`
	BackoffMultiplier float64       `env:"BAYEUX_BACKOFF_MULTIPLIER" envDefault:"2"`
	BackoffMax        time.Duration `env:"BAYEUX_BACKOFF_MAX"        envDefault:"30s"`
	MaxRetries        int           `env:"BAYEUX_MAX_RETRIES"        envDefault:"0"`
	MaxResponseBytes  int           `env:"BAYEUX_MAX_RESPONSE_BYTES" envDefault:"8388608"`
}

// ConfigFromEnv reads a Config from the process environment
func ConfigFromEnv() (Config, error) {
	return ConfigFromEnvWithOptions(env.Options{})
}

// ConfigFromEnvWithOptions reads a Config using opts, for example to add a
// variable prefix or to supply an explicit environment
func ConfigFromEnvWithOptions(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Backoff returns the BackoffPolicy described by the configuration
func (c Config) Backoff() BackoffPolicy {
	return BackoffPolicy{
		Initial:    c.BackoffInitial,
		Multiplier: c.BackoffMultiplier,
		Max:        c.BackoffMax,
		MaxRetries: c.MaxRetries,
	}
}

// PinStore collects the keys from PinnedKeys and PinnedKeysFile
func (c Config) PinStore() (*KeyPinStore, error) {
	keys := make([]PinnedKey, 0, len(c.PinnedKeys))
	for _, s := range c.PinnedKeys {
		key, err := ParsePinnedKey(s)
		if err != nil {
			return nil, fmt.Errorf("BAYEUX_PINNED_KEYS: %w", err)
		}
		keys = append(keys, key)
	}

	if c.PinnedKeysFile != "" {
		data, err := os.ReadFile(c.PinnedKeysFile)
		if err != nil {
			return nil, fmt.Errorf("BAYEUX_PINNED_KEYS_FILE: %w", err)
		}
		fromFile, err := ParsePinnedKeysPEM(data)
		if err != nil {
			return nil, fmt.Errorf("BAYEUX_PINNED_KEYS_FILE: %w", err)
		}
		keys = append(keys, fromFile...)
	}
	return NewKeyPinStore(keys...), nil
}

// Options converts the configuration into transport options
func (c Config) Options() ([]Option, error) {
	store, err := c.PinStore()
	if err != nil {
		return nil, err
	}
	return []Option{
		WithBackoff(c.Backoff()),
		WithMaxResponseSize(c.MaxResponseBytes),
		WithKeyPinStore(store),
	}, nil
}
