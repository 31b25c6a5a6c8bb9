package gobayeux

import (
	"crypto"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
)

const pinnedKeyPrefix = "sha256/"

// PinnedKey is a comparable representation of a public key: the SHA-256
// digest of its PKIX (SubjectPublicKeyInfo) DER encoding. Certificates that
// are reissued for the same key produce the same PinnedKey.
type PinnedKey [sha256.Size]byte

// String renders the key in the `sha256/<base64>` form
func (k PinnedKey) String() string {
	return pinnedKeyPrefix + base64.StdEncoding.EncodeToString(k[:])
}

// IsZero reports whether k is the zero value
func (k PinnedKey) IsZero() bool {
	return k == PinnedKey{}
}

// ParsePinnedKey parses the `sha256/<base64>` form produced by String. The
// prefix is optional.
func ParsePinnedKey(s string) (PinnedKey, error) {
	var k PinnedKey
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), pinnedKeyPrefix))
	if err != nil {
		return k, fmt.Errorf("invalid pinned key %q: %w", s, err)
	}
	if len(raw) != len(k) {
		return k, fmt.Errorf("invalid pinned key %q: want %d bytes, got %d", s, len(k), len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// PinnedKeyFromPublicKey derives the PinnedKey of pub. It reports false when
// the key type can't be marshalled.
func PinnedKeyFromPublicKey(pub crypto.PublicKey) (PinnedKey, bool) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return PinnedKey{}, false
	}
	return sha256.Sum256(der), true
}

// PinnedKeyFromCertificate derives the PinnedKey of the certificate's
// public key
func PinnedKeyFromCertificate(cert *x509.Certificate) (PinnedKey, bool) {
	if cert == nil {
		return PinnedKey{}, false
	}
	return PinnedKeyFromPublicKey(cert.PublicKey)
}

// ExtractPinnedKey derives the PinnedKey of the first certificate in a
// presented chain. It reports false when the chain is empty or the
// certificate can't be parsed, which callers treat as a failed match.
func ExtractPinnedKey(rawCerts [][]byte) (PinnedKey, bool) {
	if len(rawCerts) == 0 {
		return PinnedKey{}, false
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return PinnedKey{}, false
	}
	return PinnedKeyFromCertificate(cert)
}

// ParsePinnedKeysPEM reads every CERTIFICATE, PUBLIC KEY and RSA PUBLIC KEY
// block in data and returns their pins
func ParsePinnedKeysPEM(data []byte) ([]PinnedKey, error) {
	var keys []PinnedKey
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}

		var pub crypto.PublicKey
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse pinned certificate: %w", err)
			}
			pub = cert.PublicKey
		case "PUBLIC KEY":
			parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse pinned public key: %w", err)
			}
			pub = parsed
		case "RSA PUBLIC KEY":
			parsed, err := x509.ParsePKCS1PublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse pinned RSA public key: %w", err)
			}
			pub = parsed
		default:
			continue
		}

		key, ok := PinnedKeyFromPublicKey(pub)
		if !ok {
			return nil, fmt.Errorf("unsupported public key type %T", pub)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// KeyPinStore is the set of public keys a transport accepts from the
// server. It is never modified after construction.
type KeyPinStore struct {
	keys map[PinnedKey]struct{}
}

// NewKeyPinStore builds a KeyPinStore. With no keys pinning is disabled.
func NewKeyPinStore(keys ...PinnedKey) *KeyPinStore {
	s := &KeyPinStore{keys: make(map[PinnedKey]struct{}, len(keys))}
	for _, k := range keys {
		s.keys[k] = struct{}{}
	}
	return s
}

// Contains reports whether key is pinned
func (s *KeyPinStore) Contains(key PinnedKey) bool {
	if s == nil {
		return false
	}
	_, ok := s.keys[key]
	return ok
}

// Len returns the number of pinned keys
func (s *KeyPinStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Enabled reports whether any key is pinned
func (s *KeyPinStore) Enabled() bool {
	return s.Len() > 0
}

// VerifyPeerCertificate has the signature of tls.Config.VerifyPeerCertificate.
// It runs after the standard chain verification and rejects the connection
// when pinning is enabled and the server's key isn't pinned.
func (s *KeyPinStore) VerifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if !s.Enabled() {
		return nil
	}
	key, ok := ExtractPinnedKey(rawCerts)
	if !ok || !s.Contains(key) {
		return &PinningError{Presented: key}
	}
	return nil
}

// TLSConfig returns a copy of base with the pin check installed. A nil base
// starts from an empty config.
func (s *KeyPinStore) TLSConfig(base *tls.Config) *tls.Config {
	var cfg *tls.Config
	if base == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		cfg = base.Clone()
	}
	if !s.Enabled() {
		return cfg
	}

	previous := cfg.VerifyPeerCertificate
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, chains [][]*x509.Certificate) error {
		if previous != nil {
			if err := previous(rawCerts, chains); err != nil {
				return err
			}
		}
		return s.VerifyPeerCertificate(rawCerts, chains)
	}
	return cfg
}
