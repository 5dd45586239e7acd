package pgstore

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/jrsteele09/tenant-insights/internal/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "xc1:"

// Sealer encrypts per-tenant client secrets before they reach the tenants table.
// Values stored without the sealed prefix are read back unchanged, so rows
// written before a key was configured stay readable.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer takes a base64 encoded 32 byte key.
func NewSealer(encodedKey string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "tenant secret key is not base64: %v", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "tenant secret key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("[pgstore NewSealer] %w", err)
	}
	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Seal(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("[Sealer Seal] failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("[Sealer Open] malformed sealed secret: %w", err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", fmt.Errorf("[Sealer Open] sealed secret too short")
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("[Sealer Open] failed to decrypt secret: %w", err)
	}
	return string(plain), nil
}
