// Package crypto seals short secrets (server passwords) with AES-256-GCM so
// they never rest in the database as plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	ErrInvalidKeySize = fmt.Errorf("key must be exactly %d bytes", KeySize)
	ErrSealedTooShort = errors.New("sealed value too short")
)

// Sealer encrypts and decrypts values under one master key.
// Output layout is nonce || ciphertext+tag.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer returns a Sealer for a raw 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerFromHex parses a 64-character hex key, as produced by
// `openssl rand -hex 32`, and returns a Sealer for it.
func NewSealerFromHex(rawHex string) (*Sealer, error) {
	raw := strings.TrimSpace(rawHex)
	if raw == "" {
		return nil, errors.New("master key is empty")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid hex in master key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key must be %d hex chars, got %d", KeySize*2, len(raw))
	}
	return NewSealer(key)
}

// Seal encrypts plaintext. The server id is bound as additional data so a
// sealed password copied onto another server row fails to open.
func (s *Sealer) Seal(plaintext, boundTo string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(boundTo)), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte, boundTo string) (string, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return "", ErrSealedTooShort
	}
	out, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(boundTo))
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(out), nil
}
