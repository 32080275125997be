// Package security holds at-rest protection for merchant credentials.
//
// cipher.go -- XChaCha20-Poly1305 sealing for Shopify access tokens.
package security

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealedPrefix tags the envelope format so the key or algorithm can rotate later.
const sealedPrefix = "v1:"

// ErrMalformedSealed is returned by Open for input that is not a v1 envelope.
var ErrMalformedSealed = errors.New("malformed sealed token")

// TokenCipher seals and opens access tokens with a single 32-byte key.
// Safe for concurrent use.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher returns a TokenCipher for a 32-byte key.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating token cipher: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce and returns
// "v1:" + base64url(nonce || ciphertext).
func (c *TokenCipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	out := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Tampered or foreign-key input returns an error.
// The install flow only seals; Open is for operators and downstream services
// reading a merchant's token back with the same TOKEN_ENCRYPTION_KEY.
func (c *TokenCipher) Open(sealed string) (string, error) {
	encoded, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", ErrMalformedSealed
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", ErrMalformedSealed
	}
	nonce, ct := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("opening sealed token: %w", err)
	}
	return string(plain), nil
}
