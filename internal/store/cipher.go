// ABOUTME: Optional at-rest encryption for stored token columns
// ABOUTME: AES-256-GCM with an HKDF-SHA256 derived key, hex on the wire

package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo binds derived keys to this use so the same passphrase used
// elsewhere does not yield the same key material.
const hkdfInfo = "loom token store v1"

var errCiphertextTooShort = errors.New("ciphertext too short")

// tokenCipher encrypts and decrypts individual token values.
// A nil *tokenCipher passes values through unchanged, so callers never
// branch on whether encryption is configured.
type tokenCipher struct {
	aead cipher.AEAD
}

// newTokenCipher derives a 32-byte AES key from the passphrase.
// An empty passphrase returns nil, meaning plaintext storage.
func newTokenCipher(passphrase string) (*tokenCipher, error) {
	if passphrase == "" {
		return nil, nil
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving cipher key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &tokenCipher{aead: aead}, nil
}

// encrypt seals the value with a random nonce, nonce prefixed, hex encoded.
// Empty values stay empty so "no refresh token" remains distinguishable.
func (c *tokenCipher) encrypt(value string) (string, error) {
	if c == nil || value == "" {
		return value, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(value), nil)
	return hex.EncodeToString(sealed), nil
}

// decrypt reverses encrypt. Failures are surfaced as errors, never as a
// silent fall back to treating the stored bytes as plaintext.
func (c *tokenCipher) decrypt(value string) (string, error) {
	if c == nil || value == "" {
		return value, nil
	}

	sealed, err := hex.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(sealed) < c.aead.NonceSize() {
		return "", errCiphertextTooShort
	}

	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting token: %w", err)
	}
	return string(plain), nil
}
