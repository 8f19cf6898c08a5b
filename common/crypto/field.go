// Package crypto seals individual archive fields with AES-256-GCM so that
// journal-derived text is unreadable without the archive key.
//
// Sealed values are text: a version prefix followed by the base64 of
// nonce || ciphertext. Values without the prefix are plaintext, which lets an
// archive created without a key be opened with one.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the required key length for AES-256-GCM.
	KeySize = 32

	sealedPrefix = "enc:v1:"
)

var (
	ErrInvalidKeySize     = fmt.Errorf("crypto: key must be exactly %d bytes", KeySize)
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	// ErrNoKey is returned when a sealed value is opened without a cipher.
	ErrNoKey = errors.New("crypto: value is sealed and no archive key is configured")
)

// FieldCipher seals and opens string fields. A nil *FieldCipher is valid:
// Seal passes values through and Open rejects sealed ones with ErrNoKey.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher returns a FieldCipher for a 32-byte key.
func NewFieldCipher(key []byte) (*FieldCipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return &FieldCipher{aead: aead}, nil
}

// ParseKey decodes a 64-character hex string into a key. Generate one with:
//
//	openssl rand -hex 32
func ParseKey(rawHex string) ([]byte, error) {
	raw := strings.TrimSpace(rawHex)
	if raw == "" {
		return nil, fmt.Errorf("crypto: key is empty")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid hex in key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes (%d hex chars), got %d bytes",
			KeySize, KeySize*2, len(key))
	}
	return key, nil
}

// IsSealed reports whether v was produced by Seal.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, sealedPrefix)
}

// Seal encrypts v under a fresh random nonce.
func (c *FieldCipher) Seal(v string) (string, error) {
	if c == nil {
		return v, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(v), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Plaintext values are returned unchanged.
func (c *FieldCipher) Open(v string) (string, error) {
	if !IsSealed(v) {
		return v, nil
	}
	if c == nil {
		return "", ErrNoKey
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("crypto: decode sealed value: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", ErrCiphertextTooShort
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: open sealed value: %w", err)
	}
	return string(plain), nil
}
