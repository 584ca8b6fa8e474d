// ABOUTME: Authenticated encryption envelope for provider credentials at rest
// ABOUTME: AES-256-GCM with a 16-byte nonce, encoded as hex(nonce || tag || ciphertext)

package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// KeySize is the required key length in bytes (AES-256).
	KeySize = 32
	// NonceSize is the nonce width written at the front of every envelope.
	NonceSize = 16
	// TagSize is the GCM authentication tag width.
	TagSize = 16
)

var (
	// ErrConfiguration is returned when the key is absent or malformed.
	ErrConfiguration = errors.New("encryption key misconfigured")

	// ErrIntegrity is returned when an envelope is malformed, tampered with,
	// or was sealed under a different key.
	ErrIntegrity = errors.New("envelope failed integrity check")

	// ErrEmptyPlaintext is returned when asked to seal an empty secret.
	ErrEmptyPlaintext = errors.New("plaintext is empty")
)

// ParseKey decodes a 64-character hex string into a 32-byte key.
func ParseKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("%w: key is not set", ErrConfiguration)
	}
	if len(hexKey) != KeySize*2 {
		return nil, fmt.Errorf("%w: key must be %d hex characters, got %d", ErrConfiguration, KeySize*2, len(hexKey))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: key is not valid hex", ErrConfiguration)
	}
	return key, nil
}

// GenerateKey returns a fresh random key encoded as hex, suitable for
// the crypto.encryption_key setting.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("reading random key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext under key with a fresh random nonce.
func Encrypt(plaintext string, key []byte) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("reading nonce: %w", err)
	}

	// Seal appends the tag after the ciphertext; the envelope carries it first.
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, NonceSize+TagSize+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return hex.EncodeToString(out), nil
}

// Decrypt opens an envelope produced by Encrypt. It never returns partial
// plaintext: any failure yields ErrIntegrity or ErrConfiguration.
func Decrypt(envelope string, key []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	raw, err := hex.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("%w: envelope is not valid hex", ErrIntegrity)
	}
	if len(raw) < NonceSize+TagSize {
		return "", fmt.Errorf("%w: envelope too short", ErrIntegrity)
	}

	nonce := raw[:NonceSize]
	tag := raw[NonceSize : NonceSize+TagSize]
	ct := raw[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrIntegrity)
	}
	return string(plaintext), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrConfiguration, KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return aead, nil
}

// Codec binds a parsed key so callers don't pass raw key bytes around.
type Codec struct {
	key []byte
}

// NewCodec parses hexKey and returns a Codec bound to it.
func NewCodec(hexKey string) (*Codec, error) {
	key, err := ParseKey(hexKey)
	if err != nil {
		return nil, err
	}
	return &Codec{key: key}, nil
}

// Seal encrypts plaintext under the bound key.
func (c *Codec) Seal(plaintext string) (string, error) {
	return Encrypt(plaintext, c.key)
}

// Open decrypts an envelope under the bound key.
func (c *Codec) Open(envelope string) (string, error) {
	return Decrypt(envelope, c.key)
}
