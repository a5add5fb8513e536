// Package secret encrypts stored credentials with AES-256-GCM.
//
// Tokens have the form "enc:" + base64(nonce || ciphertext). A Codec is
// immutable after construction and safe for concurrent use.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Prefix marks an encrypted token.
const Prefix = "enc:"

const keyInfo = "atlas-system secret codec v1"

// ErrInvalidToken is returned when a value is not a token produced by Encrypt
// with the same key.
var ErrInvalidToken = errors.New("invalid secret token")

// Codec encrypts and decrypts credential values.
type Codec struct {
	aead cipher.AEAD
}

// New derives a 256-bit key from the process-wide secret and returns a Codec.
func New(key string) (*Codec, error) {
	if key == "" {
		return nil, errors.New("secret key cannot be empty")
	}

	derived := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(key), nil, []byte(keyInfo)), derived); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encrypt returns a token for plaintext. The empty string encrypts to itself
// so optional credentials stay empty.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt returns the plaintext of token. The empty string decrypts to
// itself; any other value without the prefix, or that fails
// authentication, yields ErrInvalidToken.
func (c *Codec) Decrypt(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	if !strings.HasPrefix(token, Prefix) {
		return "", fmt.Errorf("%w: missing prefix", ErrInvalidToken)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(token, Prefix))
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding", ErrInvalidToken)
	}

	size := c.aead.NonceSize()
	if len(raw) < size+c.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrInvalidToken)
	}

	plaintext, err := c.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrInvalidToken)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether value looks like a token.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Prefix)
}
