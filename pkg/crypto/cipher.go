package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
)

// ErrEmptySecret is returned when a Box is built without key material.
var ErrEmptySecret = errors.New("crypto: empty secret")

// Box seals short strings (project variables) with AES-GCM.
// The nonce is prepended to each ciphertext.
type Box struct {
	aead cipher.AEAD
}

// NewBox derives a 32 byte key from secret using SHA-256.
func NewBox(secret string) (*Box, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	sum := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext.
func (b *Box) Seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return b.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a payload produced by Seal.
func (b *Box) Open(payload []byte) (string, error) {
	n := b.aead.NonceSize()
	if len(payload) < n {
		return "", io.ErrUnexpectedEOF
	}
	plain, err := b.aead.Open(nil, payload[:n], payload[n:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
