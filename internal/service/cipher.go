package service

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
	CipherKeySize  = 32
	envelopePrefix = "v1"
)

var ErrDecryption = errors.New("decryption failed")

// AEADCipher seals short secrets with AES-256-GCM. Envelopes look like
// v1:<base64 nonce>:<base64 ciphertext and tag>, with a fresh nonce per call.
type AEADCipher struct {
	aead cipher.AEAD
}

func NewAEADCipher(key []byte) (*AEADCipher, error) {
	if len(key) != CipherKeySize {
		return nil, fmt.Errorf("cipher key must be %d bytes, got %d", CipherKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return &AEADCipher{aead: aead}, nil
}

// ParseCipherKey accepts a 32-byte key as standard base64 or hex.
func ParseCipherKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if key, err := base64.StdEncoding.DecodeString(value); err == nil && len(key) == CipherKeySize {
		return key, nil
	}
	if key, err := hex.DecodeString(value); err == nil && len(key) == CipherKeySize {
		return key, nil
	}
	return nil, fmt.Errorf("cipher key must be %d bytes encoded as base64 or hex", CipherKeySize)
}

func (c *AEADCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), []byte(envelopePrefix))
	return envelopePrefix + ":" +
		base64.StdEncoding.EncodeToString(nonce) + ":" +
		base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *AEADCipher) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 || parts[0] != envelopePrefix || parts[1] == "" || parts[2] == "" {
		return "", ErrDecryption
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", ErrDecryption
	}
	sealed, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrDecryption
	}
	plaintext, err := c.aead.Open(nil, nonce, sealed, []byte(envelopePrefix))
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}

// plainSealer stores secrets unchanged when no cipher key is configured.
type plainSealer struct{}

func (plainSealer) Encrypt(plaintext string) (string, error) {
	return plaintext, nil
}

func (plainSealer) Decrypt(envelope string) (string, error) {
	return envelope, nil
}
