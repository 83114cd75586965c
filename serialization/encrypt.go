package serialization

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Base64Encrypter encodes protected fields as standard base64. It hides values
// from casual inspection only.
type Base64Encrypter struct{}

func (Base64Encrypter) Encrypt(plain string) (string, error) {
	return base64.StdEncoding.EncodeToString([]byte(plain)), nil
}

func (Base64Encrypter) Decrypt(cipherText string) (string, error) {
	out, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", fmt.Errorf("base64 decrypt: %w", err)
	}
	return string(out), nil
}

// AESEncrypter seals protected fields with AES-256-GCM. The output is
// base64(nonce || ciphertext).
type AESEncrypter struct {
	aead cipher.AEAD
}

var errCipherTooShort = errors.New("serialization: ciphertext too short")

// NewAESEncrypter derives a 256-bit key from secret.
func NewAESEncrypter(secret string) (*AESEncrypter, error) {
	if secret == "" {
		return nil, errors.New("serialization: empty encryption secret")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESEncrypter{aead: aead}, nil
}

func (e *AESEncrypter) Encrypt(plain string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("aes encrypt: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *AESEncrypter) Decrypt(cipherText string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", fmt.Errorf("aes decrypt: %w", err)
	}
	n := e.aead.NonceSize()
	if len(raw) < n {
		return "", errCipherTooShort
	}
	plain, err := e.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("aes decrypt: %w", err)
	}
	return string(plain), nil
}
