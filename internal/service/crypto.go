package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes. Each use of the secret gets its own derived key.
const (
	PurposeConfig     = "dbviewer config encryption"
	PurposeCookieHash = "dbviewer cookie hash"
	PurposeCookieEnc  = "dbviewer cookie encryption"
)

// DeriveKey expands the master secret into n bytes bound to purpose.
func DeriveKey(secret, purpose string, n int) ([]byte, error) {
	if len(secret) < 32 {
		return nil, errors.New("key must be at least 32 characters")
	}
	key := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncryptionService handles AES-256-GCM encryption/decryption
type EncryptionService struct {
	aead cipher.AEAD
}

func NewEncryptionService(secret string) (*EncryptionService, error) {
	key, err := DeriveKey(secret, PurposeConfig, 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &EncryptionService{aead: aead}, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (s *EncryptionService) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(s.aead.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (s *EncryptionService) Decrypt(cryptoText string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(cryptoText)
	if err != nil {
		return "", err
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
