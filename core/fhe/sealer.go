package fhe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// NetworkKeyLength is the size of the scheme's root secret.
const NetworkKeyLength = 32

// sealer seals individual values under a key derived from the network key.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(networkKey []byte) (*sealer, error) {
	if len(networkKey) != NetworkKeyLength {
		return nil, fmt.Errorf("network key must be %d bytes, got %d", NetworkKeyLength, len(networkKey))
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, networkKey, nil, []byte("ciphertext")), key); err != nil {
		return nil, fmt.Errorf("derive ciphertext key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: gcm}, nil
}

// seal encrypts plaintext with AES-256-GCM and a random nonce. The nonce is prepended.
func (s *sealer) seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, aad), nil
}

func (s *sealer) open(sealed, aad []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ct := sealed[:nonceSize], sealed[nonceSize:]
	return s.aead.Open(nil, nonce, ct, aad)
}
