package util

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

const (
	AESKeySize = 32
	GCMTagSize = 16
)

// NewAESGCM returns an AES-256-GCM AEAD using the given nonce size and a
// 16-byte tag. Non-standard nonce sizes are hashed into the counter block by
// GCM itself, so any size of at least 12 bytes is safe to use.
func NewAESGCM(rawKey []byte, nonceSize int) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// SealDetached encrypts plainText and returns the ciphertext and the
// authentication tag as separate slices.
func SealDetached(aead cipher.AEAD, nonce, plainText, aad []byte) (cipherText, tag []byte, err error) {
	if len(nonce) != aead.NonceSize() {
		return nil, nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(nonce), aead.NonceSize())
	}
	sealed := aead.Seal(nil, nonce, plainText, aad)
	split := len(sealed) - aead.Overhead()
	return sealed[:split], sealed[split:], nil
}

// OpenDetached verifies tag and decrypts cipherText.
func OpenDetached(aead cipher.AEAD, nonce, cipherText, tag, aad []byte) ([]byte, error) {
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(nonce), aead.NonceSize())
	}
	if len(tag) != aead.Overhead() {
		return nil, fmt.Errorf("invalid tag size: got %d, want %d", len(tag), aead.Overhead())
	}

	sealed := make([]byte, 0, len(cipherText)+len(tag))
	sealed = append(sealed, cipherText...)
	sealed = append(sealed, tag...)

	plainText, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}
	return plainText, nil
}
