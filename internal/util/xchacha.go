package util

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const XChaChaNonceSize = chacha20poly1305.NonceSizeX

func SealXChaCha(rawKey, nonce, aad, plainText []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(nonce), aead.NonceSize())
	}
	return aead.Seal(nil, nonce, plainText, aad), nil
}

func OpenXChaCha(rawKey, nonce, aad, cipherText []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(nonce), aead.NonceSize())
	}
	plainText, err := aead.Open(nil, nonce, cipherText, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}
	return plainText, nil
}
