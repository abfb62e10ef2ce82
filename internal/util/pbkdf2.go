package util

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	PBKDF2Iterations    = 600000
	MinPBKDF2Iterations = 1000
	PBKDF2KeyLen        = 32
)

// DerivePBKDF2 runs PBKDF2 with HMAC-SHA256.
func DerivePBKDF2(password, salt []byte, iterations, keyLen int) ([]byte, error) {
	if iterations < MinPBKDF2Iterations {
		return nil, fmt.Errorf("pbkdf2 iterations %d below minimum %d", iterations, MinPBKDF2Iterations)
	}
	if keyLen <= 0 {
		return nil, fmt.Errorf("pbkdf2 key length must be positive")
	}
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New), nil
}
