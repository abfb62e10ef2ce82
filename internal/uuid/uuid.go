// Package uuid wraps github.com/google/uuid with the canonical forms used by
// the key derivation protocol.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns a random (v4) UUID in canonical lowercase form.
func New() string {
	return uuid.NewString()
}

// Canonical parses s and returns it in lowercase dashed form.
func Canonical(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parsing uuid: %w", err)
	}
	return id.String(), nil
}

// StripDashes returns the 32 lowercase hex characters of a canonical UUID.
func StripDashes(s string) (string, error) {
	c, err := Canonical(s)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(c, "-", ""), nil
}

// Bytes returns the 16 raw bytes of s.
func Bytes(s string) ([]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parsing uuid: %w", err)
	}
	b := id
	return b[:], nil
}

// FromBytes renders 16 raw bytes as a canonical UUID string.
func FromBytes(b []byte) (string, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return "", fmt.Errorf("decoding uuid: %w", err)
	}
	return id.String(), nil
}
