package util

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

// Named KDF profiles.
const (
	KDFProfileInteractive = "interactive"
	KDFProfileModerate    = "moderate"
	KDFProfileSensitive   = "sensitive"
)

// Lower bounds accepted by ValidateArgon2idParams.
const (
	MinArgon2Time      uint32 = 1
	MinArgon2MemoryKiB uint32 = 19 * 1024
	MinArgon2Parallel  uint8  = 1
)

var argon2idProfiles = map[string]Argon2idParams{
	KDFProfileInteractive: {Time: 2, MemoryKiB: 19 * 1024, Parallelism: 4, KeyLen: 32},
	KDFProfileModerate:    {Time: 3, MemoryKiB: 64 * 1024, Parallelism: 4, KeyLen: 32},
	KDFProfileSensitive:   {Time: 4, MemoryKiB: 128 * 1024, Parallelism: 4, KeyLen: 32},
}

func DefaultArgon2idParams() Argon2idParams {
	return argon2idProfiles[KDFProfileModerate]
}

func Argon2idProfile(name string) (Argon2idParams, error) {
	p, ok := argon2idProfiles[name]
	if !ok {
		return Argon2idParams{}, fmt.Errorf("unknown argon2id profile %q", name)
	}
	return p, nil
}

func ValidateArgon2idParams(p Argon2idParams) error {
	if p.KeyLen != 32 {
		return fmt.Errorf("argon2id key length must be 32 bytes, got %d", p.KeyLen)
	}
	if p.Time < MinArgon2Time {
		return fmt.Errorf("argon2id time %d below minimum %d", p.Time, MinArgon2Time)
	}
	if p.MemoryKiB < MinArgon2MemoryKiB {
		return fmt.Errorf("argon2id memory %d KiB below minimum %d KiB", p.MemoryKiB, MinArgon2MemoryKiB)
	}
	if p.Parallelism < MinArgon2Parallel {
		return fmt.Errorf("argon2id parallelism %d below minimum %d", p.Parallelism, MinArgon2Parallel)
	}
	return nil
}

func DeriveArgon2idKey(passphrase []byte, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	key := argon2.IDKey(passphrase, salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

func CompareArgon2idKey(passphrase []byte, salt []byte, params Argon2idParams, expectedKey []byte) (bool, error) {
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}
