package crypto

import (
	"fmt"

	"github.com/jmcleod/wordvault/internal/util"
)

// KDF derives a fixed-length key from a password and salt.
type KDF interface {
	Name() string
	Validate() error
	Derive(password, salt []byte) ([]byte, error)
}

// PBKDF2 is PBKDF2 with HMAC-SHA256.
type PBKDF2 struct {
	Iterations int `json:"iterations"`
	KeyLen     int `json:"key_len"`
}

// DefaultPBKDF2 returns 600000 iterations producing a 32-byte key.
func DefaultPBKDF2() PBKDF2 {
	return PBKDF2{Iterations: util.PBKDF2Iterations, KeyLen: util.PBKDF2KeyLen}
}

func (p PBKDF2) Name() string { return "pbkdf2-sha256" }

func (p PBKDF2) Validate() error {
	if p.Iterations < util.MinPBKDF2Iterations {
		return fmt.Errorf("pbkdf2 iterations %d below minimum %d", p.Iterations, util.MinPBKDF2Iterations)
	}
	if p.KeyLen != KeySize {
		return fmt.Errorf("pbkdf2 key length must be %d bytes, got %d", KeySize, p.KeyLen)
	}
	return nil
}

func (p PBKDF2) Derive(password, salt []byte) ([]byte, error) {
	return util.DerivePBKDF2(password, salt, p.Iterations, p.KeyLen)
}

// Argon2id is the memory-hard KDF.
type Argon2id struct {
	Params Argon2idParams `json:"params"`
}

// DefaultArgon2id uses the moderate profile.
func DefaultArgon2id() Argon2id {
	return Argon2id{Params: DefaultArgon2idParams()}
}

func (a Argon2id) Name() string { return "argon2id" }

func (a Argon2id) Validate() error {
	return ValidateArgon2idParams(a.Params)
}

func (a Argon2id) Derive(password, salt []byte) ([]byte, error) {
	return util.DeriveArgon2idKey(password, salt, a.Params)
}
