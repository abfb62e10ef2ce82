package crypto

import (
	"github.com/jmcleod/wordvault/errs"
	"github.com/jmcleod/wordvault/internal/util"
)

// Argon2idParams configures Argon2id. The proof key depends on them, so a
// client must log in with the parameters it registered with.
type Argon2idParams = util.Argon2idParams

// Profile names accepted by Argon2idProfile.
const (
	KDFProfileInteractive = util.KDFProfileInteractive
	KDFProfileModerate    = util.KDFProfileModerate
	KDFProfileSensitive   = util.KDFProfileSensitive
)

// DefaultArgon2idParams is the moderate profile.
func DefaultArgon2idParams() Argon2idParams {
	return util.DefaultArgon2idParams()
}

// Argon2idProfile looks up a named profile. The server uses it to pick the
// cost of hashing stored login verifiers.
func Argon2idProfile(name string) (Argon2idParams, error) {
	p, err := util.Argon2idProfile(name)
	if err != nil {
		return Argon2idParams{}, errs.Validationf("kdf_profile", "%v", err)
	}
	return p, nil
}

// ValidateArgon2idParams rejects parameters below the accepted minimum
// (19 MiB, one pass, one lane, 32-byte output).
func ValidateArgon2idParams(p Argon2idParams) error {
	if err := util.ValidateArgon2idParams(p); err != nil {
		return errs.Validationf("argon2id", "%v", err)
	}
	return nil
}
