// Package icrypto holds the protocol derivations shared by the client-side
// state machine, the envelope codec and the reference backend.
package icrypto

import (
	"encoding/base64"
	"fmt"

	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/errs"
	"github.com/jmcleod/wordvault/internal/util"
)

const (
	UsernameHashSize = 64
	LoginSaltSize    = 128
	ProofKeySize     = 32
)

// UsernameHash returns SHA-512 of the NFKC form of username.
func UsernameHash(p crypto.Provider, username string) ([]byte, error) {
	if username == "" {
		return nil, errs.Validationf("username", "must not be empty")
	}
	h, err := p.Hash(crypto.SHA512, []byte(util.NormalizeUsername(username)))
	if err != nil {
		return nil, fmt.Errorf("hashing username: %w", err)
	}
	return h, nil
}

// LoginSalt returns HMAC-SHA512(authKey, usernameHash) || usernameHash.
func LoginSalt(p crypto.Provider, authKey, usernameHash []byte) ([]byte, error) {
	if len(usernameHash) != UsernameHashSize {
		return nil, errs.Validationf("username_hash", "expected %d bytes, got %d", UsernameHashSize, len(usernameHash))
	}
	mac, err := p.HMAC(crypto.SHA512, authKey, usernameHash)
	if err != nil {
		return nil, fmt.Errorf("computing login salt: %w", err)
	}
	return util.ConcatBytes(mac, usernameHash), nil
}

// ProofKey derives the login proof from the password and login salt.
func ProofKey(p crypto.Provider, kdf crypto.KDF, password, loginSalt []byte) ([]byte, error) {
	k, err := p.DeriveKey(password, loginSalt, kdf)
	if err != nil {
		return nil, fmt.Errorf("deriving proof key: %w", err)
	}
	return k, nil
}

// FieldAAD binds a field ciphertext to its item and field name.
func FieldAAD(p crypto.Provider, hmacKey []byte, itemID, fieldName string) ([]byte, error) {
	aad, err := p.HMAC(crypto.SHA256, hmacKey, []byte(itemID+fieldName))
	if err != nil {
		return nil, fmt.Errorf("computing field aad: %w", err)
	}
	return aad, nil
}

// RequestKey derives the request-signing key from the HMAC words.
func RequestKey(p crypto.Provider, hmacKey []byte) ([]byte, error) {
	k, err := p.Hash(crypto.SHA256, hmacKey)
	if err != nil {
		return nil, fmt.Errorf("deriving request key: %w", err)
	}
	return k, nil
}

// RequestMAC returns the base64 X-HMAC header value for body.
func RequestMAC(p crypto.Provider, requestKey, body []byte) (string, error) {
	mac, err := p.HMAC(crypto.SHA256, requestKey, body)
	if err != nil {
		return "", fmt.Errorf("signing request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(mac), nil
}
