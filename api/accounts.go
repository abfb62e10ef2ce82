package api

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/internal/util"
	"github.com/jmcleod/wordvault/storage"
)

const (
	accountNamespace      = "__accounts"
	accountRecordType     = "account"
	registrationNamespace = "__registrations"
	registrationType      = "pending"
	itemRecordType        = "item"

	verifierSaltSize = 16
)

var errAccountNotFound = errors.New("account not found")

// accountRecord is what the server keeps per account. It holds hashes of
// the secret words, never the words.
type accountRecord struct {
	UUID           string                `json:"uuid"`
	UsernameHash   []byte                `json:"username_hash"`
	WrappedKey     []byte                `json:"wrapped_key"`
	HMACWrappedKey []byte                `json:"hmac_wrapped_key"`
	AuthHashDigest []byte                `json:"auth_hash_digest"`
	AuthWordsHash  []byte                `json:"auth_words_hash"`
	RequestKey     []byte                `json:"request_key"`
	Verifier       []byte                `json:"verifier"`
	VerifierSalt   []byte                `json:"verifier_salt"`
	VerifierParams crypto.Argon2idParams `json:"verifier_params"`
	TOTPSecret     string                `json:"totp_secret"`
	Algorithm      crypto.AEADAlgorithm  `json:"algorithm"`
	Email          string                `json:"email,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// pendingRegistration is the server half of a registration in progress.
type pendingRegistration struct {
	UUID       string    `json:"uuid"`
	Words      []string  `json:"words"`
	TOTPSecret string    `json:"totp_secret"`
	Verified   bool      `json:"verified"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func accountID(usernameHash []byte) string {
	return hex.EncodeToString(usernameHash)
}

func (a *API) createAccount(rec *accountRecord) error {
	stored, err := storage.EncodeJSON(rec, 1)
	if err != nil {
		return err
	}
	return a.repo.PutCAS(accountNamespace, accountRecordType, accountID(rec.UsernameHash), 0, stored)
}

func (a *API) loadAccount(usernameHash []byte) (*accountRecord, uint64, error) {
	stored, err := a.repo.Get(accountNamespace, accountRecordType, accountID(usernameHash))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
			return nil, 0, errAccountNotFound
		}
		return nil, 0, err
	}
	var rec accountRecord
	if err := storage.DecodeJSON(stored, &rec); err != nil {
		return nil, 0, err
	}
	return &rec, stored.Version, nil
}

func (a *API) updateAccount(rec *accountRecord, version uint64) error {
	stored, err := storage.EncodeJSON(rec, version+1)
	if err != nil {
		return err
	}
	return a.repo.PutCAS(accountNamespace, accountRecordType, accountID(rec.UsernameHash), version, stored)
}

// hashVerifier computes the stored form of a login verifier.
func hashVerifier(verifier, salt []byte, params crypto.Argon2idParams) ([]byte, error) {
	h, err := util.DeriveArgon2idKey(verifier, salt, params)
	if err != nil {
		return nil, fmt.Errorf("hashing login verifier: %w", err)
	}
	return h, nil
}

// setVerifier replaces the account's verifier hash under a fresh salt.
func (a *API) setVerifier(rec *accountRecord, verifier []byte) error {
	salt, err := util.RandomBytes(verifierSaltSize)
	if err != nil {
		return err
	}
	h, err := hashVerifier(verifier, salt, a.verifierParams)
	if err != nil {
		return err
	}
	rec.Verifier = h
	rec.VerifierSalt = salt
	rec.VerifierParams = a.verifierParams
	return nil
}

// checkVerifier reports whether proof matches rec. A nil rec still spends
// the same work so unknown usernames cost what known ones do.
func (a *API) checkVerifier(rec *accountRecord, proof []byte) bool {
	if rec == nil {
		h, err := hashVerifier(proof, a.dummySalt, a.verifierParams)
		if err == nil {
			util.WipeBytes(h)
		}
		return false
	}
	ok, err := util.CompareArgon2idKey(proof, rec.VerifierSalt, rec.VerifierParams, rec.Verifier)
	return err == nil && ok
}

func checkDigest(digest, value []byte) bool {
	sum := util.SHA256(value)
	return subtle.ConstantTimeCompare(sum, digest) == 1
}

func (a *API) savePending(p *pendingRegistration) error {
	stored, err := storage.EncodeJSON(p, 1)
	if err != nil {
		return err
	}
	return a.repo.Put(registrationNamespace, registrationType, p.UUID, stored)
}

func (a *API) loadPending(id string) (*pendingRegistration, error) {
	stored, err := a.repo.Get(registrationNamespace, registrationType, id)
	if err != nil {
		return nil, err
	}
	var p pendingRegistration
	if err := storage.DecodeJSON(stored, &p); err != nil {
		return nil, err
	}
	if a.now().After(p.ExpiresAt) {
		_ = a.repo.Delete(registrationNamespace, registrationType, id)
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (a *API) deletePending(id string) {
	_ = a.repo.Delete(registrationNamespace, registrationType, id)
}
