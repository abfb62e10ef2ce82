package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/jmcleod/wordvault/api"
	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/errs"
	icrypto "github.com/jmcleod/wordvault/internal/crypto"
	"github.com/jmcleod/wordvault/internal/util"
	"github.com/jmcleod/wordvault/key"
)

// PasswordRotator is implemented by transports that can replace the
// account's wrapped key.
type PasswordRotator interface {
	RotatePassword(ctx context.Context, req *api.PasswordChangeRequest) error
}

// ChangePassword rewraps the content key under newPassword. The secret
// words are asked for again because the auth hash and login verifier
// depend on them. Items are untouched: the content key does not change.
// Both password slices are wiped.
func (m *Machine) ChangePassword(ctx context.Context, words []string, oldPassword, newPassword []byte) error {
	defer util.WipeBytes(oldPassword)
	defer util.WipeBytes(newPassword)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.expect(Authenticated, "ChangePassword"); err != nil {
		return err
	}
	rotator, ok := m.transport.(PasswordRotator)
	if !ok {
		return protocolErrorf("transport cannot rotate passwords")
	}
	if len(oldPassword) == 0 {
		return errs.Validationf("password", "must not be empty")
	}
	if len(newPassword) == 0 {
		return errs.Validationf("new_password", "must not be empty")
	}
	sw, err := crypto.NewSecretWords(words)
	if err != nil {
		return err
	}
	hmacKey := sw.HMACKey()
	defer util.WipeBytes(hmacKey)
	authKey := sw.AuthKey()
	defer util.WipeBytes(authKey)

	keys, err := m.store.Get()
	if err != nil {
		return err
	}
	match := subtle.ConstantTimeCompare(keys.SigningKey(), hmacKey) == 1
	keys.Destroy()
	if !match {
		return errs.Validationf("secret_words", "do not belong to this account")
	}

	sess := m.session
	opts := m.cfg.keyOptions()
	oldAuth, err := key.AuthHash(oldPassword, authKey, sess.UUID, opts...)
	if err != nil {
		return err
	}
	defer util.WipeBytes(oldAuth)
	rewrapped, err := key.Rewrap(sess.WrappedKey, oldPassword, newPassword, sess.UUID, hmacKey, opts...)
	if err != nil {
		return err
	}
	rewrapped.ContentKey.Destroy()
	newAuth, err := key.AuthHash(newPassword, authKey, sess.UUID, opts...)
	if err != nil {
		return err
	}
	defer util.WipeBytes(newAuth)
	salt, err := icrypto.LoginSalt(m.cfg.provider, authKey, sess.UsernameHash)
	if err != nil {
		return err
	}
	defer util.WipeBytes(salt)
	verifier, err := icrypto.ProofKey(m.cfg.provider, m.cfg.proofKDF, newPassword, salt)
	if err != nil {
		return err
	}
	defer util.WipeBytes(verifier)

	err = rotator.RotatePassword(ctx, &api.PasswordChangeRequest{
		UUID:              sess.UUID,
		UsernameHash:      sess.UsernameHash,
		AuthHash:          oldAuth,
		NewWrappedKey:     rewrapped.WrappedKeyWithIV,
		NewHMACWrappedKey: rewrapped.HMACTag,
		NewAuthHash:       newAuth,
		NewLoginVerifier:  verifier,
	})
	if err != nil {
		return fmt.Errorf("rotating password: %w", err)
	}
	sess.WrappedKey = rewrapped.WrappedKeyWithIV
	m.cfg.logger.Info("password changed")
	return nil
}
