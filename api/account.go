package api

import (
	"errors"
	"net/http"

	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/errs"
	icrypto "github.com/jmcleod/wordvault/internal/crypto"
	"github.com/jmcleod/wordvault/internal/util"
	"github.com/jmcleod/wordvault/key"
	"github.com/jmcleod/wordvault/storage"
)

// ChangePassword handles POST /account/password. The caller proves the old
// password with its auth hash; the content key itself never changes.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	req, ok := decodeJSON[PasswordChangeRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if !sameAccount(session, req.UUID, req.UsernameHash) {
		writeError(w, http.StatusForbidden, "account mismatch")
		return
	}
	if err := validatePasswordChange(&req); err != nil {
		mapError(w, err)
		return
	}

	rec, version, err := a.loadAccount(session.UsernameHash)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !checkDigest(rec.AuthHashDigest, req.AuthHash) {
		a.audit.logFailure(AuditLoginFailure, r, "password change with wrong auth hash")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	rec.WrappedKey = req.NewWrappedKey
	rec.HMACWrappedKey = req.NewHMACWrappedKey
	rec.AuthHashDigest = util.SHA256(req.NewAuthHash)
	if err := a.setVerifier(rec, req.NewLoginVerifier); err != nil {
		writeInternalError(w, "failed to store login verifier", err)
		return
	}
	rec.UpdatedAt = a.now().UTC()
	if err := a.updateAccount(rec, version); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			writeError(w, http.StatusConflict, "account changed concurrently")
			return
		}
		writeInternalError(w, "failed to update account", err)
		return
	}

	a.audit.logEvent(AuditPasswordChanged, r, rec.UUID)
	w.WriteHeader(http.StatusNoContent)
}

func validatePasswordChange(req *PasswordChangeRequest) error {
	checks := []struct {
		field string
		b     []byte
		size  int
	}{
		{"auth_hash", req.AuthHash, crypto.KeySize},
		{"new_wrapped_key", req.NewWrappedKey, key.WrappedSize},
		{"new_hmac_wrapped_key", req.NewHMACWrappedKey, key.TagSize},
		{"new_auth_hash", req.NewAuthHash, crypto.KeySize},
		{"new_login_verifier", req.NewLoginVerifier, icrypto.ProofKeySize},
	}
	for _, c := range checks {
		if err := checkSize(c.field, c.b, c.size); err != nil {
			return err
		}
	}
	if len(req.UsernameHash) != icrypto.UsernameHashSize {
		return errs.Validationf("username_hash", "expected %d bytes", icrypto.UsernameHashSize)
	}
	return nil
}
