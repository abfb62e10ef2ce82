package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/errs"
	icrypto "github.com/jmcleod/wordvault/internal/crypto"
	"github.com/jmcleod/wordvault/internal/totp"
	"github.com/jmcleod/wordvault/internal/util"
	"github.com/jmcleod/wordvault/internal/uuid"
	"github.com/jmcleod/wordvault/key"
	"github.com/jmcleod/wordvault/storage"
)

// RegisterInit handles POST /register/init. It issues the account UUID,
// the ten secret words and the TOTP secret, and holds them as a pending
// registration.
func (a *API) RegisterInit(w http.ResponseWriter, r *http.Request) {
	clientIP := a.extractClientIP(r)
	if ok, retryAfter := a.registerIPLimiter.reserve(clientIP); !ok {
		a.audit.logFailure(AuditRegisterRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}

	words, err := crypto.GenerateSecretWords()
	if err != nil {
		writeInternalError(w, "failed to generate secret words", err)
		return
	}
	secret, err := totp.GenerateSecret()
	if err != nil {
		writeInternalError(w, "failed to generate totp secret", err)
		return
	}
	pending := &pendingRegistration{
		UUID:       uuid.New(),
		Words:      words.Words(),
		TOTPSecret: secret,
		ExpiresAt:  a.now().Add(registrationTTL),
	}
	if err := a.savePending(pending); err != nil {
		writeInternalError(w, "failed to start registration", err)
		return
	}

	a.audit.logEvent(AuditRegisterInit, r, pending.UUID)
	writeJSON(w, http.StatusCreated, RegistrationBundle{
		UUID:       pending.UUID,
		Words:      pending.Words,
		TOTPSecret: secret,
		OTPAuthURL: totp.AuthURL(secret, pending.UUID),
		ExpiresAt:  pending.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// VerifyRegistrationTOTP handles POST /register/verify-totp.
func (a *API) VerifyRegistrationTOTP(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[VerifyTOTPRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	pending, ok := a.pendingFromRequest(w, req.UUID)
	if !ok {
		return
	}
	if !totp.Verify(pending.TOTPSecret, req.Code, a.now()) {
		a.audit.logFailure(AuditRegisterFailure, r, "invalid one-time code",
			slog.String("account_uuid", pending.UUID))
		writeError(w, http.StatusUnauthorized, "invalid one-time code")
		return
	}

	pending.Verified = true
	if err := a.savePending(pending); err != nil {
		writeInternalError(w, "failed to save registration", err)
		return
	}
	a.audit.logEvent(AuditRegisterTOTPVerified, r, pending.UUID)
	w.WriteHeader(http.StatusNoContent)
}

// Register handles POST /register. The wrapped key's HMAC tag is checked
// against the words issued at init, then the account is stored with hashes
// of the words only.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RegisterRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if err := validateRegisterRequest(&req); err != nil {
		mapError(w, err)
		return
	}
	pending, ok := a.pendingFromRequest(w, req.UUID)
	if !ok {
		return
	}
	if !pending.Verified {
		writeError(w, http.StatusForbidden, "one-time code not verified")
		return
	}

	words, err := crypto.NewSecretWords(pending.Words)
	if err != nil {
		writeInternalError(w, "corrupt pending registration", err)
		return
	}
	hmacKey := words.HMACKey()
	defer util.WipeBytes(hmacKey)
	authKey := words.AuthKey()
	defer util.WipeBytes(authKey)

	if !key.VerifyTag(hmacKey, req.WrappedKey, req.HMACWrappedKey) {
		a.audit.logFailure(AuditRegisterFailure, r, "wrapped key tag mismatch",
			slog.String("account_uuid", pending.UUID))
		writeError(w, http.StatusBadRequest, "wrapped key does not match issued words")
		return
	}
	requestKey, err := icrypto.RequestKey(a.provider, hmacKey)
	if err != nil {
		writeInternalError(w, "failed to derive request key", err)
		return
	}

	now := a.now().UTC()
	rec := &accountRecord{
		UUID:           pending.UUID,
		UsernameHash:   req.UsernameHash,
		WrappedKey:     req.WrappedKey,
		HMACWrappedKey: req.HMACWrappedKey,
		AuthHashDigest: util.SHA256(req.AuthHash),
		AuthWordsHash:  util.SHA256(authKey),
		RequestKey:     requestKey,
		TOTPSecret:     pending.TOTPSecret,
		Algorithm:      req.Algorithm,
		Email:          req.Email,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.setVerifier(rec, req.LoginVerifier); err != nil {
		writeInternalError(w, "failed to store login verifier", err)
		return
	}
	if err := a.createAccount(rec); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			a.audit.logFailure(AuditRegisterFailure, r, "username taken",
				slog.String("account_uuid", pending.UUID))
			writeError(w, http.StatusConflict, "account already exists")
			return
		}
		writeInternalError(w, "failed to persist account", err)
		return
	}
	a.deletePending(pending.UUID)

	a.audit.logEvent(AuditRegister, r, rec.UUID, slog.String("algorithm", string(rec.Algorithm)))
	writeJSON(w, http.StatusCreated, RegisterResponse{UUID: rec.UUID})
}

func (a *API) pendingFromRequest(w http.ResponseWriter, id string) (*pendingRegistration, bool) {
	canonical, err := uuid.Canonical(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid uuid")
		return nil, false
	}
	pending, err := a.loadPending(canonical)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
			writeError(w, http.StatusNotFound, "registration not found or expired")
			return nil, false
		}
		writeInternalError(w, "failed to load registration", err)
		return nil, false
	}
	return pending, true
}

func validateRegisterRequest(req *RegisterRequest) error {
	canonical, err := uuid.Canonical(req.UUID)
	if err != nil {
		return errs.Validationf("uuid", "invalid")
	}
	req.UUID = canonical
	if err := checkSize("username_hash", req.UsernameHash, icrypto.UsernameHashSize); err != nil {
		return err
	}
	if err := checkSize("wrapped_key", req.WrappedKey, key.WrappedSize); err != nil {
		return err
	}
	if err := checkSize("hmac_wrapped_key", req.HMACWrappedKey, key.TagSize); err != nil {
		return err
	}
	if err := checkSize("auth_hash", req.AuthHash, crypto.KeySize); err != nil {
		return err
	}
	if err := checkSize("login_verifier", req.LoginVerifier, icrypto.ProofKeySize); err != nil {
		return err
	}
	if !req.Algorithm.Valid() {
		return errs.Validationf("algorithm", "unsupported algorithm %q", req.Algorithm)
	}
	if req.Email != "" && !strings.Contains(req.Email, "@") {
		return errs.Validationf("email", "must contain @")
	}
	return nil
}

func checkSize(field string, b []byte, want int) error {
	if len(b) != want {
		return errs.Validationf(field, "expected %d bytes, got %d", want, len(b))
	}
	return nil
}
