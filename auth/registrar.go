package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmcleod/wordvault/api"
	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/errs"
	icrypto "github.com/jmcleod/wordvault/internal/crypto"
	"github.com/jmcleod/wordvault/internal/totp"
	"github.com/jmcleod/wordvault/internal/util"
	"github.com/jmcleod/wordvault/key"
	"github.com/jmcleod/wordvault/storage"
)

const (
	registrationNamespace = "__registration"
	registrationType      = "pending"
	registrationID        = "current"
)

// ErrNoRegistration is returned when no registration has been started.
var ErrNoRegistration = fmt.Errorf("%w: no registration in progress", errs.ErrProtocolState)

// RegistrationTransport is the server side of registration.
type RegistrationTransport interface {
	InitRegistration(ctx context.Context) (*api.RegistrationBundle, error)
	VerifyTOTP(ctx context.Context, accountUUID, code string) error
	Register(ctx context.Context, req *api.RegisterRequest) error
}

// Pending is a started registration. The words are shown to the user once
// and are needed again to complete.
type Pending struct {
	UUID       string    `json:"uuid"`
	Words      []string  `json:"words"`
	TOTPSecret string    `json:"totp_secret"`
	OTPAuthURL string    `json:"otpauth_url"`
	ExpiresAt  time.Time `json:"expires_at"`
	Verified   bool      `json:"verified"`
}

// Form is the user input that completes a registration.
type Form struct {
	Username        string
	Password        []byte
	ConfirmPassword []byte
	Email           string
	Algorithm       crypto.AEADAlgorithm
}

// Validate checks the form before any key material is derived.
func (f *Form) Validate() error {
	if strings.TrimSpace(f.Username) == "" {
		return errs.Validationf("username", "must not be empty")
	}
	if len(f.Password) == 0 {
		return errs.Validationf("password", "must not be empty")
	}
	if string(f.Password) != string(f.ConfirmPassword) {
		return errs.Validationf("confirm_password", "does not match")
	}
	if f.Algorithm == "" {
		f.Algorithm = crypto.AESGCM
	}
	if !f.Algorithm.Valid() {
		return errs.Validationf("algorithm", "unsupported algorithm %q", f.Algorithm)
	}
	if f.Email != "" && !strings.Contains(f.Email, "@") {
		return errs.Validationf("email", "must contain @")
	}
	return nil
}

// Registrar runs the two-phase registration. The pending bundle is kept in
// repo so a restarted client can finish it.
type Registrar struct {
	cfg       config
	transport RegistrationTransport
	repo      storage.Repository
}

// NewRegistrar returns a Registrar.
func NewRegistrar(t RegistrationTransport, repo storage.Repository, opts ...Option) *Registrar {
	return &Registrar{cfg: applyOptions(opts), transport: t, repo: repo}
}

// Begin asks the server for a uuid, ten words and a TOTP secret, and
// stores them as the pending registration, replacing any previous one.
func (r *Registrar) Begin(ctx context.Context) (*Pending, error) {
	bundle, err := r.transport.InitRegistration(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting registration: %w", err)
	}
	if _, err := crypto.NewSecretWords(bundle.Words); err != nil {
		return nil, fmt.Errorf("server issued invalid words: %w", err)
	}
	p := &Pending{
		UUID:       bundle.UUID,
		Words:      bundle.Words,
		TOTPSecret: bundle.TOTPSecret,
		OTPAuthURL: bundle.OTPAuthURL,
	}
	if bundle.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, bundle.ExpiresAt); err == nil {
			p.ExpiresAt = t
		}
	}
	if err := r.save(p); err != nil {
		return nil, err
	}
	r.cfg.logger.Info("registration started", "uuid", p.UUID)
	return p, nil
}

// Pending returns the stored registration.
func (r *Registrar) Pending() (*Pending, error) {
	rec, err := r.repo.Get(registrationNamespace, registrationType, registrationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
			return nil, ErrNoRegistration
		}
		return nil, fmt.Errorf("loading registration: %w", err)
	}
	var p Pending
	if err := storage.DecodeJSON(rec, &p); err != nil {
		return nil, fmt.Errorf("decoding registration: %w", err)
	}
	return &p, nil
}

// VerifyTOTP confirms the authenticator app holds the secret.
func (r *Registrar) VerifyTOTP(ctx context.Context, code string) error {
	code = totp.Normalize(code)
	if !totp.ValidCode(code) {
		return errs.Validationf("code", "must be exactly %d digits", totp.Digits)
	}
	p, err := r.Pending()
	if err != nil {
		return err
	}
	if err := r.transport.VerifyTOTP(ctx, p.UUID, code); err != nil {
		return fmt.Errorf("verifying one-time code: %w", err)
	}
	p.Verified = true
	return r.save(p)
}

// Complete derives the wrapped content key, auth hash and login verifier
// from the form and the pending words, and registers the account. The
// password slices are wiped. It returns the account UUID.
func (r *Registrar) Complete(ctx context.Context, form Form) (string, error) {
	defer util.WipeBytes(form.Password)
	defer util.WipeBytes(form.ConfirmPassword)
	if err := form.Validate(); err != nil {
		return "", err
	}
	p, err := r.Pending()
	if err != nil {
		return "", err
	}
	if !p.Verified {
		return "", fmt.Errorf("%w: one-time code not verified", errs.ErrProtocolState)
	}
	req, err := r.buildRequest(p, &form)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(req.LoginVerifier)
	defer util.WipeBytes(req.AuthHash)

	if err := r.transport.Register(ctx, req); err != nil {
		return "", fmt.Errorf("registering: %w", err)
	}
	if err := r.Cancel(); err != nil {
		r.cfg.logger.Warn("failed to clear pending registration", "error", err)
	}
	r.cfg.logger.Info("registration complete", "uuid", p.UUID, "algorithm", string(form.Algorithm))
	return p.UUID, nil
}

func (r *Registrar) buildRequest(p *Pending, form *Form) (*api.RegisterRequest, error) {
	words, err := crypto.NewSecretWords(p.Words)
	if err != nil {
		return nil, err
	}
	hmacKey := words.HMACKey()
	defer util.WipeBytes(hmacKey)
	authKey := words.AuthKey()
	defer util.WipeBytes(authKey)

	uh, err := icrypto.UsernameHash(r.cfg.provider, form.Username)
	if err != nil {
		return nil, err
	}
	wrapped, err := key.WrapNewContentKey(form.Password, p.UUID, hmacKey, r.cfg.keyOptions()...)
	if err != nil {
		return nil, err
	}
	wrapped.ContentKey.Destroy()

	authHash, err := key.AuthHash(form.Password, authKey, p.UUID, r.cfg.keyOptions()...)
	if err != nil {
		return nil, err
	}
	salt, err := icrypto.LoginSalt(r.cfg.provider, authKey, uh)
	if err != nil {
		return nil, err
	}
	verifier, err := icrypto.ProofKey(r.cfg.provider, r.cfg.proofKDF, form.Password, salt)
	if err != nil {
		return nil, err
	}

	return &api.RegisterRequest{
		UUID:           p.UUID,
		UsernameHash:   uh,
		WrappedKey:     wrapped.WrappedKeyWithIV,
		HMACWrappedKey: wrapped.HMACTag,
		AuthHash:       authHash,
		LoginVerifier:  verifier,
		Algorithm:      form.Algorithm,
		Email:          form.Email,
	}, nil
}

// Cancel forgets the pending registration.
func (r *Registrar) Cancel() error {
	err := r.repo.Delete(registrationNamespace, registrationType, registrationID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrNamespaceNotFound) {
		return err
	}
	return nil
}

func (r *Registrar) save(p *Pending) error {
	rec, err := storage.EncodeJSON(p, 1)
	if err != nil {
		return err
	}
	if err := r.repo.Put(registrationNamespace, registrationType, registrationID, rec); err != nil {
		return fmt.Errorf("saving registration: %w", err)
	}
	return nil
}
