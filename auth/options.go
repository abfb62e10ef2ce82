package auth

import (
	"log/slog"

	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/key"
)

type config struct {
	provider crypto.Provider
	proofKDF crypto.KDF
	wrapKDF  crypto.KDF
	logger   *slog.Logger
}

// Option configures a Machine or a Registrar.
type Option func(*config)

// WithProvider sets the crypto provider.
func WithProvider(p crypto.Provider) Option {
	return func(c *config) {
		c.provider = p
	}
}

// WithProofKDF sets the KDF that turns the password and login salt into the
// login proof. The default is Argon2id with the moderate profile. Client
// and server must agree on it.
func WithProofKDF(kdf crypto.KDF) Option {
	return func(c *config) {
		c.proofKDF = kdf
	}
}

// WithWrapKDF sets the KDF for the key-wrapping key and auth hash. The
// default is PBKDF2-SHA256 with 600000 iterations.
func WithWrapKDF(kdf crypto.KDF) Option {
	return func(c *config) {
		c.wrapKDF = kdf
	}
}

// WithLogger sets the logger. Secrets are never logged.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

func applyOptions(opts []Option) config {
	c := config{
		provider: crypto.Default(),
		proofKDF: crypto.DefaultArgon2id(),
		wrapKDF:  crypto.DefaultPBKDF2(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c config) keyOptions() []key.Option {
	return []key.Option{key.WithProvider(c.provider), key.WithKDF(c.wrapKDF)}
}
