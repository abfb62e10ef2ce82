package key

import "github.com/jmcleod/wordvault/crypto"

type options struct {
	provider crypto.Provider
	kdf      crypto.KDF
}

// Option configures the wrapping pipeline.
type Option func(*options)

// WithProvider overrides the crypto provider.
func WithProvider(p crypto.Provider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithKDF overrides the key-wrapping KDF. Defaults to PBKDF2-SHA256 with
// 600000 iterations.
func WithKDF(kdf crypto.KDF) Option {
	return func(o *options) {
		o.kdf = kdf
	}
}

func applyOptions(opts []Option) options {
	o := options{
		provider: crypto.Default(),
		kdf:      crypto.DefaultPBKDF2(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
