package envelope

import (
	"fmt"

	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/errs"
	icrypto "github.com/jmcleod/wordvault/internal/crypto"
)

// Codec encrypts fields with one algorithm and decrypts any supported one.
// It is stateless and safe for concurrent use.
type Codec struct {
	provider  crypto.Provider
	algorithm crypto.AEADAlgorithm
}

// Option configures a Codec.
type Option func(*Codec)

// WithProvider overrides the crypto provider.
func WithProvider(p crypto.Provider) Option {
	return func(c *Codec) {
		c.provider = p
	}
}

// WithAlgorithm selects the AEAD used for new envelopes. Defaults to AES-GCM.
func WithAlgorithm(alg crypto.AEADAlgorithm) Option {
	return func(c *Codec) {
		c.algorithm = alg
	}
}

// NewCodec returns a Codec.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		provider:  crypto.Default(),
		algorithm: crypto.AESGCM,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Algorithm reports the algorithm used for new envelopes.
func (c *Codec) Algorithm() crypto.AEADAlgorithm {
	return c.algorithm
}

// EncryptField seals plaintext for itemID/fieldName under a fresh IV.
func (c *Codec) EncryptField(contentKey, hmacKey []byte, itemID, fieldName, plaintext string) (string, error) {
	if !c.algorithm.Valid() {
		return "", errs.Validationf("algorithm", "unsupported algorithm %q", c.algorithm)
	}
	aad, err := icrypto.FieldAAD(c.provider, hmacKey, itemID, fieldName)
	if err != nil {
		return "", err
	}
	iv, err := c.provider.RandomBytes(c.algorithm.IVSize())
	if err != nil {
		return "", fmt.Errorf("generating field iv: %w", err)
	}
	ct, err := c.provider.AEADEncrypt(c.algorithm, contentKey, iv, aad, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("encrypting field %s: %w", fieldName, err)
	}
	env := &Envelope{Algorithm: c.algorithm, IV: iv, Ciphertext: ct}
	return env.String(), nil
}

// DecryptField opens env for itemID/fieldName. Every failure is
// errs.ErrEnvelopeAuthentication; the field is never returned empty in
// place of an error.
func (c *Codec) DecryptField(contentKey, hmacKey []byte, itemID, fieldName, env string) (string, error) {
	e, err := Parse(env)
	if err != nil {
		return "", err
	}
	aad, err := icrypto.FieldAAD(c.provider, hmacKey, itemID, fieldName)
	if err != nil {
		return "", errs.ErrEnvelopeAuthentication
	}
	pt, err := c.provider.AEADDecrypt(e.Algorithm, contentKey, e.IV, aad, e.Ciphertext)
	if err != nil {
		return "", errs.ErrEnvelopeAuthentication
	}
	return string(pt), nil
}
