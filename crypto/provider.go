package crypto

import (
	"errors"
	"fmt"

	"github.com/jmcleod/wordvault/internal/util"
)

// KeySize is the size in bytes of every symmetric key handled by a Provider.
const KeySize = 32

// HashAlgorithm selects a digest for Hash and HMAC.
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
	SHA512 HashAlgorithm = "sha512"
)

// AEADAlgorithm selects an authenticated cipher.
type AEADAlgorithm string

const (
	AESGCM    AEADAlgorithm = "aesgcm"
	XChaCha20 AEADAlgorithm = "xchacha20"
)

// IVSize returns the nonce length for the algorithm, or 0 if unknown.
func (a AEADAlgorithm) IVSize() int {
	switch a {
	case AESGCM:
		return util.AESNonceSize
	case XChaCha20:
		return util.XChaChaNonceSize
	default:
		return 0
	}
}

func (a AEADAlgorithm) Valid() bool {
	return a.IVSize() != 0
}

// ParseAEADAlgorithm accepts the wire names "aesgcm" and "xchacha20".
func ParseAEADAlgorithm(s string) (AEADAlgorithm, error) {
	a := AEADAlgorithm(s)
	if !a.Valid() {
		return "", fmt.Errorf("unsupported algorithm %q", s)
	}
	return a, nil
}

// Provider is the set of primitives the protocol is built from. Every method
// except RandomBytes reports failures as *ProviderError; AEADDecrypt reports
// an authentication failure as ErrAuthentication instead. Implementations
// must not retry.
type Provider interface {
	Hash(alg HashAlgorithm, data []byte) ([]byte, error)
	HMAC(alg HashAlgorithm, key, data []byte) ([]byte, error)
	DeriveKey(password, salt []byte, kdf KDF) ([]byte, error)
	GenerateKey(size int) ([]byte, error)
	AEADEncrypt(alg AEADAlgorithm, key, iv, aad, plaintext []byte) ([]byte, error)
	AEADDecrypt(alg AEADAlgorithm, key, iv, aad, ciphertext []byte) ([]byte, error)
	RandomBytes(n int) ([]byte, error)
}

type provider struct{}

var defaultProvider Provider = provider{}

// Default returns the standard library / x/crypto backed Provider.
func Default() Provider {
	return defaultProvider
}

func (provider) Hash(alg HashAlgorithm, data []byte) ([]byte, error) {
	switch alg {
	case SHA256:
		return util.SHA256(data), nil
	case SHA512:
		return util.SHA512(data), nil
	default:
		return nil, newProviderError("hash", fmt.Errorf("unsupported hash %q", alg))
	}
}

func (provider) HMAC(alg HashAlgorithm, key, data []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, newProviderError("hmac", errors.New("empty key"))
	}
	switch alg {
	case SHA256:
		return util.HMACSHA256(key, data), nil
	case SHA512:
		return util.HMACSHA512(key, data), nil
	default:
		return nil, newProviderError("hmac", fmt.Errorf("unsupported hash %q", alg))
	}
}

func (provider) DeriveKey(password, salt []byte, kdf KDF) ([]byte, error) {
	if kdf == nil {
		return nil, newProviderError("derive key", errors.New("no KDF configured"))
	}
	if err := kdf.Validate(); err != nil {
		return nil, newProviderError("derive key", err)
	}
	k, err := kdf.Derive(password, salt)
	if err != nil {
		return nil, newProviderError("derive key", err)
	}
	return k, nil
}

func (provider) GenerateKey(size int) ([]byte, error) {
	if size != KeySize {
		return nil, newProviderError("generate key", fmt.Errorf("unsupported key size %d", size))
	}
	k, err := util.NewAESKey()
	if err != nil {
		return nil, newProviderError("generate key", err)
	}
	return k, nil
}

func checkAEADInputs(op string, alg AEADAlgorithm, key, iv []byte) error {
	if !alg.Valid() {
		return newProviderError(op, fmt.Errorf("unsupported algorithm %q", alg))
	}
	if len(key) != KeySize {
		return newProviderError(op, fmt.Errorf("invalid key size %d", len(key)))
	}
	if len(iv) != alg.IVSize() {
		return newProviderError(op, fmt.Errorf("invalid iv size %d for %s", len(iv), alg))
	}
	return nil
}

func (provider) AEADEncrypt(alg AEADAlgorithm, key, iv, aad, plaintext []byte) ([]byte, error) {
	if err := checkAEADInputs("aead encrypt", alg, key, iv); err != nil {
		return nil, err
	}
	var (
		ct  []byte
		err error
	)
	switch alg {
	case AESGCM:
		ct, err = util.SealAESGCM(key, iv, aad, plaintext)
	case XChaCha20:
		ct, err = util.SealXChaCha(key, iv, aad, plaintext)
	}
	if err != nil {
		return nil, newProviderError("aead encrypt", err)
	}
	return ct, nil
}

func (provider) AEADDecrypt(alg AEADAlgorithm, key, iv, aad, ciphertext []byte) ([]byte, error) {
	if err := checkAEADInputs("aead decrypt", alg, key, iv); err != nil {
		return nil, err
	}
	var (
		pt  []byte
		err error
	)
	switch alg {
	case AESGCM:
		pt, err = util.OpenAESGCM(key, iv, aad, ciphertext)
	case XChaCha20:
		pt, err = util.OpenXChaCha(key, iv, aad, ciphertext)
	}
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}

func (provider) RandomBytes(n int) ([]byte, error) {
	b, err := util.RandomBytes(n)
	if err != nil {
		return nil, newProviderError("random bytes", err)
	}
	return b, nil
}
