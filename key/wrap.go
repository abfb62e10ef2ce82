package key

import (
	"crypto/subtle"
	"fmt"

	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/errs"
	"github.com/jmcleod/wordvault/internal/util"
	"github.com/jmcleod/wordvault/internal/uuid"
)

const (
	// IVSize is the AES-GCM nonce prefix of a wrapped key.
	IVSize = 12
	// WrappedSize is IV || AES-GCM(contentKey): 12 + 32 + 16 bytes.
	WrappedSize = IVSize + crypto.KeySize + 16
	// TagSize is the HMAC-SHA256 tag over the wrapped key.
	TagSize = 32
)

// Wrapped is the result of wrapping a fresh content key.
type Wrapped struct {
	// WrappedKeyWithIV is IV || AES-GCM(KWK, contentKey).
	WrappedKeyWithIV []byte
	// HMACTag is HMAC-SHA256(hmacKey, WrappedKeyWithIV).
	HMACTag []byte
	// ContentKey is the unwrapped key for local use. Callers own it and
	// must Destroy it.
	ContentKey Key
}

// Salt returns the key-wrapping salt for an account: the UTF-8 bytes of the
// UUID with dashes removed.
func Salt(id string) ([]byte, error) {
	s, err := uuid.StripDashes(id)
	if err != nil {
		return nil, errs.Validationf("uuid", "%v", err)
	}
	return []byte(s), nil
}

func deriveKWK(o options, password, salt []byte) (Key, error) {
	raw, err := o.provider.DeriveKey(password, salt, o.kdf)
	if err != nil {
		return nil, fmt.Errorf("deriving key-wrapping key: %w", err)
	}
	defer util.WipeBytes(raw)
	return newWithIDAndTypeAndBytes("kwk", KeyWrapping, raw), nil
}

// WrapNewContentKey derives the key-wrapping key from password and the
// account UUID, generates a random content key, wraps it under a fresh IV
// and tags the result with hmacKey.
func WrapNewContentKey(password []byte, id string, hmacKey []byte, opts ...Option) (*Wrapped, error) {
	o := applyOptions(opts)
	if len(password) == 0 {
		return nil, errs.Validationf("password", "must not be empty")
	}
	if len(hmacKey) == 0 {
		return nil, errs.Validationf("secret_words", "hmac key must not be empty")
	}
	salt, err := Salt(id)
	if err != nil {
		return nil, err
	}

	content, err := NewContentKey(o.provider)
	if err != nil {
		return nil, err
	}
	w, err := wrap(o, content, password, salt, hmacKey)
	if err != nil {
		content.Destroy()
		return nil, err
	}
	return w, nil
}

func wrap(o options, content Key, password, salt, hmacKey []byte) (*Wrapped, error) {
	kwk, err := deriveKWK(o, password, salt)
	if err != nil {
		return nil, err
	}
	defer kwk.Destroy()

	iv, err := o.provider.RandomBytes(IVSize)
	if err != nil {
		return nil, fmt.Errorf("generating wrap iv: %w", err)
	}

	raw := content.Bytes()
	defer util.WipeBytes(raw)
	kwkBytes := kwk.Bytes()
	defer util.WipeBytes(kwkBytes)

	ct, err := o.provider.AEADEncrypt(crypto.AESGCM, kwkBytes, iv, nil, raw)
	if err != nil {
		return nil, fmt.Errorf("wrapping content key: %w", err)
	}
	wrapped := util.ConcatBytes(iv, ct)

	tag, err := o.provider.HMAC(crypto.SHA256, hmacKey, wrapped)
	if err != nil {
		return nil, fmt.Errorf("tagging wrapped key: %w", err)
	}

	return &Wrapped{
		WrappedKeyWithIV: wrapped,
		HMACTag:          tag,
		ContentKey:       content,
	}, nil
}

// UnwrapContentKey recovers the content key from wrapped using password and
// salt. Every failure past input validation is errs.ErrKeyUnwrap; the
// key-wrapping key is always derived before the blob is inspected.
func UnwrapContentKey(wrapped, password, salt []byte, opts ...Option) (Key, error) {
	o := applyOptions(opts)
	if len(password) == 0 {
		return nil, errs.Validationf("password", "must not be empty")
	}
	if len(salt) == 0 {
		return nil, errs.Validationf("salt", "must not be empty")
	}

	kwk, err := deriveKWK(o, password, salt)
	if err != nil {
		return nil, err
	}
	defer kwk.Destroy()
	kwkBytes := kwk.Bytes()
	defer util.WipeBytes(kwkBytes)

	if len(wrapped) != WrappedSize {
		return nil, errs.ErrKeyUnwrap
	}
	raw, err := o.provider.AEADDecrypt(crypto.AESGCM, kwkBytes, wrapped[:IVSize], nil, wrapped[IVSize:])
	if err != nil {
		return nil, errs.ErrKeyUnwrap
	}
	defer util.WipeBytes(raw)

	return FromBytes(raw)
}

// VerifyTag reports whether tag is HMAC-SHA256(hmacKey, wrapped), in
// constant time.
func VerifyTag(hmacKey, wrapped, tag []byte) bool {
	if len(hmacKey) == 0 {
		return false
	}
	want := util.HMACSHA256(hmacKey, wrapped)
	return subtle.ConstantTimeCompare(want, tag) == 1
}

// AuthHash derives the server-side authentication hash from the password
// and the authentication words, salted like the key-wrapping key.
func AuthHash(password, authKey []byte, id string, opts ...Option) ([]byte, error) {
	o := applyOptions(opts)
	if len(password) == 0 {
		return nil, errs.Validationf("password", "must not be empty")
	}
	salt, err := Salt(id)
	if err != nil {
		return nil, err
	}
	input := util.ConcatBytes(password, authKey)
	defer util.WipeBytes(input)

	h, err := o.provider.DeriveKey(input, salt, o.kdf)
	if err != nil {
		return nil, fmt.Errorf("deriving auth hash: %w", err)
	}
	return h, nil
}

// Rewrap unwraps the content key with oldPassword and wraps the same key
// under newPassword with a fresh IV. Items encrypted under the content key
// stay readable.
func Rewrap(wrapped, oldPassword, newPassword []byte, id string, hmacKey []byte, opts ...Option) (*Wrapped, error) {
	o := applyOptions(opts)
	if len(newPassword) == 0 {
		return nil, errs.Validationf("new_password", "must not be empty")
	}
	salt, err := Salt(id)
	if err != nil {
		return nil, err
	}

	content, err := UnwrapContentKey(wrapped, oldPassword, salt, opts...)
	if err != nil {
		return nil, err
	}
	w, err := wrap(o, content, newPassword, salt, hmacKey)
	if err != nil {
		content.Destroy()
		return nil, err
	}
	return w, nil
}
