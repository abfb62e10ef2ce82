package envelope

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/errs"
)

var (
	fixedKey = bytes.Repeat([]byte{0x42}, crypto.KeySize)
	hmacKey  = []byte("f g h i j")
)

func TestEncryptDecrypt_AADBinding(t *testing.T) {
	c := NewCodec()

	env, err := c.EncryptField(fixedKey, hmacKey, "abc123", "password", "s3cr3t!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(env, "aesgcm:"))

	_, err = c.DecryptField(fixedKey, hmacKey, "abc124", "password", env)
	require.ErrorIs(t, err, errs.ErrEnvelopeAuthentication)

	_, err = c.DecryptField(fixedKey, hmacKey, "abc123", "username", env)
	require.ErrorIs(t, err, errs.ErrEnvelopeAuthentication)

	pt, err := c.DecryptField(fixedKey, hmacKey, "abc123", "password", env)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t!", pt)
}

func TestEncryptDecrypt_Algorithms(t *testing.T) {
	fieldSets := map[string][]string{
		"credential": {"username", "password", "url", "notes"},
		"card":       {"number", "holder", "expiry", "cvv", "notes"},
		"note":       {"title", "content"},
	}

	for _, alg := range []crypto.AEADAlgorithm{crypto.AESGCM, crypto.XChaCha20} {
		c := NewCodec(WithAlgorithm(alg))
		for typ, fields := range fieldSets {
			for _, f := range fields {
				text := typ + "/" + f + " ünïcødé ✓"
				env, err := c.EncryptField(fixedKey, hmacKey, "item-1", f, text)
				require.NoError(t, err)

				parsed, err := Parse(env)
				require.NoError(t, err)
				assert.Equal(t, alg, parsed.Algorithm)
				assert.Len(t, parsed.IV, alg.IVSize())

				got, err := NewCodec().DecryptField(fixedKey, hmacKey, "item-1", f, env)
				require.NoError(t, err)
				assert.Equal(t, text, got)
			}
		}
	}
}

func TestEncrypt_FreshIV(t *testing.T) {
	c := NewCodec()
	e1, err := c.EncryptField(fixedKey, hmacKey, "id", "notes", "same")
	require.NoError(t, err)
	e2, err := c.EncryptField(fixedKey, hmacKey, "id", "notes", "same")
	require.NoError(t, err)
	assert.NotEqual(t, e1, e2)
}

func TestDecrypt_LegacyUntagged(t *testing.T) {
	c := NewCodec()
	env, err := c.EncryptField(fixedKey, hmacKey, "abc123", "password", "s3cr3t!")
	require.NoError(t, err)

	legacy := strings.TrimPrefix(env, "aesgcm:")
	pt, err := c.DecryptField(fixedKey, hmacKey, "abc123", "password", legacy)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t!", pt)
}

func TestDecrypt_Failures(t *testing.T) {
	c := NewCodec()
	env, err := c.EncryptField(fixedKey, hmacKey, "abc123", "password", "s3cr3t!")
	require.NoError(t, err)

	parsed, err := Parse(env)
	require.NoError(t, err)
	parsed.Ciphertext[0] ^= 0x01
	tampered := parsed.String()

	otherKey := bytes.Repeat([]byte{0x43}, crypto.KeySize)

	tests := []struct {
		name string
		key  []byte
		hmac []byte
		env  string
	}{
		{"WrongKey", otherKey, hmacKey, env},
		{"WrongHMACWords", fixedKey, []byte("f g h i x"), env},
		{"Tampered", fixedKey, hmacKey, tampered},
		{"UnknownAlgorithm", fixedKey, hmacKey, "rot13:" + strings.TrimPrefix(env, "aesgcm:")},
		{"BadBase64", fixedKey, hmacKey, "aesgcm:!!!"},
		{"TooShort", fixedKey, hmacKey, "aesgcm:" + base64.StdEncoding.EncodeToString([]byte("short"))},
		{"AlgorithmMismatch", fixedKey, hmacKey, "xchacha20:" + strings.TrimPrefix(env, "aesgcm:")},
		{"Empty", fixedKey, hmacKey, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt, err := c.DecryptField(tt.key, tt.hmac, "abc123", "password", tt.env)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrEnvelopeAuthentication))
			assert.Equal(t, "unable to decrypt field", err.Error())
			assert.Empty(t, pt)
		})
	}
}

func TestEncrypt_InvalidAlgorithm(t *testing.T) {
	c := NewCodec(WithAlgorithm("rot13"))
	_, err := c.EncryptField(fixedKey, hmacKey, "id", "notes", "x")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestEncrypt_ProviderFailure(t *testing.T) {
	c := NewCodec()
	_, err := c.EncryptField(fixedKey[:16], hmacKey, "id", "notes", "x")
	assert.ErrorIs(t, err, errs.ErrCryptoProvider)
}
