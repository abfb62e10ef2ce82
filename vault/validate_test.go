package vault

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/wordvault/envelope"
	"github.com/jmcleod/wordvault/errs"
)

func TestValidateID(t *testing.T) {
	t.Run("valid IDs", func(t *testing.T) {
		assert.NoError(t, validateID("abc"))
		assert.NoError(t, validateID("item-123"))
		assert.NoError(t, validateID("11111111-1111-1111-1111-111111111111"))
	})

	t.Run("empty", func(t *testing.T) {
		err := validateID("")
		assert.ErrorIs(t, err, errs.ErrValidation)
		assert.Contains(t, err.Error(), "must not be empty")
	})

	t.Run("too long", func(t *testing.T) {
		err := validateID(strings.Repeat("a", MaxIDLength+1))
		assert.Contains(t, err.Error(), "exceeds maximum length")
	})

	t.Run("contains slash", func(t *testing.T) {
		err := validateID("foo/bar")
		assert.Contains(t, err.Error(), "forbidden character")
	})

	t.Run("contains control char", func(t *testing.T) {
		err := validateID("foo\x00bar")
		assert.Contains(t, err.Error(), "control character")
	})
}

func TestItemType(t *testing.T) {
	assert.True(t, TypeCard.Allows("cvv"))
	assert.False(t, TypeNote.Allows("cvv"))
	assert.Equal(t, []string{"title", "content"}, TypeNote.Fields())

	typ, err := ParseItemType("credential")
	require.NoError(t, err)
	assert.Equal(t, TypeCredential, typ)

	_, err = ParseItemType("wallet")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestItemValidate(t *testing.T) {
	codec := envelope.NewCodec()
	key := make([]byte, 32)
	env, err := codec.EncryptField(key, []byte("k"), "id-1", "title", "x")
	require.NoError(t, err)

	valid := Item{ID: "id-1", Name: "n", Type: TypeNote, CreatedAt: time.Now(), UpdatedAt: time.Now(), Fields: map[string]string{"title": env}}
	assert.NoError(t, valid.Validate())

	bad := valid.Clone()
	bad.Fields["title"] = "plaintext!"
	assert.ErrorIs(t, bad.Validate(), errs.ErrValidation)

	bad = valid.Clone()
	bad.Fields["cvv"] = env
	assert.ErrorIs(t, bad.Validate(), errs.ErrValidation)

	bad = valid.Clone()
	bad.Type = "wallet"
	assert.ErrorIs(t, bad.Validate(), errs.ErrValidation)
}
