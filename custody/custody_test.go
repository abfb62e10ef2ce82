package custody

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/wordvault/errs"
)

func TestInstallGetClear(t *testing.T) {
	s := New()
	assert.False(t, s.Installed())

	_, err := s.Get()
	require.ErrorIs(t, err, ErrAbsent)
	require.ErrorIs(t, err, errs.ErrProtocolState)

	content := bytes.Repeat([]byte{1}, 32)
	signing := bytes.Repeat([]byte{2}, 32)
	require.NoError(t, s.Install(content, signing))
	assert.True(t, s.Installed())
	assert.Equal(t, make([]byte, 32), content, "caller slice should be wiped")
	assert.Equal(t, make([]byte, 32), signing, "caller slice should be wiped")

	keys, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{1}, 32), keys.ContentKey())
	assert.Equal(t, bytes.Repeat([]byte{2}, 32), keys.SigningKey())
	keys.Destroy()

	// Keys stay available across Get calls.
	keys, err = s.Get()
	require.NoError(t, err)
	keys.Destroy()

	s.Clear()
	assert.False(t, s.Installed())
	_, err = s.Get()
	assert.True(t, errors.Is(err, errs.ErrProtocolState))

	s.Clear()
}

func TestInstallTwice(t *testing.T) {
	s := New()
	require.NoError(t, s.Install([]byte{1, 2, 3}, []byte{4, 5, 6}))

	err := s.Install([]byte{7}, []byte{8})
	require.ErrorIs(t, err, errs.ErrProtocolState)

	keys, err := s.Get()
	require.NoError(t, err)
	defer keys.Destroy()
	assert.Equal(t, []byte{1, 2, 3}, keys.ContentKey())

	s.Clear()
	require.NoError(t, s.Install([]byte{7}, []byte{8}))
}

func TestInstallEmpty(t *testing.T) {
	s := New()
	err := s.Install(nil, []byte{1})
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.False(t, s.Installed())
}
