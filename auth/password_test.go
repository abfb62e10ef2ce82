package auth

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/wordvault/api"
	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/custody"
	"github.com/jmcleod/wordvault/errs"
	"github.com/jmcleod/wordvault/key"
)

// rotatingTransport records a copy of the rotation request as it arrived
// (got) and the request itself (sent), whose buffers the caller may wipe.
type rotatingTransport struct {
	*fakeTransport
	got  *api.PasswordChangeRequest
	sent *api.PasswordChangeRequest
	err  error
}

func (r *rotatingTransport) RotatePassword(_ context.Context, req *api.PasswordChangeRequest) error {
	cp := *req
	cp.AuthHash = bytes.Clone(req.AuthHash)
	cp.NewWrappedKey = bytes.Clone(req.NewWrappedKey)
	cp.NewHMACWrappedKey = bytes.Clone(req.NewHMACWrappedKey)
	cp.NewAuthHash = bytes.Clone(req.NewAuthHash)
	cp.NewLoginVerifier = bytes.Clone(req.NewLoginVerifier)
	r.got = &cp
	r.sent = req
	return r.err
}

func loggedIn(t *testing.T, f *fixture, tr Transport) *Machine {
	t.Helper()
	m := NewMachine(tr, custody.New(), testOptions()...)
	toPassword(t, m, f)
	require.NoError(t, m.SubmitPassword(t.Context(), []byte(f.password)))
	require.NoError(t, m.SubmitCode(t.Context(), "123456"))
	return m
}

func TestMachine_ChangePassword(t *testing.T) {
	f := newFixture(t)
	tr := &rotatingTransport{fakeTransport: &fakeTransport{wantProof: f.proof, wantCode: "123456", response: f.response}}
	m := loggedIn(t, f, tr)

	newPw := []byte("battery staple")
	require.NoError(t, m.ChangePassword(t.Context(), f.words.Words(), []byte(f.password), newPw))
	assert.Equal(t, make([]byte, len("battery staple")), newPw, "password wiped")

	req := tr.got
	require.NotNil(t, req)
	assert.Equal(t, f.uuid, req.UUID)
	assert.Len(t, req.NewWrappedKey, key.WrappedSize)
	assert.True(t, key.VerifyTag(f.words.HMACKey(), req.NewWrappedKey, req.NewHMACWrappedKey))
	require.NotEmpty(t, req.AuthHash)
	require.NotEmpty(t, req.NewAuthHash)
	assert.NotEqual(t, req.AuthHash, req.NewAuthHash)
	require.NotEmpty(t, req.NewLoginVerifier)
	assert.NotEqual(t, f.proof, req.NewLoginVerifier, "verifier derived from the new password")

	sent := tr.sent
	assert.Equal(t, make([]byte, len(req.AuthHash)), sent.AuthHash, "old auth hash wiped")
	assert.Equal(t, make([]byte, len(req.NewAuthHash)), sent.NewAuthHash, "new auth hash wiped")
	assert.Equal(t, make([]byte, len(req.NewLoginVerifier)), sent.NewLoginVerifier, "verifier wiped")

	salt, err := key.Salt(f.uuid)
	require.NoError(t, err)
	content, err := key.UnwrapContentKey(req.NewWrappedKey, []byte("battery staple"), salt, key.WithKDF(fastWrapKDF))
	require.NoError(t, err)
	assert.Equal(t, f.contentKey, content.Bytes())
	content.Destroy()

	sess, err := m.Session()
	require.NoError(t, err)
	assert.Equal(t, req.NewWrappedKey, sess.WrappedKey)
}

func TestMachine_ChangePasswordRejects(t *testing.T) {
	f := newFixture(t)
	tr := &rotatingTransport{fakeTransport: &fakeTransport{wantProof: f.proof, wantCode: "123456", response: f.response}}
	m := loggedIn(t, f, tr)

	other, err := crypto.GenerateSecretWords()
	require.NoError(t, err)
	err = m.ChangePassword(t.Context(), other.Words(), []byte(f.password), []byte("new"))
	require.ErrorIs(t, err, errs.ErrValidation)

	err = m.ChangePassword(t.Context(), f.words.Words(), []byte("wrong"), []byte("new"))
	require.ErrorIs(t, err, errs.ErrKeyUnwrap)

	err = m.ChangePassword(t.Context(), f.words.Words(), []byte(f.password), nil)
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Nil(t, tr.got, "nothing sent")
	assert.Equal(t, Authenticated, m.State())

	tr.err = errRejected
	err = m.ChangePassword(t.Context(), f.words.Words(), []byte(f.password), []byte("new"))
	require.ErrorIs(t, err, errRejected)
	sess, err := m.Session()
	require.NoError(t, err)
	assert.Equal(t, f.response[:key.WrappedSize], sess.WrappedKey, "wrapped key kept on failure")
}

func TestMachine_ChangePasswordNeedsSession(t *testing.T) {
	f := newFixture(t)
	m, _, _ := newMachine(t, f)
	err := m.ChangePassword(t.Context(), f.words.Words(), []byte("a"), []byte("b"))
	require.ErrorIs(t, err, errs.ErrProtocolState)

	// The plain fake cannot rotate.
	m2 := loggedIn(t, f, &fakeTransport{wantProof: f.proof, wantCode: "123456", response: f.response})
	err = m2.ChangePassword(t.Context(), f.words.Words(), []byte(f.password), []byte("b"))
	require.ErrorIs(t, err, errs.ErrProtocolState)
}
