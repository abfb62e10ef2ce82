package auth

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/wordvault/api"
	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/errs"
	"github.com/jmcleod/wordvault/internal/uuid"
	"github.com/jmcleod/wordvault/key"
	"github.com/jmcleod/wordvault/storage/memory"
)

type fakeRegistration struct {
	words    []string
	uuid     string
	verified []string
	register *api.RegisterRequest
	err      error
}

func (f *fakeRegistration) InitRegistration(context.Context) (*api.RegistrationBundle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &api.RegistrationBundle{
		UUID:       f.uuid,
		Words:      f.words,
		TOTPSecret: "JBSWY3DPEHPK3PXP",
		OTPAuthURL: "otpauth://totp/WordVault:" + f.uuid,
		ExpiresAt:  "2030-01-01T00:00:00Z",
	}, nil
}

func (f *fakeRegistration) VerifyTOTP(_ context.Context, _ string, code string) error {
	f.verified = append(f.verified, code)
	return f.err
}

func (f *fakeRegistration) Register(_ context.Context, req *api.RegisterRequest) error {
	cp := *req
	cp.AuthHash = append([]byte(nil), req.AuthHash...)
	cp.LoginVerifier = append([]byte(nil), req.LoginVerifier...)
	f.register = &cp
	return f.err
}

func newFakeRegistration(t *testing.T) *fakeRegistration {
	t.Helper()
	words, err := crypto.GenerateSecretWords()
	require.NoError(t, err)
	return &fakeRegistration{words: words.Words(), uuid: uuid.New()}
}

func validForm() Form {
	return Form{
		Username:        "alice",
		Password:        []byte("pw"),
		ConfirmPassword: []byte("pw"),
		Email:           "alice@example.com",
	}
}

func TestForm_Validate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Form)
		field string
	}{
		{"empty username", func(f *Form) { f.Username = " " }, "username"},
		{"empty password", func(f *Form) { f.Password = nil; f.ConfirmPassword = nil }, "password"},
		{"mismatch", func(f *Form) { f.ConfirmPassword = []byte("other") }, "confirm_password"},
		{"bad algorithm", func(f *Form) { f.Algorithm = "rot13" }, "algorithm"},
		{"bad email", func(f *Form) { f.Email = "nope" }, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validForm()
			tt.edit(&f)
			err := f.Validate()
			var ve *errs.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	f := validForm()
	require.NoError(t, f.Validate())
	assert.Equal(t, crypto.AESGCM, f.Algorithm, "empty algorithm defaults to aesgcm")
}

func TestRegistrar_Flow(t *testing.T) {
	tr := newFakeRegistration(t)
	repo := memory.NewRepository()
	r := NewRegistrar(tr, repo, testOptions()...)

	_, err := r.Pending()
	require.ErrorIs(t, err, ErrNoRegistration)

	p, err := r.Begin(t.Context())
	require.NoError(t, err)
	assert.Equal(t, tr.uuid, p.UUID)
	assert.Equal(t, tr.words, p.Words)
	assert.Equal(t, 2030, p.ExpiresAt.Year())

	// A second Registrar over the same store sees the pending bundle.
	r2 := NewRegistrar(tr, repo, testOptions()...)
	loaded, err := r2.Pending()
	require.NoError(t, err)
	assert.Equal(t, p.UUID, loaded.UUID)
	assert.False(t, loaded.Verified)

	_, err = r2.Complete(t.Context(), validForm())
	require.ErrorIs(t, err, errs.ErrProtocolState, "code must be verified first")

	require.ErrorIs(t, r2.VerifyTOTP(t.Context(), "12"), errs.ErrValidation)
	require.NoError(t, r2.VerifyTOTP(t.Context(), "123 456"))
	assert.Equal(t, []string{"123456"}, tr.verified)

	form := validForm()
	form.Algorithm = crypto.XChaCha20
	password := form.Password
	id, err := r2.Complete(t.Context(), form)
	require.NoError(t, err)
	assert.Equal(t, tr.uuid, id)
	assert.Equal(t, []byte{0, 0}, password, "password wiped")

	req := tr.register
	require.NotNil(t, req)
	assert.Equal(t, crypto.XChaCha20, req.Algorithm)
	assert.Equal(t, "alice@example.com", req.Email)
	assert.Len(t, req.UsernameHash, 64)
	assert.Len(t, req.WrappedKey, key.WrappedSize)
	assert.Len(t, req.AuthHash, 32)
	assert.Len(t, req.LoginVerifier, 32)

	words, err := crypto.NewSecretWords(tr.words)
	require.NoError(t, err)
	assert.True(t, key.VerifyTag(words.HMACKey(), req.WrappedKey, req.HMACWrappedKey))

	salt, err := key.Salt(id)
	require.NoError(t, err)
	content, err := key.UnwrapContentKey(req.WrappedKey, []byte("pw"), salt, key.WithKDF(fastWrapKDF))
	require.NoError(t, err)
	content.Destroy()

	_, err = r2.Pending()
	assert.ErrorIs(t, err, ErrNoRegistration, "pending bundle cleared on success")
}

func TestRegistrar_ValidationBeforeAnything(t *testing.T) {
	tr := newFakeRegistration(t)
	r := NewRegistrar(tr, memory.NewRepository(), testOptions()...)

	form := validForm()
	form.ConfirmPassword = []byte("typo")
	_, err := r.Complete(t.Context(), form)
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Nil(t, tr.register)
}

func TestRegistrar_ServerFailureKeepsPending(t *testing.T) {
	tr := newFakeRegistration(t)
	r := NewRegistrar(tr, memory.NewRepository(), testOptions()...)
	_, err := r.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, r.VerifyTOTP(t.Context(), "123456"))

	tr.err = fmt.Errorf("%w: reset by peer", errs.ErrTransport)
	_, err = r.Complete(t.Context(), validForm())
	require.ErrorIs(t, err, errs.ErrTransport)

	p, err := r.Pending()
	require.NoError(t, err)
	assert.True(t, p.Verified)

	require.NoError(t, r.Cancel())
	require.NoError(t, r.Cancel())
	_, err = r.Pending()
	assert.ErrorIs(t, err, ErrNoRegistration)
}

func TestRegistrar_BeginRejectsBadWords(t *testing.T) {
	tr := newFakeRegistration(t)
	tr.words = tr.words[:3]
	r := NewRegistrar(tr, memory.NewRepository(), testOptions()...)
	_, err := r.Begin(t.Context())
	require.ErrorIs(t, err, errs.ErrValidation)
}
