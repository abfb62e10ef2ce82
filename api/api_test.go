package api_test

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/wordvault/api"
	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/envelope"
	icrypto "github.com/jmcleod/wordvault/internal/crypto"
	"github.com/jmcleod/wordvault/internal/totp"
	"github.com/jmcleod/wordvault/internal/uuid"
	"github.com/jmcleod/wordvault/key"
	"github.com/jmcleod/wordvault/storage/memory"
	"github.com/jmcleod/wordvault/vault"
)

var (
	testProvider = crypto.Default()
	testWrapKDF  = crypto.PBKDF2{Iterations: 1000, KeyLen: crypto.KeySize}
	testProofKDF = crypto.Argon2id{Params: testArgon}
	testArgon    = crypto.Argon2idParams{Time: 1, MemoryKiB: 19 * 1024, Parallelism: 1, KeyLen: 32}
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	a := api.New(memory.NewRepository(),
		api.WithVerifierParams(testArgon),
		api.WithLogger(slog.New(slog.DiscardHandler)),
	)
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, mac string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	return doRaw(t, client, method, url, "application/json", buf.Bytes(), mac)
}

func doRaw(t *testing.T, client *http.Client, method, url, contentType string, body []byte, mac string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	if mac != "" {
		req.Header.Set(api.RequestMACHeader, mac)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return b
}

// user is the client half of the protocol, computed by hand.
type user struct {
	username     string
	password     string
	uuid         string
	words        crypto.SecretWords
	totpSecret   string
	usernameHash []byte
	requestKey   []byte
}

func (u *user) proof(t *testing.T) []byte {
	t.Helper()
	salt, err := icrypto.LoginSalt(testProvider, u.words.AuthKey(), u.usernameHash)
	require.NoError(t, err)
	pk, err := icrypto.ProofKey(testProvider, testProofKDF, []byte(u.password), salt)
	require.NoError(t, err)
	return pk
}

func (u *user) sign(t *testing.T, body any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	mac, err := icrypto.RequestMAC(testProvider, u.requestKey, raw)
	require.NoError(t, err)
	return raw, mac
}

func register(t *testing.T, client *http.Client, baseURL, username, password string) *user {
	t.Helper()

	resp := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/register/init", nil, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var bundle api.RegistrationBundle
	require.NoError(t, json.Unmarshal(readBody(t, resp), &bundle))
	require.Len(t, bundle.Words, crypto.SecretWordCount)
	assert.Contains(t, bundle.OTPAuthURL, "otpauth://totp/")

	words, err := crypto.NewSecretWords(bundle.Words)
	require.NoError(t, err)
	u := &user{username: username, password: password, uuid: bundle.UUID, words: words, totpSecret: bundle.TOTPSecret}
	u.usernameHash, err = icrypto.UsernameHash(testProvider, username)
	require.NoError(t, err)
	u.requestKey, err = icrypto.RequestKey(testProvider, words.HMACKey())
	require.NoError(t, err)

	code, err := totp.CodeAt(u.totpSecret, time.Now())
	require.NoError(t, err)
	resp = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/register/verify-totp",
		api.VerifyTOTPRequest{UUID: u.uuid, Code: code}, "")
	readBody(t, resp)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	wrapped, err := key.WrapNewContentKey([]byte(password), u.uuid, words.HMACKey(), key.WithKDF(testWrapKDF))
	require.NoError(t, err)
	defer wrapped.ContentKey.Destroy()
	authHash, err := key.AuthHash([]byte(password), words.AuthKey(), u.uuid, key.WithKDF(testWrapKDF))
	require.NoError(t, err)

	resp = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/register", api.RegisterRequest{
		UUID:           u.uuid,
		UsernameHash:   u.usernameHash,
		WrappedKey:     wrapped.WrappedKeyWithIV,
		HMACWrappedKey: wrapped.HMACTag,
		AuthHash:       authHash,
		LoginVerifier:  u.proof(t),
		Algorithm:      crypto.AESGCM,
	}, "")
	body := readBody(t, resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var out api.RegisterResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, u.uuid, out.UUID)
	return u
}

// login runs both phases and returns the step-4 payload.
func login(t *testing.T, client *http.Client, baseURL string, u *user) []byte {
	t.Helper()
	resp := doRaw(t, client, http.MethodPost, baseURL+"/api/v1/login", "application/octet-stream",
		append(bytes.Clone(u.usernameHash), u.proof(t)...), "")
	readBody(t, resp)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	code, err := totp.CodeAt(u.totpSecret, time.Now())
	require.NoError(t, err)
	wire, err := totp.EncodeWire(code)
	require.NoError(t, err)
	resp = doRaw(t, client, http.MethodPost, baseURL+"/api/v1/login", "application/octet-stream", wire, "")
	payload := readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(payload))
	return payload
}

func TestRegisterLoginAndItems(t *testing.T) {
	srv := setupServer(t)
	client := newClient(t)
	u := register(t, client, srv.URL, "alice@example.com", "correct horse")

	payload := login(t, client, srv.URL, u)
	require.Greater(t, len(payload), key.WrappedSize+16)

	wrappedKey := payload[:key.WrappedSize]
	rawID := payload[key.WrappedSize : key.WrappedSize+16]
	var snap vault.Snapshot
	require.NoError(t, json.Unmarshal(payload[key.WrappedSize+16:], &snap))
	assert.Equal(t, crypto.AESGCM, snap.Algorithm)
	assert.Empty(t, snap.Items)

	id, err := uuid.FromBytes(rawID)
	require.NoError(t, err)
	assert.Equal(t, u.uuid, id)
	salt := []byte(hex.EncodeToString(rawID))
	content, err := key.UnwrapContentKey(wrappedKey, []byte(u.password), salt, key.WithKDF(testWrapKDF))
	require.NoError(t, err)
	defer content.Destroy()

	codec := envelope.NewCodec()
	env, err := codec.EncryptField(content.Bytes(), u.words.HMACKey(), "item-1", "password", "hunter2")
	require.NoError(t, err)
	item := vault.Item{
		ID:        "item-1",
		Name:      "Mail",
		Type:      vault.TypeCredential,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Fields:    map[string]string{"password": env},
	}
	mutation := api.ItemMutationRequest{UUID: u.uuid, UsernameHash: u.usernameHash, Item: item}

	t.Run("create", func(t *testing.T) {
		raw, mac := u.sign(t, mutation)
		resp := doRaw(t, client, http.MethodPost, srv.URL+"/api/v1/vault/items", "application/json", raw, mac)
		readBody(t, resp)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = doRaw(t, client, http.MethodPost, srv.URL+"/api/v1/vault/items", "application/json", raw, mac)
		readBody(t, resp)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("bad signature", func(t *testing.T) {
		raw, _ := u.sign(t, mutation)
		resp := doRaw(t, client, http.MethodPost, srv.URL+"/api/v1/vault/items", "application/json", raw, "AAAA")
		readBody(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = doRaw(t, client, http.MethodPost, srv.URL+"/api/v1/vault/items", "application/json", raw, "")
		readBody(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("list and decrypt", func(t *testing.T) {
		resp := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/vault/items?limit=10", nil, "")
		body := readBody(t, resp)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var list api.ListItemsResponse
		require.NoError(t, json.Unmarshal(body, &list))
		require.Len(t, list.Items, 1)
		assert.Equal(t, 1, list.Pagination.TotalCount)
		assert.False(t, list.Pagination.HasMore)

		got, err := codec.DecryptField(content.Bytes(), u.words.HMACKey(), "item-1", "password", list.Items[0].Fields["password"])
		require.NoError(t, err)
		assert.Equal(t, "hunter2", got)
	})

	t.Run("update", func(t *testing.T) {
		updated := mutation
		updated.Item.Name = "Work mail"
		raw, mac := u.sign(t, updated)
		resp := doRaw(t, client, http.MethodPut, srv.URL+"/api/v1/vault/items/item-1", "application/json", raw, mac)
		readBody(t, resp)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = doRaw(t, client, http.MethodPut, srv.URL+"/api/v1/vault/items/other", "application/json", raw, mac)
		readBody(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("login snapshot carries items", func(t *testing.T) {
		payload := login(t, newClient(t), srv.URL, u)
		var snap vault.Snapshot
		require.NoError(t, json.Unmarshal(payload[key.WrappedSize+16:], &snap))
		require.Len(t, snap.Items, 1)
		assert.Equal(t, "Work mail", snap.Items[0].Name)
	})

	t.Run("delete", func(t *testing.T) {
		raw, mac := u.sign(t, mutation)
		resp := doRaw(t, client, http.MethodDelete, srv.URL+"/api/v1/vault/items/item-1", "application/json", raw, mac)
		readBody(t, resp)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doRaw(t, client, http.MethodDelete, srv.URL+"/api/v1/vault/items/item-1", "application/json", raw, mac)
		readBody(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("logout", func(t *testing.T) {
		resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/logout", nil, "")
		readBody(t, resp)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/vault/items", nil, "")
		readBody(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestRegisterRejects(t *testing.T) {
	srv := setupServer(t)
	client := newClient(t)

	t.Run("unverified code", func(t *testing.T) {
		resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/register/init", nil, "")
		var bundle api.RegistrationBundle
		require.NoError(t, json.Unmarshal(readBody(t, resp), &bundle))

		resp = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/register/verify-totp",
			api.VerifyTOTPRequest{UUID: bundle.UUID, Code: "000000"}, "")
		readBody(t, resp)
		// A random secret collides with 000000 about once in a million runs.
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/register", api.RegisterRequest{
			UUID:           bundle.UUID,
			UsernameHash:   make([]byte, icrypto.UsernameHashSize),
			WrappedKey:     make([]byte, key.WrappedSize),
			HMACWrappedKey: make([]byte, key.TagSize),
			AuthHash:       make([]byte, crypto.KeySize),
			LoginVerifier:  make([]byte, icrypto.ProofKeySize),
			Algorithm:      crypto.AESGCM,
		}, "")
		readBody(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unknown registration", func(t *testing.T) {
		resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/register/verify-totp",
			api.VerifyTOTPRequest{UUID: uuid.New(), Code: "123456"}, "")
		readBody(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("malformed sizes", func(t *testing.T) {
		resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/register", api.RegisterRequest{
			UUID:         uuid.New(),
			UsernameHash: []byte("short"),
			Algorithm:    crypto.AESGCM,
		}, "")
		readBody(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("duplicate username", func(t *testing.T) {
		register(t, client, srv.URL, "bob", "pw-one")

		resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/register/init", nil, "")
		var bundle api.RegistrationBundle
		require.NoError(t, json.Unmarshal(readBody(t, resp), &bundle))
		code, err := totp.CodeAt(bundle.TOTPSecret, time.Now())
		require.NoError(t, err)
		resp = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/register/verify-totp",
			api.VerifyTOTPRequest{UUID: bundle.UUID, Code: code}, "")
		readBody(t, resp)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		words, err := crypto.NewSecretWords(bundle.Words)
		require.NoError(t, err)
		wrapped, err := key.WrapNewContentKey([]byte("pw-two"), bundle.UUID, words.HMACKey(), key.WithKDF(testWrapKDF))
		require.NoError(t, err)
		defer wrapped.ContentKey.Destroy()
		uh, err := icrypto.UsernameHash(testProvider, "bob")
		require.NoError(t, err)

		resp = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/register", api.RegisterRequest{
			UUID:           bundle.UUID,
			UsernameHash:   uh,
			WrappedKey:     wrapped.WrappedKeyWithIV,
			HMACWrappedKey: wrapped.HMACTag,
			AuthHash:       make([]byte, crypto.KeySize),
			LoginVerifier:  make([]byte, icrypto.ProofKeySize),
			Algorithm:      crypto.AESGCM,
		}, "")
		readBody(t, resp)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("tag from other words", func(t *testing.T) {
		resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/register/init", nil, "")
		var bundle api.RegistrationBundle
		require.NoError(t, json.Unmarshal(readBody(t, resp), &bundle))
		code, err := totp.CodeAt(bundle.TOTPSecret, time.Now())
		require.NoError(t, err)
		resp = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/register/verify-totp",
			api.VerifyTOTPRequest{UUID: bundle.UUID, Code: code}, "")
		readBody(t, resp)

		other, err := crypto.GenerateSecretWords()
		require.NoError(t, err)
		wrapped, err := key.WrapNewContentKey([]byte("pw"), bundle.UUID, other.HMACKey(), key.WithKDF(testWrapKDF))
		require.NoError(t, err)
		defer wrapped.ContentKey.Destroy()

		resp = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/register", api.RegisterRequest{
			UUID:           bundle.UUID,
			UsernameHash:   make([]byte, icrypto.UsernameHashSize),
			WrappedKey:     wrapped.WrappedKeyWithIV,
			HMACWrappedKey: wrapped.HMACTag,
			AuthHash:       make([]byte, crypto.KeySize),
			LoginVerifier:  make([]byte, icrypto.ProofKeySize),
			Algorithm:      crypto.AESGCM,
		}, "")
		readBody(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestLoginRejects(t *testing.T) {
	srv := setupServer(t)
	client := newClient(t)
	u := register(t, client, srv.URL, "carol", "s3cret")
	loginURL := srv.URL + "/api/v1/login"

	t.Run("wrong password", func(t *testing.T) {
		wrong := *u
		wrong.password = "not it"
		resp := doRaw(t, newClient(t), http.MethodPost, loginURL, "application/octet-stream",
			append(bytes.Clone(u.usernameHash), wrong.proof(t)...), "")
		readBody(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown user", func(t *testing.T) {
		body := make([]byte, api.LoginProofSize)
		body[0] = 0xff
		resp := doRaw(t, newClient(t), http.MethodPost, loginURL, "application/octet-stream", body, "")
		readBody(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("code without proof", func(t *testing.T) {
		resp := doRaw(t, newClient(t), http.MethodPost, loginURL, "application/octet-stream", []byte{0, 0, 0, 1}, "")
		readBody(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("bad length", func(t *testing.T) {
		resp := doRaw(t, newClient(t), http.MethodPost, loginURL, "application/octet-stream", make([]byte, 5), "")
		readBody(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("items need session", func(t *testing.T) {
		resp := doJSON(t, newClient(t), http.MethodGet, srv.URL+"/api/v1/vault/items", nil, "")
		readBody(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestChangePassword(t *testing.T) {
	srv := setupServer(t)
	client := newClient(t)
	u := register(t, client, srv.URL, "dave", "old-password")
	payload := login(t, client, srv.URL, u)

	oldAuth, err := key.AuthHash([]byte(u.password), u.words.AuthKey(), u.uuid, key.WithKDF(testWrapKDF))
	require.NoError(t, err)
	rewrapped, err := key.Rewrap(payload[:key.WrappedSize], []byte(u.password), []byte("new-password"),
		u.uuid, u.words.HMACKey(), key.WithKDF(testWrapKDF))
	require.NoError(t, err)
	defer rewrapped.ContentKey.Destroy()
	newAuth, err := key.AuthHash([]byte("new-password"), u.words.AuthKey(), u.uuid, key.WithKDF(testWrapKDF))
	require.NoError(t, err)

	next := *u
	next.password = "new-password"
	req := api.PasswordChangeRequest{
		UUID:              u.uuid,
		UsernameHash:      u.usernameHash,
		AuthHash:          newAuth,
		NewWrappedKey:     rewrapped.WrappedKeyWithIV,
		NewHMACWrappedKey: rewrapped.HMACTag,
		NewAuthHash:       newAuth,
		NewLoginVerifier:  next.proof(t),
	}

	raw, mac := u.sign(t, req)
	resp := doRaw(t, client, http.MethodPost, srv.URL+"/api/v1/account/password", "application/json", raw, mac)
	readBody(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "wrong current auth hash")

	req.AuthHash = oldAuth
	raw, mac = u.sign(t, req)
	resp = doRaw(t, client, http.MethodPost, srv.URL+"/api/v1/account/password", "application/json", raw, mac)
	readBody(t, resp)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRaw(t, newClient(t), http.MethodPost, srv.URL+"/api/v1/login", "application/octet-stream",
		append(bytes.Clone(u.usernameHash), u.proof(t)...), "")
	readBody(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "old password no longer logs in")

	payload = login(t, newClient(t), srv.URL, &next)
	content, err := key.UnwrapContentKey(payload[:key.WrappedSize], []byte("new-password"),
		[]byte(hex.EncodeToString(payload[key.WrappedSize:key.WrappedSize+16])), key.WithKDF(testWrapKDF))
	require.NoError(t, err)
	defer content.Destroy()
	assert.Equal(t, rewrapped.ContentKey.Bytes(), content.Bytes())
}
