package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/wordvault/api"
	"github.com/jmcleod/wordvault/auth"
	"github.com/jmcleod/wordvault/client"
	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/errs"
	"github.com/jmcleod/wordvault/internal/totp"
	bboltstorage "github.com/jmcleod/wordvault/storage/bbolt"
	"github.com/jmcleod/wordvault/storage/memory"
	"github.com/jmcleod/wordvault/vault"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := parseLevel("loud")
	assert.Error(t, err)
}

func TestServerTLSConfig(t *testing.T) {
	cfg, err := serverTLSConfig("", "")
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)

	_, err = serverTLSConfig("cert.pem", "")
	assert.Error(t, err)

	_, err = serverTLSConfig(filepath.Join(t.TempDir(), "missing.pem"), filepath.Join(t.TempDir(), "missing.key"))
	assert.ErrorContains(t, err, "failed to load TLS key pair")
}

func TestServerOptions(t *testing.T) {
	repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(t.TempDir(), "vault.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	logger := slog.New(slog.DiscardHandler)
	t.Cleanup(func() {
		// Clearing the overrides keeps the flag bindings other tests rely on.
		for _, k := range []string{"server.verifier_profile", "server.trusted_proxies", "server.session_key", "server.idle_timeout"} {
			viper.Set(k, nil)
		}
	})

	viper.Set("server.verifier_profile", "extreme")
	_, _, err = serverOptions(logger, repo)
	require.ErrorIs(t, err, errs.ErrValidation)

	viper.Set("server.verifier_profile", crypto.KDFProfileInteractive)
	viper.Set("server.trusted_proxies", []string{"not-a-cidr"})
	_, _, err = serverOptions(logger, repo)
	require.Error(t, err)

	viper.Set("server.trusted_proxies", []string{"10.0.0.0/8"})
	viper.Set("server.session_key", "zz")
	_, _, err = serverOptions(logger, repo)
	require.Error(t, err)

	viper.Set("server.session_key", strings.Repeat("ab", 32))
	viper.Set("server.idle_timeout", time.Minute)
	opts, closeFn, err := serverOptions(logger, repo)
	require.NoError(t, err)
	defer closeFn()
	assert.Len(t, opts, 6)
}

func TestPrompter(t *testing.T) {
	var out bytes.Buffer
	p := newPrompter(strings.NewReader("alice\r\nhunter2\none two  three\nlast"), &out)

	s, err := p.line("Username")
	require.NoError(t, err)
	assert.Equal(t, "alice", s)

	b, err := p.secret("Password")
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), b)

	words, err := p.words()
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, words)

	s, err = p.line("Trailing")
	require.NoError(t, err, "final line without newline")
	assert.Equal(t, "last", s)

	_, err = p.line("Nothing")
	assert.Error(t, err)
	assert.Contains(t, out.String(), "Username: ")
}

func TestPromptFields(t *testing.T) {
	p := newPrompter(strings.NewReader("Groceries\n\n"), &bytes.Buffer{})
	fields, err := promptFields(p, vault.TypeNote)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "Groceries"}, fields)
}

func TestPromptChanges(t *testing.T) {
	p := newPrompter(strings.NewReader("bob\nhunter3\n-\n\n"), &bytes.Buffer{})
	changes, err := promptChanges(p, vault.TypeCredential)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"username": "bob", "password": "hunter3", "url": ""}, changes)
}

func TestWriteItemTable(t *testing.T) {
	var out bytes.Buffer
	writeItemTable(&out, &vault.ItemPage{
		Items:  []vault.Item{{ID: "a1", Name: "Mail", Type: vault.TypeCredential, UpdatedAt: time.Now()}},
		Total:  3,
		Limit:  1,
		Offset: 0,
	})
	assert.Contains(t, out.String(), "Mail")
	assert.Contains(t, out.String(), "use --offset 1")
}

// testAccount registers an account against a fresh in-memory server.
type testAccount struct {
	url     string
	pending *auth.Pending
}

func newTestAccount(t *testing.T) *testAccount {
	t.Helper()
	light := crypto.Argon2idParams{Time: 1, MemoryKiB: 19 * 1024, Parallelism: 1, KeyLen: 32}
	a := api.New(memory.NewRepository(), api.WithVerifierParams(light), api.WithLogger(slog.New(slog.DiscardHandler)))
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := client.New(srv.URL)
	require.NoError(t, err)
	// The CLI logs in with the default KDF parameters, so registration
	// uses them too. Only the server-side verifier is cheapened.
	reg := auth.NewRegistrar(c, memory.NewRepository(), auth.WithLogger(slog.New(slog.DiscardHandler)))
	p, err := reg.Begin(t.Context())
	require.NoError(t, err)
	code, err := totp.CodeAt(p.TOTPSecret, time.Now())
	require.NoError(t, err)
	require.NoError(t, reg.VerifyTOTP(t.Context(), code))
	_, err = reg.Complete(t.Context(), auth.Form{
		Username:        "alice",
		Password:        []byte("pw"),
		ConfirmPassword: []byte("pw"),
	})
	require.NoError(t, err)
	return &testAccount{url: srv.URL, pending: p}
}

func (a *testAccount) loginInput(t *testing.T) string {
	t.Helper()
	code, err := totp.CodeAt(a.pending.TOTPSecret, time.Now())
	require.NoError(t, err)
	return "alice\n" + strings.Join(a.pending.Words, " ") + "\npw\n" + code + "\n"
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return runCLIContext(t.Context(), t, stdin, args...)
}

func runCLIContext(ctx context.Context, t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("log:\n  level: error\n"), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(args, "--config", cfg))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestItemsCommands(t *testing.T) {
	if testing.Short() {
		t.Skip("uses production key-wrapping cost")
	}
	acct := newTestAccount(t)
	state := t.TempDir()
	common := []string{"--server", acct.url, "--state-dir", state}

	out, err := runCLI(t, acct.loginInput(t)+"Groceries\nmilk, eggs\n",
		append([]string{"items", "add", "Shopping", "--type", "note"}, common...)...)
	require.NoError(t, err)
	require.Contains(t, out, "Created ")
	id := strings.TrimSuffix(strings.TrimSpace(out[strings.LastIndex(out, "Created ")+len("Created "):]), ".")

	out, err = runCLI(t, acct.loginInput(t), append([]string{"items", "list", "--sync"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "Shopping")

	out, err = runCLI(t, acct.loginInput(t), append([]string{"items", "show", id}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "milk, eggs")

	out, err = runCLI(t, acct.loginInput(t)+"Errands\n\nmilk, eggs, bread\n",
		append([]string{"items", "edit", id}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Updated "+id)

	out, err = runCLI(t, acct.loginInput(t), append([]string{"items", "show", id}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Errands")
	assert.Contains(t, out, "Groceries", "skipped fields keep their value")
	assert.Contains(t, out, "milk, eggs, bread")

	out, err = runCLI(t, acct.loginInput(t), append([]string{"items", "rm", id}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted "+id)
}

func TestItemsCommands_WrongPassword(t *testing.T) {
	acct := newTestAccount(t)
	input := "alice\n" + strings.Join(acct.pending.Words, " ") + "\nwrong\n"
	_, err := runCLI(t, input, "items", "list", "--server", acct.url, "--state-dir", t.TempDir())
	require.ErrorIs(t, err, auth.ErrAuthenticationFailed)
}

func TestRootCmd_FreshContextPerRun(t *testing.T) {
	acct := newTestAccount(t)
	input := "alice\n" + strings.Join(acct.pending.Words, " ") + "\nwrong\n"
	args := []string{"items", "list", "--server", acct.url, "--state-dir", t.TempDir()}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := runCLIContext(ctx, t, input, args...)
	require.Error(t, err)

	// A later run must not inherit the cancelled context.
	_, err = runCLI(t, input, args...)
	require.ErrorIs(t, err, auth.ErrAuthenticationFailed)
}
