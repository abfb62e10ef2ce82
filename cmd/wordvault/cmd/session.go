package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmcleod/wordvault/auth"
	"github.com/jmcleod/wordvault/client"
	"github.com/jmcleod/wordvault/custody"
	bboltstorage "github.com/jmcleod/wordvault/storage/bbolt"
	"github.com/jmcleod/wordvault/vault"
)

const maxCodeAttempts = 3

// clientEnv is what every client-side command needs: a transport and the
// local state database.
type clientEnv struct {
	client *client.Client
	repo   *bboltstorage.Store
	logger *slog.Logger
	prompt *prompter
}

func openClientEnv(cmd *cobra.Command) (*clientEnv, error) {
	level, err := parseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	hc := &http.Client{}
	if viper.GetBool("client.insecure_skip_verify") {
		hc.Transport = &http.Transport{TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
		}}
	}
	c, err := client.New(viper.GetString("client.server"),
		client.WithHTTPClient(hc),
		client.WithUserAgent("wordvault-cli/"+Version),
	)
	if err != nil {
		return nil, err
	}

	dir := viper.GetString("client.state_dir")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		dir = filepath.Join(home, ".wordvault")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dir, "client.db"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open local state: %w", err)
	}
	return &clientEnv{
		client: c,
		repo:   repo,
		logger: logger,
		prompt: newPrompter(cmd.InOrStdin(), cmd.OutOrStdout()),
	}, nil
}

func (e *clientEnv) Close() error {
	return e.repo.Close()
}

// cliSession is an authenticated login with its vault loaded.
type cliSession struct {
	env     *clientEnv
	machine *auth.Machine
	session *auth.Session
	vault   *vault.Service
}

// withSession logs in interactively, runs fn and logs out. Custody is
// cleared on every path out.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *cliSession) error) error {
	ctx := cmd.Context()
	env, err := openClientEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	store := custody.New()
	m := auth.NewMachine(env.client, store, auth.WithLogger(env.logger))
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Logout(logoutCtx); err != nil {
			env.logger.Warn("logout failed", "error", err)
		}
	}()

	if err := interactiveLogin(ctx, env.prompt, m); err != nil {
		return err
	}
	sess, err := m.Session()
	if err != nil {
		return err
	}
	svc := vault.New(store, env.repo, env.client, vault.WithLogger(env.logger))
	if err := svc.Load(ctx, sess.Account(), sess.Items); err != nil {
		return err
	}
	defer svc.Unload()

	return fn(ctx, &cliSession{env: env, machine: m, session: sess, vault: svc})
}

// interactiveLogin walks the four steps. A rejected code asks for the
// password again, up to maxCodeAttempts times.
func interactiveLogin(ctx context.Context, p *prompter, m *auth.Machine) error {
	username, err := p.line("Username")
	if err != nil {
		return err
	}
	if err := m.SubmitUsername(ctx, username); err != nil {
		return err
	}
	words, err := p.words()
	if err != nil {
		return err
	}
	if err := m.SubmitSecretWords(ctx, words); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		password, err := p.secret("Password")
		if err != nil {
			return err
		}
		if err := m.SubmitPassword(ctx, password); err != nil {
			return err
		}
		code, err := p.line("One-time code")
		if err != nil {
			return err
		}
		err = m.SubmitCode(ctx, code)
		if err == nil {
			return nil
		}
		if !errors.Is(err, auth.ErrAuthenticationFailed) || attempt >= maxCodeAttempts {
			return err
		}
		fmt.Fprintln(p.out, "Code rejected, try again.")
	}
}

// addClientFlags registers the connection flags shared by client commands.
func addClientFlags(root *cobra.Command) {
	root.PersistentFlags().String("server", "https://localhost:8443", "server base URL")
	root.PersistentFlags().Bool("insecure-skip-verify", false, "skip TLS certificate verification (self-signed servers)")
	root.PersistentFlags().String("state-dir", "", "local state directory (default is $HOME/.wordvault)")

	bindFlag(root, "client.server", "server")
	bindFlag(root, "client.insecure_skip_verify", "insecure-skip-verify")
	bindFlag(root, "client.state_dir", "state-dir")
}
