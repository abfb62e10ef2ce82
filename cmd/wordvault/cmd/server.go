package cmd

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmcleod/wordvault/api"
	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/internal/util"
	bboltstorage "github.com/jmcleod/wordvault/storage/bbolt"
)

func newServerCmd() *cobra.Command {
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the reference vault server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			dataDir := viper.GetString("server.data_dir")
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}

			repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dataDir, "vault.db"), nil)
			if err != nil {
				return fmt.Errorf("failed to open vault storage: %w", err)
			}
			defer repo.Close()

			opts, closeSessions, err := serverOptions(logger, repo)
			if err != nil {
				return err
			}
			defer closeSessions()
			a := api.New(repo, opts...)

			r := chi.NewRouter()
			r.Use(middleware.Logger)
			r.Use(middleware.Recoverer)
			r.Use(api.SecurityHeaders)

			r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("OK"))
			})
			r.Mount("/api/v1", a.Router())

			tlsConfig, err := serverTLSConfig(viper.GetString("server.tls_cert"), viper.GetString("server.tls_key"))
			if err != nil {
				return err
			}
			if viper.GetString("server.tls_cert") == "" {
				fmt.Println("Using self-signed runtime generated certificate for TLS")
			}

			port := viper.GetInt("server.port")
			server := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           r,
				TLSConfig:         tlsConfig,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go a.RunMaintenance(ctx)

			// Graceful shutdown on SIGINT/SIGTERM.
			done := make(chan error, 1)
			go func() {
				if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
					done <- fmt.Errorf("server failed: %w", err)
					return
				}
				done <- nil
			}()

			printBanner(cmd.OutOrStdout())
			fmt.Printf("Starting server on port %d (data: %s)...\n", port, dataDir)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-quit:
				fmt.Printf("\nReceived %s, shutting down...\n", sig)
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("server shutdown failed: %w", err)
				}
				return nil
			case err := <-done:
				return err
			}
		},
	}
	serverCmd.Flags().IntP("port", "p", 8443, "Port to listen on")
	serverCmd.Flags().String("data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().String("tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().String("tls-key", "", "Path to TLS key file")
	serverCmd.Flags().Duration("idle-timeout", 30*time.Minute, "Session idle timeout (0 disables)")
	serverCmd.Flags().StringSlice("trusted-proxies", nil, "CIDRs whose X-Forwarded-For is trusted")
	serverCmd.Flags().String("session-key", "", "Hex 32-byte key; when set, sessions persist encrypted in the data store")
	serverCmd.Flags().String("verifier-profile", crypto.KDFProfileModerate, "Argon2id cost for stored login verifiers (interactive, moderate, sensitive)")

	bindFlag(serverCmd, "server.port", "port")
	bindFlag(serverCmd, "server.data_dir", "data-dir")
	bindFlag(serverCmd, "server.tls_cert", "tls-cert")
	bindFlag(serverCmd, "server.tls_key", "tls-key")
	bindFlag(serverCmd, "server.idle_timeout", "idle-timeout")
	bindFlag(serverCmd, "server.trusted_proxies", "trusted-proxies")
	bindFlag(serverCmd, "server.session_key", "session-key")
	bindFlag(serverCmd, "server.verifier_profile", "verifier-profile")
	return serverCmd
}

// serverOptions builds the api options from configuration. The returned
// func releases the session store.
func serverOptions(logger *slog.Logger, repo *bboltstorage.Store) ([]api.Option, func(), error) {
	params, err := crypto.Argon2idProfile(viper.GetString("server.verifier_profile"))
	if err != nil {
		return nil, nil, err
	}
	opts := []api.Option{
		api.WithVerifierParams(params),
		api.WithLogger(logger),
		api.WithIdleTimeout(viper.GetDuration("server.idle_timeout")),
		api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("security alert", "type", string(e.Type), "message", e.Message, "count", e.Count)
		}),
	}

	if proxies := viper.GetStringSlice("server.trusted_proxies"); len(proxies) > 0 {
		opt, err := api.WithTrustedProxies(proxies)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, opt)
	}

	noop := func() {}
	keyHex := viper.GetString("server.session_key")
	if keyHex == "" {
		return opts, noop, nil
	}
	wrappingKey, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("session key must be hex: %w", err)
	}
	defer util.WipeBytes(wrappingKey)
	store, err := api.NewPersistentSessionStore(repo, viper.GetDuration("server.idle_timeout"), wrappingKey)
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, api.WithSessionStore(store))
	return opts, store.Close, nil
}

// serverTLSConfig loads the key pair, or generates a self-signed
// certificate when none is configured.
func serverTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("--tls-cert and --tls-key must be given together")
	}
	var cert tls.Certificate
	var err error
	if certFile != "" {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
