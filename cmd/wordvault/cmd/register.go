package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/wordvault/auth"
	"github.com/jmcleod/wordvault/crypto"
)

func newRegisterCmd() *cobra.Command {
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Long: `Create an account. The server issues ten secret words and a TOTP secret;
write the words down, they are shown once. An unfinished registration is
resumed on the next run unless --restart is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openClientEnv(cmd)
			if err != nil {
				return err
			}
			defer env.Close()
			out := cmd.OutOrStdout()
			p := env.prompt

			algorithm := crypto.AEADAlgorithm(mustString(cmd, "algorithm"))
			if !algorithm.Valid() {
				return fmt.Errorf("unsupported algorithm %q", algorithm)
			}

			reg := auth.NewRegistrar(env.client, env.repo, auth.WithLogger(env.logger))
			pending, err := reg.Pending()
			restart, _ := cmd.Flags().GetBool("restart")
			if errors.Is(err, auth.ErrNoRegistration) || restart {
				pending, err = reg.Begin(ctx)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\nAccount: %s\n\nSecret words (write these down):\n\n  %s\n\n", pending.UUID, strings.Join(pending.Words, " "))
			fmt.Fprintf(out, "Add this to your authenticator app:\n\n  %s\n\n", pending.OTPAuthURL)
			if !pending.ExpiresAt.IsZero() {
				fmt.Fprintf(out, "Finish before %s.\n\n", pending.ExpiresAt.Local().Format("15:04:05"))
			}

			if !pending.Verified {
				code, err := p.line("One-time code")
				if err != nil {
					return err
				}
				if err := reg.VerifyTOTP(ctx, code); err != nil {
					return err
				}
			}

			form := auth.Form{Algorithm: algorithm}
			if form.Username, err = p.line("Username"); err != nil {
				return err
			}
			if form.Email, err = p.line("Email (optional)"); err != nil {
				return err
			}
			if form.Password, err = p.secret("Password"); err != nil {
				return err
			}
			if form.ConfirmPassword, err = p.secret("Confirm password"); err != nil {
				return err
			}

			id, err := reg.Complete(ctx, form)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Registered %s.\n", id)
			return nil
		},
	}
	registerCmd.Flags().String("algorithm", string(crypto.AESGCM), "field cipher (aesgcm, xchacha20)")
	registerCmd.Flags().Bool("restart", false, "discard an unfinished registration and start over")
	return registerCmd
}

func mustString(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(err)
	}
	return v
}
