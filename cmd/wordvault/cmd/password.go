package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/wordvault/errs"
	"github.com/jmcleod/wordvault/internal/util"
)

func newPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "password",
		Short: "Change the account password",
		Long: `Change the account password. The content key is rewrapped under the new
password; items are not re-encrypted. The secret words are asked for again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *cliSession) error {
				p := s.env.prompt
				fmt.Fprintln(p.out, "Confirm your secret words and current password.")
				words, err := p.words()
				if err != nil {
					return err
				}
				oldPassword, err := p.secret("Current password")
				if err != nil {
					return err
				}
				newPassword, err := p.secret("New password")
				if err != nil {
					return err
				}
				confirm, err := p.secret("Confirm new password")
				if err != nil {
					return err
				}
				match := string(confirm) == string(newPassword)
				util.WipeBytes(confirm)
				if !match {
					util.WipeBytes(newPassword)
					util.WipeBytes(oldPassword)
					return errs.Validationf("confirm_password", "does not match")
				}
				if err := s.machine.ChangePassword(ctx, words, oldPassword, newPassword); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Password changed.")
				return nil
			})
		},
	}
}
