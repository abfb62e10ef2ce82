package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRootCmd builds a fresh command tree. Commands carry the context of
// the run that executed them, so every run gets its own tree.
func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:   "wordvault",
		Short: "WordVault is a zero-knowledge password vault",
		Long: `A zero-knowledge password vault. Items are encrypted on the client with a
content key that is unlocked by secret words, a password and a one-time code.
The server never sees a plaintext field or the content key.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initConfig(cfgFile)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.wordvault.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	bindFlag(root, "log.level", "log-level")
	addClientFlags(root)

	root.AddCommand(
		newServerCmd(),
		newRegisterCmd(),
		newItemsCmd(),
		newPasswordCmd(),
		newVersionCmd(),
	)
	return root
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// bindFlag binds a persistent or local flag of c to a viper key.
func bindFlag(c *cobra.Command, key, flag string) {
	f := c.PersistentFlags().Lookup(flag)
	if f == nil {
		f = c.Flags().Lookup(flag)
	}
	if err := viper.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", flag, err))
	}
}

func initConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".wordvault")
	}

	viper.SetEnvPrefix("WORDVAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}
}

// parseLevel maps a configured level name to a slog.Level.
func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// newLogger returns a JSON logger on stderr at the configured level.
func newLogger() (*slog.Logger, error) {
	level, err := parseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}
