// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tokenlink/tokenlink/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the TokenLink CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokenlink",
		Short: "TokenLink - one-time web login links for game-server players",
		Long: `TokenLink issues single-use login tokens for players, records them in a
remote token store, and hands back a link the player can open to sign in.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/tokenlink/config.yaml)")
	addConfigFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewDoctorCmd())
	cmd.AddCommand(NewIssueCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// addConfigFlags registers the flags that override configuration keys.
// Defaults mirror config.Default so help output is accurate; only flags set
// on the command line take effect.
func addConfigFlags(fs *pflag.FlagSet) {
	d := config.Default()
	fs.String("remote-url", d.Remote.BaseURL, "remote token store base URL")
	fs.Duration("remote-timeout", d.Remote.Timeout, "timeout for remote store requests")
	fs.Int("cooldown", d.Cooldown.Seconds, "per-player cooldown in seconds (0 disables)")
	fs.Int("token-validity", d.Token.ValiditySeconds, "token validity in seconds")
	fs.String("login-url", d.Token.LoginURL, "login page the token is appended to")
	fs.String("log-format", d.Logging.Format, "log format (json or text)")
	fs.String("log-level", d.Logging.Level, "log level (debug, info, warn, error)")
	fs.String("addr", d.Server.Addr, "gateway HTTP listen address")
	fs.String("metrics-addr", d.Server.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.Duration("shutdown-timeout", d.Server.ShutdownTimeout, "graceful shutdown timeout")
}

// loaderFor builds a loader for the global config path and cmd's flags.
func loaderFor(cmd *cobra.Command) *config.Loader {
	return config.NewLoader(configFile, config.WithFlags(cmd.Flags()))
}
