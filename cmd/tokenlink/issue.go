// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tokenlink/tokenlink/internal/core"
	"github.com/tokenlink/tokenlink/internal/login"
)

// NewIssueCmd creates the issue subcommand.
func NewIssueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "issue <player-uuid> <player-name>",
		Short: "Issue a single login link",
		Long: `Issue one login token for a player and print the login link. Useful for
support staff and for checking a deployment end to end. The cooldown does not
carry over between invocations.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIssue(cmd, args[0], args[1], core.Deps{})
		},
	}
}

// runIssue issues one token through a short-lived runtime.
func runIssue(cmd *cobra.Command, rawID, name string, deps core.Deps) error {
	playerID, err := uuid.Parse(rawID)
	if err != nil {
		return login.ErrInvalidRequest("player_id", "player id must be a uuid")
	}

	cfg, err := loaderFor(cmd).Load()
	if err != nil {
		return oops.Wrapf(err, "load configuration")
	}
	// one-shot runs stay quiet unless asked to log
	cfg.Logging.Enabled = false
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	rt, err := core.New(cfg, version, deps)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	}()

	handle, err := rt.RequestLogin(cmd.Context(), playerID, name)
	if err != nil {
		cmd.PrintErrln(login.PlayerMessage(err))
		return err
	}

	cmd.Println(handle.URL)
	cmd.PrintErrf("token expires at %s\n", handle.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}
