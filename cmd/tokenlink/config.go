// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file, TOKENLINK_*
environment variables and flags are applied. Secrets are masked.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format == formatTable {
				format = formatYAML
			}
			if err := validateFormat(format); err != nil {
				return err
			}
			loader := loaderFor(cmd)
			cfg, err := loader.Load()
			if err != nil {
				return oops.With("path", loader.Path()).Wrapf(err, "load configuration")
			}
			output, err := marshal(cfg.Redacted(), format)
			if err != nil {
				return err
			}
			cmd.Print(output)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatYAML, "output format (json or yaml)")

	return cmd
}
