// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tokenlink/tokenlink/internal/core"
)

// Output formats shared by the reporting subcommands.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// statusConfig holds configuration for the status command.
type statusConfig struct {
	format  string
	timeout time.Duration
}

// Validate checks that the configuration is valid.
func (cfg *statusConfig) Validate() error {
	return validateFormat(cfg.format)
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of the running gateway",
		Long: `Query the admin status endpoint of a running gateway at the configured
address, using the configured admin token.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg, nil)
		},
	}

	cmd.Flags().StringVar(&cfg.format, "format", formatTable, "output format (table, json or yaml)")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "request timeout")

	return cmd
}

// runStatus executes the status command. client may be nil.
func runStatus(cmd *cobra.Command, cfg *statusConfig, client *http.Client) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	loaded, err := loaderFor(cmd).Load()
	if err != nil {
		return oops.Wrapf(err, "load configuration")
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	status, err := queryStatus(cmd.Context(), client, "http://"+loaded.Server.Addr, loaded.Server.AdminToken)
	if err != nil {
		return err
	}

	output, err := formatStatus(status, cfg.format)
	if err != nil {
		return err
	}
	cmd.Print(output)
	return nil
}

// queryStatus fetches /admin/status from a running gateway.
func queryStatus(ctx context.Context, client *http.Client, baseURL, adminToken string) (core.Status, error) {
	var status core.Status

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/admin/status", http.NoBody)
	if err != nil {
		return status, oops.With("url", baseURL).Wrap(err)
	}
	if adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return status, oops.With("url", baseURL).Wrapf(err, "gateway not reachable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return status, oops.With("url", baseURL).With("status", resp.StatusCode).
			Errorf("gateway returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, oops.With("url", baseURL).Wrapf(err, "decode status response")
	}
	return status, nil
}

// formatStatus renders status in the requested format.
func formatStatus(status core.Status, format string) (string, error) {
	switch format {
	case formatJSON, formatYAML:
		return marshal(status, format)
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"VERSION", status.Version},
		{"READY", strconv.FormatBool(status.Ready)},
		{"REMOTE", orDash(status.RemoteURL)},
		{"API KEY", configured(status.APIKeyConfigured)},
		{"COOLDOWN", fmt.Sprintf("%ds", status.CooldownSeconds)},
		{"TOKEN VALIDITY", fmt.Sprintf("%ds", status.TokenValidity)},
		{"DIAGNOSTIC LOGS", strconv.FormatBool(status.LoggingEnabled)},
		{"TRACKED PLAYERS", strconv.Itoa(status.TrackedPlayers)},
	}
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
	return buf.String(), nil
}

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return oops.With("format", format).Errorf("format must be 'table', 'json' or 'yaml', got %q", format)
	}
}

// marshal encodes v as indented JSON or YAML with a trailing newline.
func marshal(v any, format string) (string, error) {
	if format == formatYAML {
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", oops.Wrapf(err, "marshal yaml")
		}
		return string(data), nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", oops.Wrapf(err, "marshal json")
	}
	return string(data) + "\n", nil
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "missing"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
