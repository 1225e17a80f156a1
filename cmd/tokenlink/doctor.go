// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package main

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tokenlink/tokenlink/internal/diag"
)

// doctorConfig holds configuration for the doctor command.
type doctorConfig struct {
	format string
}

// NewDoctorCmd creates the doctor subcommand.
func NewDoctorCmd() *cobra.Command {
	cfg := &doctorConfig{}

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check connectivity to the remote token store",
		Long: `Resolve the remote store host and control hosts, then probe the store's
edge functions without credentials. Exits non-zero when any check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, cfg, diag.Config{})
		},
	}

	cmd.Flags().StringVar(&cfg.format, "format", formatTable, "output format (table, json or yaml)")

	return cmd
}

// runDoctor runs diagnostics in the foreground. base supplies test hooks;
// its BaseURL and Timeout are taken from the loaded configuration.
func runDoctor(cmd *cobra.Command, cfg *doctorConfig, base diag.Config) error {
	if err := validateFormat(cfg.format); err != nil {
		return err
	}
	loaded, err := loaderFor(cmd).Load()
	if err != nil {
		return oops.Wrapf(err, "load configuration")
	}

	base.BaseURL = loaded.Remote.BaseURL
	base.Timeout = loaded.Remote.Timeout
	runner, err := diag.NewRunner(base)
	if err != nil {
		return err
	}

	report := runner.Run(cmd.Context())

	var output string
	if cfg.format == formatTable {
		output = formatReportTable(report)
	} else {
		output, err = marshal(report, cfg.format)
		if err != nil {
			return err
		}
	}
	cmd.Print(output)

	if !report.OK() {
		return oops.Code("DIAGNOSTICS_FAILED").Errorf("one or more connectivity checks failed")
	}
	return nil
}

// formatReportTable renders a report as two human-readable tables.
func formatReportTable(report diag.Report) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "HOST\tRESULT\tADDRESSES")
	for _, d := range report.DNS {
		detail := strings.Join(d.Addrs, ", ")
		if d.Error != "" {
			detail = d.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", d.Host, d.Verdict, detail)
	}
	_ = w.Flush()
	buf.WriteString("\n")

	w = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHECK\tSTATUS\tRESULT\tURL")
	for _, p := range report.Probes {
		status := "-"
		if p.Status != 0 {
			status = fmt.Sprintf("%d", p.Status)
		}
		verdict := p.Verdict
		if p.Error != "" {
			verdict = fmt.Sprintf("%s (%s)", p.Verdict, p.Error)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, status, verdict, p.URL)
	}
	_ = w.Flush()

	fmt.Fprintf(&buf, "\nfinished in %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return buf.String()
}
