// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

// Package diag runs connectivity diagnostics against the remote token store:
// DNS resolution for the store host and a few control hosts, and HTTP probes
// of the store's endpoints. Diagnostics share no state with the login path.
package diag

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/tokenlink/tokenlink/internal/tokenstore"
)

// DefaultTimeout bounds each individual probe.
const DefaultTimeout = 10 * time.Second

// DefaultControlHosts are resolved alongside the store host to tell a local
// DNS outage apart from a missing project.
var DefaultControlHosts = []string{"supabase.co", "google.com"}

// Verdicts reported for HTTP probes.
const (
	VerdictReachable    = "reachable"
	VerdictNotDeployed  = "function may not be deployed"
	VerdictMissing      = "function does not exist"
	VerdictUnreachable  = "unreachable"
	VerdictResolved     = "resolved"
	VerdictUnresolvable = "resolution failed"
)

// Resolver looks up host addresses. *net.Resolver implements it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Config configures a Runner.
type Config struct {
	// BaseURL is the remote store base URL. Required.
	BaseURL string

	// ControlHosts are resolved in addition to the store host. Defaults to
	// DefaultControlHosts.
	ControlHosts []string

	// Timeout bounds each probe. Defaults to DefaultTimeout.
	Timeout time.Duration

	HTTPClient *http.Client
	Resolver   Resolver
}

// DNSResult is the outcome of resolving one host.
type DNSResult struct {
	Host    string   `json:"host" yaml:"host"`
	Addrs   []string `json:"addrs,omitempty" yaml:"addrs,omitempty"`
	Verdict string   `json:"verdict" yaml:"verdict"`
	Error   string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether the host resolved.
func (r DNSResult) OK() bool { return r.Error == "" }

// ProbeResult is the outcome of one HTTP probe.
type ProbeResult struct {
	Name    string `json:"name" yaml:"name"`
	Method  string `json:"method" yaml:"method"`
	URL     string `json:"url" yaml:"url"`
	Status  int    `json:"status,omitempty" yaml:"status,omitempty"`
	Verdict string `json:"verdict" yaml:"verdict"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether the probe reached a deployed endpoint.
func (r ProbeResult) OK() bool { return r.Verdict == VerdictReachable }

// Report collects every result of one diagnostics run. Results keep the
// order in which probes were declared, not completion order.
type Report struct {
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time     `json:"finished_at" yaml:"finished_at"`
	DNS        []DNSResult   `json:"dns" yaml:"dns"`
	Probes     []ProbeResult `json:"probes" yaml:"probes"`
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	for _, d := range r.DNS {
		if !d.OK() {
			return false
		}
	}
	for _, p := range r.Probes {
		if !p.OK() {
			return false
		}
	}
	return true
}

type probe struct {
	name   string
	method string
	url    string
	body   string
}

// Runner executes diagnostics.
type Runner struct {
	base         *url.URL
	controlHosts []string
	timeout      time.Duration
	client       *http.Client
	resolver     Resolver
	now          func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	base, err := tokenstore.ParseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	var resolver Resolver = net.DefaultResolver
	if cfg.Resolver != nil {
		resolver = cfg.Resolver
	}
	controlHosts := cfg.ControlHosts
	if controlHosts == nil {
		controlHosts = DefaultControlHosts
	}

	return &Runner{
		base:         base,
		controlHosts: controlHosts,
		timeout:      timeout,
		client:       client,
		resolver:     resolver,
		now:          time.Now,
	}, nil
}

// Hosts returns the hosts the DNS check resolves, store host first.
func (r *Runner) Hosts() []string {
	hosts := []string{r.base.Hostname()}
	for _, h := range r.controlHosts {
		if h != "" && h != hosts[0] {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Run executes every check concurrently and blocks until all are done or ctx
// ends. Individual failures are recorded in the report, never returned.
func (r *Runner) Run(ctx context.Context) Report {
	report := Report{StartedAt: r.now()}

	hosts := r.Hosts()
	probes := r.probes()
	report.DNS = make([]DNSResult, len(hosts))
	report.Probes = make([]ProbeResult, len(probes))

	g, gctx := errgroup.WithContext(ctx)
	for i, host := range hosts {
		g.Go(func() error {
			report.DNS[i] = r.resolve(gctx, host)
			return nil
		})
	}
	for i, p := range probes {
		g.Go(func() error {
			report.Probes[i] = r.probe(gctx, p)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // probes record failures in the report

	report.FinishedAt = r.now()
	return report
}

// Start runs diagnostics in the background. The returned channel delivers
// exactly one report and is then closed.
func (r *Runner) Start(ctx context.Context) <-chan Report {
	ch := make(chan Report, 1)
	go func() {
		defer close(ch)
		ch <- r.Run(ctx)
	}()
	return ch
}

func (r *Runner) probes() []probe {
	return []probe{
		{name: "base", method: http.MethodGet, url: r.base.String()},
		{name: "validate-token", method: http.MethodGet, url: r.endpoint(tokenstore.ValidatePath)},
		{name: "store-token", method: http.MethodPost, url: r.endpoint(tokenstore.StorePath), body: "{}"},
	}
}

func (r *Runner) endpoint(path string) string {
	u := *r.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func (r *Runner) resolve(ctx context.Context, host string) DNSResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	addrs, err := r.resolver.LookupHost(ctx, host)
	if err != nil {
		return DNSResult{Host: host, Verdict: VerdictUnresolvable, Error: err.Error()}
	}
	return DNSResult{Host: host, Addrs: addrs, Verdict: VerdictResolved}
}

func (r *Runner) probe(ctx context.Context, p probe) ProbeResult {
	result := ProbeResult{Name: p.name, Method: p.method, URL: p.url}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var body io.Reader
	if p.body != "" {
		body = strings.NewReader(p.body)
	}
	req, err := http.NewRequestWithContext(ctx, p.method, p.url, body)
	if err != nil {
		result.Verdict = VerdictUnreachable
		result.Error = oops.With("url", p.url).Wrap(err).Error()
		return result
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		result.Verdict = VerdictUnreachable
		result.Error = err.Error()
		return result
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	result.Status = resp.StatusCode
	result.Verdict = Classify(p.name, resp.StatusCode)
	return result
}

// Classify maps a probe status to a verdict. Only the function endpoints
// distinguish 401 and 404; the base URL is reachable on any response.
func Classify(name string, status int) string {
	if name == "base" {
		return VerdictReachable
	}
	switch status {
	case http.StatusUnauthorized:
		return VerdictNotDeployed
	case http.StatusNotFound:
		return VerdictMissing
	default:
		return VerdictReachable
	}
}
