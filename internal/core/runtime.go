// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

// Package core hosts the TokenLink runtime: it owns the cooldown gate, builds
// the login service from configuration, and exposes the lifecycle the host
// drives (initialize, reconfigure, shutdown).
package core

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/tokenlink/tokenlink/internal/config"
	"github.com/tokenlink/tokenlink/internal/cooldown"
	"github.com/tokenlink/tokenlink/internal/diag"
	"github.com/tokenlink/tokenlink/internal/logging"
	"github.com/tokenlink/tokenlink/internal/login"
	"github.com/tokenlink/tokenlink/internal/observability"
	"github.com/tokenlink/tokenlink/internal/tokenstore"
	"github.com/tokenlink/tokenlink/pkg/errutil"
)

// Deps holds optional collaborators. Zero values fall back to defaults.
type Deps struct {
	Logger *slog.Logger

	// LogLevel, when set, is updated from logging.level on every reload.
	LogLevel *slog.LevelVar

	// Registerer receives the cooldown gauge.
	Registerer prometheus.Registerer

	// Metrics receives diagnostic run counts.
	Metrics *observability.Metrics

	HTTPClient *http.Client
	Resolver   diag.Resolver
	Clock      func() time.Time
}

// Status summarizes the running configuration for operators.
type Status struct {
	Version          string `json:"version" yaml:"version"`
	Ready            bool   `json:"ready" yaml:"ready"`
	RemoteURL        string `json:"remote_url" yaml:"remote_url"`
	RemoteConfigured bool   `json:"remote_configured" yaml:"remote_configured"`
	APIKeyConfigured bool   `json:"api_key_configured" yaml:"api_key_configured"`
	CooldownSeconds  int    `json:"cooldown_seconds" yaml:"cooldown_seconds"`
	TokenValidity    int    `json:"token_validity_seconds" yaml:"token_validity_seconds"`
	LoggingEnabled   bool   `json:"logging_enabled" yaml:"logging_enabled"`
	TrackedPlayers   int    `json:"tracked_players" yaml:"tracked_players"`
}

// snapshot is an immutable view of one configuration generation.
type snapshot struct {
	cfg     *config.Config
	service *login.Service
}

// Runtime is the TokenLink host runtime. It is safe for concurrent use.
type Runtime struct {
	version string
	deps    Deps
	logger  *slog.Logger
	gate    *cooldown.Gate

	// reloadMu serializes Reconfigure; readers use current without locking.
	reloadMu sync.Mutex
	current  atomic.Pointer[snapshot]

	// bgMu orders the closed check and bg.Add against Shutdown.
	bgMu     sync.Mutex
	closed   atomic.Bool
	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New initializes the runtime from cfg. A configuration error aborts
// initialization and nothing is left running.
func New(cfg *config.Config, version string, deps Deps) (*Runtime, error) {
	if cfg == nil {
		return nil, oops.Code(config.CodeInvalid).Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	deps.Clock = clock

	gateOpts := []cooldown.Option{cooldown.WithClock(clock)}
	if deps.Registerer != nil {
		gateOpts = append(gateOpts, cooldown.WithRegistry(deps.Registerer))
	}
	gate := cooldown.New(cooldown.Config{
		Window:          cfg.CooldownWindow(),
		CleanupInterval: cfg.Cooldown.CleanupInterval,
		MaxAge:          cfg.Cooldown.MaxAge,
	}, gateOpts...)

	r := &Runtime{
		version: version,
		deps:    deps,
		logger:  logger,
		gate:    gate,
	}
	r.bgCtx, r.bgCancel = context.WithCancel(context.Background())

	snap, err := r.build(cfg)
	if err != nil {
		r.bgCancel()
		gate.Close()
		return nil, err
	}
	r.applyLogLevel(cfg)
	r.current.Store(snap)

	logger.Info("tokenlink runtime initialized",
		"version", version,
		"remote_host", hostOf(cfg.Remote.BaseURL),
		"cooldown_seconds", cfg.Cooldown.Seconds,
		"token_validity_seconds", cfg.Token.ValiditySeconds,
		"logging_enabled", cfg.Logging.Enabled,
	)
	return r, nil
}

// build creates the login service for cfg around the shared gate.
func (r *Runtime) build(cfg *config.Config) (*snapshot, error) {
	client, err := tokenstore.NewClient(tokenstore.ClientConfig{
		BaseURL:    cfg.Remote.BaseURL,
		APIKey:     cfg.Remote.APIKey,
		Timeout:    cfg.Remote.Timeout,
		HTTPClient: r.deps.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	issuer, err := login.NewIssuer(login.IssuerConfig{
		Store:     client,
		Committer: r.gate,
		Validity:  cfg.TokenValidity(),
		Clock:     r.deps.Clock,
	})
	if err != nil {
		return nil, oops.Code(config.CodeInvalid).Wrap(err)
	}

	service, err := login.NewService(login.ServiceConfig{
		Gate:        r.gate,
		Issuer:      issuer,
		LoginURL:    cfg.Token.LoginURL,
		Logger:      r.logger,
		Diagnostics: cfg.Logging.Enabled,
	})
	if err != nil {
		return nil, err
	}

	owned := *cfg
	return &snapshot{cfg: &owned, service: service}, nil
}

// RequestLogin issues a login link for the player.
func (r *Runtime) RequestLogin(ctx context.Context, playerID uuid.UUID, displayName string) (*login.Handle, error) {
	if r.closed.Load() {
		login.RecordLoginRequest(login.OutcomeError)
		return nil, login.ErrServiceShutdown()
	}
	return r.current.Load().service.RequestLogin(ctx, playerID, displayName)
}

// IsOnCooldown reports whether the player is currently throttled.
func (r *Runtime) IsOnCooldown(playerID uuid.UUID) bool {
	return r.gate.IsOnCooldown(playerID)
}

// Remaining returns the player's remaining cooldown.
func (r *Runtime) Remaining(playerID uuid.UUID) time.Duration {
	return r.gate.Remaining(playerID)
}

// Reconfigure applies cfg. The remote client and login service are rebuilt
// and swapped in atomically; the gate keeps its entries and only its window
// changes. On error the previous configuration stays in effect.
func (r *Runtime) Reconfigure(cfg *config.Config) error {
	if r.closed.Load() {
		return login.ErrServiceShutdown()
	}

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	err := r.reconfigure(cfg)
	if err != nil {
		observability.RecordConfigReload("error")
		errutil.Log(context.Background(), r.logger, slog.LevelError, "configuration reload failed", err)
		return err
	}
	observability.RecordConfigReload("ok")
	r.logger.Info("configuration reloaded",
		"cooldown_seconds", cfg.Cooldown.Seconds,
		"logging_enabled", cfg.Logging.Enabled,
	)
	return nil
}

func (r *Runtime) reconfigure(cfg *config.Config) error {
	if cfg == nil {
		return oops.Code(config.CodeInvalid).Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	snap, err := r.build(cfg)
	if err != nil {
		return err
	}
	if err := r.gate.Reconfigure(cfg.Cooldown.Seconds); err != nil {
		return oops.With("field", "cooldown.seconds").Wrap(err)
	}
	r.applyLogLevel(cfg)
	r.current.Store(snap)
	return nil
}

// Config returns a copy of the configuration in effect.
func (r *Runtime) Config() config.Config {
	return *r.current.Load().cfg
}

// Ready reports whether the runtime accepts login requests.
func (r *Runtime) Ready() bool {
	return !r.closed.Load()
}

// Status summarizes the running configuration.
func (r *Runtime) Status() Status {
	cfg := r.current.Load().cfg
	return Status{
		Version:          r.version,
		Ready:            r.Ready(),
		RemoteURL:        cfg.Remote.BaseURL,
		RemoteConfigured: cfg.Remote.BaseURL != "",
		APIKeyConfigured: cfg.Remote.APIKey != "",
		CooldownSeconds:  int(r.gate.Window() / time.Second),
		TokenValidity:    cfg.Token.ValiditySeconds,
		LoggingEnabled:   cfg.Logging.Enabled,
		TrackedPlayers:   r.gate.Len(),
	}
}

// RunDiagnostics starts connectivity diagnostics in the background against
// the current remote store. Results are logged when the run completes and
// delivered on the returned channel. The run outlives ctx's cancellation and
// is cancelled by Shutdown instead.
func (r *Runtime) RunDiagnostics(ctx context.Context) (<-chan diag.Report, error) {
	if r.closed.Load() {
		return nil, login.ErrServiceShutdown()
	}

	cfg := r.current.Load().cfg
	runner, err := diag.NewRunner(diag.Config{
		BaseURL:    cfg.Remote.BaseURL,
		Timeout:    cfg.Remote.Timeout,
		HTTPClient: r.deps.HTTPClient,
		Resolver:   r.deps.Resolver,
	})
	if err != nil {
		return nil, err
	}

	r.bgMu.Lock()
	if r.closed.Load() {
		r.bgMu.Unlock()
		return nil, login.ErrServiceShutdown()
	}
	r.bg.Add(1)
	r.bgMu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(r.bgCtx, cancel)

	out := make(chan diag.Report, 1)
	go func() {
		defer r.bg.Done()
		defer close(out)
		defer cancel()
		defer stop()
		report := <-runner.Start(runCtx)
		r.recordDiagnostics(runCtx, report)
		out <- report
	}()
	return out, nil
}

func (r *Runtime) recordDiagnostics(ctx context.Context, report diag.Report) {
	result := "ok"
	if !report.OK() {
		result = "failed"
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.DiagnosticRuns.WithLabelValues(result).Inc()
	}

	for _, d := range report.DNS {
		if d.OK() {
			r.logger.InfoContext(ctx, "dns resolution successful", "host", d.Host, "addrs", d.Addrs)
			continue
		}
		r.logger.WarnContext(ctx, "dns resolution failed", "host", d.Host, "error", d.Error)
	}
	for _, p := range report.Probes {
		if p.OK() {
			r.logger.InfoContext(ctx, "endpoint reachable", "probe", p.Name, "status", p.Status)
			continue
		}
		r.logger.WarnContext(ctx, "endpoint check failed",
			"probe", p.Name,
			"status", p.Status,
			"verdict", p.Verdict,
			"error", p.Error,
		)
	}
}

// Shutdown stops accepting requests, cancels background diagnostics, stops
// the gate sweeper and waits for diagnostics to exit until ctx expires.
// Calling it again is a no-op.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.bgMu.Lock()
	first := r.closed.CompareAndSwap(false, true)
	r.bgMu.Unlock()
	if !first {
		return nil
	}
	r.bgCancel()
	r.gate.Close()

	done := make(chan struct{})
	go func() {
		r.bg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("tokenlink runtime stopped")
		return nil
	case <-ctx.Done():
		return oops.With("operation", "wait_for_diagnostics").Wrap(ctx.Err())
	}
}

func (r *Runtime) applyLogLevel(cfg *config.Config) {
	if r.deps.LogLevel == nil {
		return
	}
	// already validated
	level, _ := logging.ParseLevel(cfg.Logging.Level)
	r.deps.LogLevel.Set(level)
}

func hostOf(raw string) string {
	u, err := tokenstore.ParseBaseURL(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
