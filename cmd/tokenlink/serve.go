// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tokenlink/tokenlink/internal/core"
	"github.com/tokenlink/tokenlink/internal/gateway"
	"github.com/tokenlink/tokenlink/internal/logging"
	"github.com/tokenlink/tokenlink/internal/login"
	"github.com/tokenlink/tokenlink/internal/observability"
	"github.com/tokenlink/tokenlink/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the login gateway",
		Long: `Run the HTTP gateway that the game-server plugin calls to issue login
links. SIGHUP reloads the configuration; SIGINT and SIGTERM shut down.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}
}

// runServeWithDeps starts the gateway with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer {
			return observability.NewServer(addr, ready, registrars...)
		}
	}
	if deps.GatewayServerFactory == nil {
		deps.GatewayServerFactory = func(addr string, handler http.Handler, logger *slog.Logger) GatewayServer {
			return gateway.NewServer(addr, handler, logger)
		}
	}
	if deps.Signals == nil {
		deps.Signals = notifySignals
	}
	if deps.LogWriter == nil {
		deps.LogWriter = os.Stderr
	}
	if deps.Resolver == nil {
		deps.Resolver = net.DefaultResolver
	}

	loader := loaderFor(cmd)
	cfg, err := loader.Load()
	if err != nil {
		return oops.With("path", loader.Path()).Wrapf(err, "load configuration")
	}

	level := new(slog.LevelVar)
	if lvl, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		level.Set(lvl)
	}
	logger := logging.SetDefault(logging.Options{
		Service: "tokenlink",
		Version: version,
		Format:  cfg.Logging.Format,
		Level:   level,
		Writer:  deps.LogWriter,
	})

	logger.Info("starting tokenlink",
		"addr", cfg.Server.Addr,
		"metrics_addr", cfg.Server.MetricsAddr,
		"config", loader.Path(),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runtime atomic.Pointer[core.Runtime]
	ready := func() bool {
		rt := runtime.Load()
		return rt != nil && rt.Ready()
	}

	coreDeps := core.Deps{
		Logger:   logger,
		LogLevel: level,
		Resolver: deps.Resolver,
	}

	var obsServer ObservabilityServer
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, ready, login.RegisterMetrics)
		obsServer.Metrics().BuildInfo.WithLabelValues(version).Set(1)
		coreDeps.Registerer = obsServer.Registry()
		coreDeps.Metrics = obsServer.Metrics()
	}

	rt, err := core.New(cfg, version, coreDeps)
	if err != nil {
		return oops.Wrapf(err, "initialize runtime")
	}
	runtime.Store(rt)

	shutdownRuntime := func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), rt.Config().Server.ShutdownTimeout)
		defer stopCancel()
		if err := rt.Shutdown(stopCtx); err != nil {
			logger.Warn("error shutting down runtime", "error", err)
		}
	}

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			shutdownRuntime()
			return oops.Wrapf(err, "start observability server")
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	reload := func(context.Context) error {
		next, err := loader.Load()
		if err != nil {
			observability.RecordConfigReload("error")
			return err
		}
		return rt.Reconfigure(next)
	}

	handler := gateway.NewHandler(gateway.HandlerConfig{
		Runtime:    rt,
		Reload:     reload,
		AdminToken: func() string { return rt.Config().Server.AdminToken },
		Logger:     logger,
	})
	gwServer := deps.GatewayServerFactory(cfg.Server.Addr, handler.Routes(), logger)
	gwErrCh, err := gwServer.Start()
	if err != nil {
		stopServers(logger, cfg.Server.ShutdownTimeout, nil, obsServer)
		shutdownRuntime()
		return oops.Wrapf(err, "start gateway server")
	}
	go monitorServerErrors(ctx, cancel, gwErrCh, "gateway")

	if cfg.Logging.Enabled {
		if _, err := rt.RunDiagnostics(ctx); err != nil {
			errutil.LogError(logger, "startup diagnostics failed to start", err)
		}
	}

	sigCh, stopSignals := deps.Signals()
	defer stopSignals()

	cmd.Println("TokenLink started")
	logger.Info("tokenlink ready", "addr", gwServer.Addr())

wait:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if err := reload(ctx); err != nil {
					errutil.LogError(logger, "configuration reload failed", err)
				}
				continue
			}
			logger.Info("received shutdown signal", "signal", sig.String())
			break wait
		case <-ctx.Done():
			logger.Info("context cancelled, shutting down")
			break wait
		}
	}

	logger.Info("shutting down...")
	stopServers(logger, rt.Config().Server.ShutdownTimeout, gwServer, obsServer)
	shutdownRuntime()
	logger.Info("shutdown complete")
	return nil
}

// stopServers stops the gateway first so no request reaches a closed
// runtime, then the observability server.
func stopServers(logger *slog.Logger, timeout time.Duration, gw GatewayServer, obs ObservabilityServer) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if gw != nil {
		if err := gw.Stop(ctx); err != nil {
			logger.Warn("error stopping gateway server", "error", err)
		}
	}
	if obs != nil {
		if err := obs.Stop(ctx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}
}

// monitorServerErrors cancels ctx when a server reports a serve error.
// It exits when an error is received, the channel closes, or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
