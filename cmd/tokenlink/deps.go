// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tokenlink/tokenlink/internal/diag"
	"github.com/tokenlink/tokenlink/internal/gateway"
	"github.com/tokenlink/tokenlink/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer

	// GatewayServerFactory creates the gateway HTTP server.
	// Default: gateway.NewServer
	GatewayServerFactory func(addr string, handler http.Handler, logger *slog.Logger) GatewayServer

	// Signals subscribes to process signals. The returned func unsubscribes.
	// Default: signal.Notify for SIGINT, SIGTERM and SIGHUP
	Signals func() (<-chan os.Signal, func())

	// LogWriter receives log output.
	// Default: os.Stderr
	LogWriter io.Writer

	// Resolver resolves hosts during diagnostics.
	// Default: net.DefaultResolver
	Resolver diag.Resolver
}

// ObservabilityServer is the subset of *observability.Server used by serve.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
	Registry() *prometheus.Registry
}

// GatewayServer is the subset of *gateway.Server used by serve.
type GatewayServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

var (
	_ ObservabilityServer = (*observability.Server)(nil)
	_ GatewayServer       = (*gateway.Server)(nil)
)

func notifySignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	return ch, func() { signal.Stop(ch) }
}
