// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package core_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tokenlink/tokenlink/internal/config"
	"github.com/tokenlink/tokenlink/internal/core"
	"github.com/tokenlink/tokenlink/internal/diag"
	"github.com/tokenlink/tokenlink/internal/login"
	"github.com/tokenlink/tokenlink/internal/observability"
	"github.com/tokenlink/tokenlink/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// httptest keep-alive connections close asynchronously
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// remote is a fake token store that records which API key each call used.
type remote struct {
	*httptest.Server
	status atomic.Int32
	calls  atomic.Int32

	mu   sync.Mutex
	keys []string
}

func newRemote(t *testing.T) *remote {
	t.Helper()
	r := &remote{}
	r.status.Store(http.StatusOK)
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.calls.Add(1)
		r.mu.Lock()
		r.keys = append(r.keys, req.Header.Get("Authorization"))
		r.mu.Unlock()
		w.WriteHeader(int(r.status.Load()))
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *remote) lastKey() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return ""
	}
	return r.keys[len(r.keys)-1]
}

type fakeResolver struct{}

func (fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if host == "127.0.0.1" {
		return []string{"127.0.0.1"}, nil
	}
	return nil, errors.New("no such host")
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Remote.BaseURL = baseURL
	cfg.Remote.APIKey = "key-one"
	return &cfg
}

func newRuntime(t *testing.T, cfg *config.Config, deps core.Deps) *core.Runtime {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	rt, err := core.New(cfg, "1.2.3", deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})
	return rt
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := core.New(nil, "dev", core.Deps{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, config.CodeInvalid)

	cfg := testConfig("")
	_, err = core.New(cfg, "dev", core.Deps{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, config.CodeInvalid)
	errutil.AssertErrorContext(t, err, "field", "remote.base_url")
}

func TestRuntime_RequestLogin(t *testing.T) {
	srv := newRemote(t)
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rt := newRuntime(t, testConfig(srv.URL), core.Deps{Clock: clk.Now})
	playerID := uuid.New()
	ctx := context.Background()

	handle, err := rt.RequestLogin(ctx, playerID, "Steve")
	require.NoError(t, err)
	assert.Len(t, handle.Token, 36)
	assert.True(t, rt.IsOnCooldown(playerID))
	assert.Equal(t, "Bearer key-one", srv.lastKey())

	clk.Advance(30 * time.Second)
	_, err = rt.RequestLogin(ctx, playerID, "Steve")
	errutil.AssertErrorCode(t, err, login.CodeThrottled)
	assert.Equal(t, 30*time.Second, rt.Remaining(playerID))

	clk.Advance(31 * time.Second)
	assert.False(t, rt.IsOnCooldown(playerID))
	_, err = rt.RequestLogin(ctx, playerID, "Steve")
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestRuntime_Reconfigure(t *testing.T) {
	srv := newRemote(t)
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	level := new(slog.LevelVar)
	rt := newRuntime(t, testConfig(srv.URL), core.Deps{Clock: clk.Now, LogLevel: level})
	playerID := uuid.New()

	_, err := rt.RequestLogin(context.Background(), playerID, "Steve")
	require.NoError(t, err)
	clk.Advance(20 * time.Second)
	require.True(t, rt.IsOnCooldown(playerID))

	t.Run("shorter window admits retroactively and keeps entries", func(t *testing.T) {
		before := testutil.ToFloat64(observability.ConfigReloads.WithLabelValues("ok"))

		next := testConfig(srv.URL)
		next.Cooldown.Seconds = 10
		next.Remote.APIKey = "key-two"
		next.Logging.Level = "debug"
		require.NoError(t, rt.Reconfigure(next))

		assert.False(t, rt.IsOnCooldown(playerID))
		assert.Equal(t, 10, rt.Status().CooldownSeconds)
		assert.Equal(t, 1, rt.Status().TrackedPlayers)
		assert.Equal(t, slog.LevelDebug, level.Level())
		assert.Equal(t, before+1, testutil.ToFloat64(observability.ConfigReloads.WithLabelValues("ok")))

		_, err := rt.RequestLogin(context.Background(), playerID, "Steve")
		require.NoError(t, err)
		assert.Equal(t, "Bearer key-two", srv.lastKey(), "rebuilt client must use the new key")
	})

	t.Run("invalid config keeps the previous one", func(t *testing.T) {
		before := testutil.ToFloat64(observability.ConfigReloads.WithLabelValues("error"))

		bad := testConfig(srv.URL)
		bad.Cooldown.Seconds = -5
		err := rt.Reconfigure(bad)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, config.CodeInvalid)

		assert.Equal(t, 10, rt.Status().CooldownSeconds)
		assert.Equal(t, "key-two", rt.Config().Remote.APIKey)
		assert.Equal(t, before+1, testutil.ToFloat64(observability.ConfigReloads.WithLabelValues("error")))
	})

	t.Run("nil config is rejected", func(t *testing.T) {
		require.Error(t, rt.Reconfigure(nil))
	})
}

func TestRuntime_ConfigIsCopied(t *testing.T) {
	srv := newRemote(t)
	cfg := testConfig(srv.URL)
	rt := newRuntime(t, cfg, core.Deps{})

	cfg.Remote.APIKey = "mutated"
	assert.Equal(t, "key-one", rt.Config().Remote.APIKey)
}

func TestRuntime_Status(t *testing.T) {
	srv := newRemote(t)
	cfg := testConfig(srv.URL)
	cfg.Logging.Enabled = false
	rt := newRuntime(t, cfg, core.Deps{})

	status := rt.Status()
	assert.Equal(t, "1.2.3", status.Version)
	assert.True(t, status.Ready)
	assert.True(t, status.RemoteConfigured)
	assert.True(t, status.APIKeyConfigured)
	assert.Equal(t, 60, status.CooldownSeconds)
	assert.Equal(t, 300, status.TokenValidity)
	assert.False(t, status.LoggingEnabled)
	assert.Equal(t, 0, status.TrackedPlayers)
}

func TestRuntime_RegistersCooldownGauge(t *testing.T) {
	srv := newRemote(t)
	reg := prometheus.NewRegistry()
	rt := newRuntime(t, testConfig(srv.URL), core.Deps{Registerer: reg})
	require.NotNil(t, rt)

	count, err := testutil.GatherAndCount(reg, "tokenlink_cooldown_entries")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRuntime_RunDiagnostics(t *testing.T) {
	srv := newRemote(t)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	logs := &bytes.Buffer{}
	rt := newRuntime(t, testConfig(srv.URL), core.Deps{
		Logger:   slog.New(slog.NewTextHandler(logs, nil)),
		Resolver: fakeResolver{},
		Metrics:  metrics,
	})

	// a request-scoped context may end before the run does
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := rt.RunDiagnostics(ctx)
	cancel()
	require.NoError(t, err)

	select {
	case report := <-ch:
		require.NotEmpty(t, report.DNS)
		assert.True(t, report.DNS[0].OK())
		require.Len(t, report.Probes, 3)
		for _, p := range report.Probes {
			assert.Empty(t, p.Error, p.Name)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("diagnostics did not complete")
	}

	// control hosts fail against the fake resolver
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.DiagnosticRuns.WithLabelValues("failed")), 0)
	assert.Contains(t, logs.String(), "dns resolution failed")
	assert.Contains(t, logs.String(), "endpoint reachable")
}

func TestRuntime_Shutdown(t *testing.T) {
	srv := newRemote(t)
	rt, err := core.New(testConfig(srv.URL), "dev", core.Deps{Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rt.Shutdown(ctx))
	require.NoError(t, rt.Shutdown(ctx), "second shutdown is a no-op")
	assert.False(t, rt.Ready())

	_, err = rt.RequestLogin(ctx, uuid.New(), "Steve")
	errutil.AssertErrorCode(t, err, login.CodeServiceShutdown)
	assert.Equal(t, int32(0), srv.calls.Load())

	errutil.AssertErrorCode(t, rt.Reconfigure(testConfig(srv.URL)), login.CodeServiceShutdown)

	_, err = rt.RunDiagnostics(ctx)
	errutil.AssertErrorCode(t, err, login.CodeServiceShutdown)
}

func TestRuntime_ConcurrentRequestsAndReloads(t *testing.T) {
	srv := newRemote(t)
	rt := newRuntime(t, testConfig(srv.URL), core.Deps{})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = rt.RequestLogin(context.Background(), uuid.New(), "Player")
			if i%5 == 0 {
				next := testConfig(srv.URL)
				next.Cooldown.Seconds = 30 + i
				_ = rt.Reconfigure(next)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, rt.Status().TrackedPlayers)
}

func TestRuntime_ShutdownWaitsForDiagnosticsStartedConcurrently(t *testing.T) {
	srv := newRemote(t)

	for range 50 {
		rt, err := core.New(testConfig(srv.URL), "dev", core.Deps{
			Logger:   slog.New(slog.DiscardHandler),
			Resolver: fakeResolver{},
		})
		require.NoError(t, err)

		started := make(chan (<-chan diag.Report), 1)
		go func() {
			ch, err := rt.RunDiagnostics(context.Background())
			if err != nil {
				errutil.AssertErrorCode(t, err, login.CodeServiceShutdown)
				ch = nil
			}
			started <- ch
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		require.NoError(t, rt.Shutdown(ctx))
		cancel()

		ch := <-started
		if ch == nil {
			continue
		}
		// a run accepted before shutdown has finished by the time it returns
		select {
		case <-ch:
		default:
			t.Fatal("diagnostics outlived shutdown")
		}
	}
}
