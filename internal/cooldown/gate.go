// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

// Package cooldown implements the per-player cooldown gate that throttles how
// often a player may be issued a new login token.
//
// The gate only answers "is this player still cooling down" and records
// accepted requests. Checking and committing are separate calls: callers check
// before doing remote work and commit only once the work succeeded, so two
// concurrent requests for the same player may both be admitted.
package cooldown

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
)

// Defaults applied when a Config field is zero.
const (
	// DefaultWindow is the cooldown between two accepted requests.
	DefaultWindow = 60 * time.Second

	// DefaultCleanupInterval is how often the sweeper runs.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultMaxAge is the minimum retention for an entry before the sweeper
	// may drop it. The effective retention is max(longest window, MaxAge).
	DefaultMaxAge = time.Hour

	// CodeInvalidWindow is returned by Reconfigure for windows that are
	// negative or above MaxWindowSeconds.
	CodeInvalidWindow = "COOLDOWN_INVALID_WINDOW"

	// MaxWindowSeconds is the largest window, in seconds, that fits in a
	// time.Duration.
	MaxWindowSeconds = math.MaxInt64 / int64(time.Second)
)

const shardCount = 32

// Config configures a Gate.
type Config struct {
	// Window is the cooldown between accepted requests. Zero disables the
	// cooldown; use DefaultWindow when constructing from scratch.
	Window time.Duration

	// CleanupInterval is the sweeper period. Defaults to DefaultCleanupInterval.
	CleanupInterval time.Duration

	// MaxAge is the minimum retention for entries. Defaults to DefaultMaxAge.
	MaxAge time.Duration
}

// Option customizes a Gate.
type Option func(*Gate)

// WithClock replaces the time source. Tests use it to step time manually.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithRegistry registers a gauge tracking the number of stored entries. The
// gauge rises as new players are recorded and is reset by every sweep.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(g *Gate) {
		if reg == nil {
			return
		}
		g.entriesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tokenlink_cooldown_entries",
			Help: "Current number of players tracked by the cooldown gate",
		})
		reg.MustRegister(g.entriesGauge)
	}
}

// WithoutSweeper disables the background sweeper. Sweep can still be called.
func WithoutSweeper() Option {
	return func(g *Gate) {
		g.noSweeper = true
	}
}

type shard struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]time.Time
}

// Gate tracks the last accepted request per player. It is safe for
// concurrent use; players in different shards never contend.
//
// A Gate owns a sweeper goroutine unless WithoutSweeper is given. Call Close
// to stop it.
//
// The sweeper keeps entries for the longest window ever configured, or
// MaxAge if that is longer. A player whose entry was already swept is not
// blocked again when a later Reconfigure raises the window above the
// retention in effect at sweep time.
type Gate struct {
	shards    [shardCount]shard
	window    atomic.Int64 // nanoseconds
	retention atomic.Int64 // nanoseconds, never decreases
	maxAge    time.Duration
	now    func() time.Time

	noSweeper    bool
	entriesGauge prometheus.Gauge

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a Gate and starts its sweeper.
func New(cfg Config, opts ...Option) *Gate {
	window := cfg.Window
	if window < 0 {
		window = 0
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	g := &Gate{
		maxAge:   maxAge,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	for i := range g.shards {
		g.shards[i].entries = make(map[uuid.UUID]time.Time)
	}
	g.window.Store(int64(window))
	g.retention.Store(int64(max(window, maxAge)))

	for _, opt := range opts {
		opt(g)
	}

	if !g.noSweeper {
		g.wg.Add(1)
		go g.sweepLoop(cleanupInterval)
	}

	return g
}

// IsOnCooldown reports whether id was accepted less than one window ago.
// Players never recorded are never on cooldown.
func (g *Gate) IsOnCooldown(id uuid.UUID) bool {
	return g.Remaining(id) > 0
}

// Remaining returns how long until id becomes eligible again, or zero.
func (g *Gate) Remaining(id uuid.UUID) time.Duration {
	last, ok := g.lastAccepted(id)
	if !ok {
		return 0
	}
	elapsed := g.now().Sub(last)
	remaining := g.Window() - elapsed
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// SetCooldown records now as the last accepted request for id, replacing any
// earlier entry.
func (g *Gate) SetCooldown(id uuid.UUID) {
	s := g.shardFor(id)
	s.mu.Lock()
	_, existed := s.entries[id]
	s.entries[id] = g.now()
	s.mu.Unlock()

	if !existed && g.entriesGauge != nil {
		g.entriesGauge.Inc()
	}
}

// Reconfigure replaces the cooldown window. Stored timestamps are kept, so
// the new window applies retroactively to every tracked player that has not
// been swept yet.
func (g *Gate) Reconfigure(windowSeconds int) error {
	if windowSeconds < 0 {
		return oops.Code(CodeInvalidWindow).
			With("window_seconds", windowSeconds).
			Errorf("cooldown window cannot be negative")
	}
	if int64(windowSeconds) > MaxWindowSeconds {
		return oops.Code(CodeInvalidWindow).
			With("window_seconds", windowSeconds).
			With("max_seconds", MaxWindowSeconds).
			Errorf("cooldown window too large")
	}

	window := int64(time.Duration(windowSeconds) * time.Second)
	g.window.Store(window)
	for {
		cur := g.retention.Load()
		if window <= cur || g.retention.CompareAndSwap(cur, window) {
			break
		}
	}
	return nil
}

// Window returns the cooldown window currently in effect.
func (g *Gate) Window() time.Duration {
	return time.Duration(g.window.Load())
}

// Len returns the number of tracked players.
func (g *Gate) Len() int {
	n := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Sweep drops entries older than the retention and returns how many were
// removed. The retention is max(MaxAge, longest window configured so far), so
// dropped players could not be on cooldown under any window seen.
func (g *Gate) Sweep() int {
	threshold := g.now().Add(-time.Duration(g.retention.Load()))

	removed := 0
	remaining := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		for id, last := range s.entries {
			if last.Before(threshold) {
				delete(s.entries, id)
				removed++
			}
		}
		remaining += len(s.entries)
		s.mu.Unlock()
	}

	if g.entriesGauge != nil {
		g.entriesGauge.Set(float64(remaining))
	}
	return removed
}

// Close stops the sweeper and waits for it to exit. It is safe to call more
// than once.
func (g *Gate) Close() {
	g.stopOnce.Do(func() {
		close(g.stopChan)
	})
	g.wg.Wait()
}

func (g *Gate) lastAccepted(id uuid.UUID) (time.Time, bool) {
	s := g.shardFor(id)
	s.mu.RLock()
	last, ok := s.entries[id]
	s.mu.RUnlock()
	return last, ok
}

func (g *Gate) sweepLoop(interval time.Duration) {
	defer g.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopChan:
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

// shardFor picks a shard with a djb2-style hash over the id bytes.
func (g *Gate) shardFor(id uuid.UUID) *shard {
	var h uint32
	for _, b := range id {
		h = h*31 + uint32(b)
	}
	return &g.shards[h%shardCount]
}
