// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

// Package gateway exposes the login runtime over HTTP for the game-server
// plugin and for operators.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tokenlink/tokenlink/internal/core"
	"github.com/tokenlink/tokenlink/internal/diag"
	"github.com/tokenlink/tokenlink/internal/login"
	"github.com/tokenlink/tokenlink/pkg/errutil"
)

const maxBodyBytes = 4 * 1024

// Runtime is the part of *core.Runtime the gateway drives.
type Runtime interface {
	RequestLogin(ctx context.Context, playerID uuid.UUID, displayName string) (*login.Handle, error)
	Remaining(playerID uuid.UUID) time.Duration
	Status() core.Status
	RunDiagnostics(ctx context.Context) (<-chan diag.Report, error)
}

// Reloader re-reads the configuration source and applies it.
type Reloader func(ctx context.Context) error

// Handler serves the gateway routes.
type Handler struct {
	runtime    Runtime
	reload     Reloader
	adminToken func() string
	logger     *slog.Logger
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Runtime Runtime
	Reload  Reloader

	// AdminToken returns the current admin token. Admin routes are open when
	// it returns "". It is a func so a reload can rotate the token.
	AdminToken func() string

	Logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	adminToken := cfg.AdminToken
	if adminToken == nil {
		adminToken = func() string { return "" }
	}
	return &Handler{
		runtime:    cfg.Runtime,
		reload:     cfg.Reload,
		adminToken: adminToken,
		logger:     logger,
	}
}

// Routes returns the gateway router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: "no such route"})
	})

	r.Route("/v1/players/{playerID}", func(r chi.Router) {
		r.Post("/login", h.HandleLogin)
		r.Get("/cooldown", h.HandleCooldown)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/status", h.HandleStatus)
		r.Post("/reload", h.HandleReload)
		r.Post("/diagnostics", h.HandleDiagnostics)
	})

	return r
}

type loginRequest struct {
	Name string `json:"name"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleLogin implements POST /v1/players/{playerID}/login.
// Input: { "name": "Steve" }
// Output: { "token": "...", "url": "...", "expires_at": "..." }
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	playerID, ok := h.playerID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, login.ErrInvalidRequest("body", "request body must be a json object with a name"))
		return
	}

	handle, err := h.runtime.RequestLogin(r.Context(), playerID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     handle.Token,
		URL:       handle.URL,
		ExpiresAt: handle.ExpiresAt.UTC(),
	})
}

type cooldownResponse struct {
	OnCooldown       bool `json:"on_cooldown"`
	RemainingSeconds int  `json:"remaining_seconds"`
}

// HandleCooldown implements GET /v1/players/{playerID}/cooldown.
func (h *Handler) HandleCooldown(w http.ResponseWriter, r *http.Request) {
	playerID, ok := h.playerID(w, r)
	if !ok {
		return
	}
	remaining := h.runtime.Remaining(playerID)
	writeJSON(w, http.StatusOK, cooldownResponse{
		OnCooldown:       remaining > 0,
		RemainingSeconds: int(math.Ceil(remaining.Seconds())),
	})
}

// HandleStatus implements GET /admin/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.runtime.Status())
}

// HandleReload implements POST /admin/reload.
func (h *Handler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if h.reload == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "NOT_SUPPORTED", Message: "reload is not configured"})
		return
	}
	if err := h.reload(r.Context()); err != nil {
		errutil.Log(r.Context(), h.logger, slog.LevelWarn, "admin reload failed", err,
			"request_id", middleware.GetReqID(r.Context()))
		code := errutil.Code(err)
		if code == "" {
			code = "INTERNAL"
		}
		writeJSON(w, statusFor(err), errorResponse{Error: code, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.runtime.Status())
}

type diagnosticsResponse struct {
	Status string `json:"status"`
}

// HandleDiagnostics implements POST /admin/diagnostics. The run continues in
// the background and reports to the operator log.
func (h *Handler) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if _, err := h.runtime.RunDiagnostics(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, diagnosticsResponse{Status: "started"})
}

func (h *Handler) playerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "playerID")
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		writeError(w, login.ErrInvalidRequest("player_id", "player id must be a uuid"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := h.adminToken()
		if want == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			h.logger.WarnContext(r.Context(), "admin request rejected",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED", Message: "admin token required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
