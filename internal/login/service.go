// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package login

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokenlink/tokenlink/pkg/errutil"
)

// DefaultLoginURL is the page players are sent to with their token.
const DefaultLoginURL = "https://mc.nordics.world/login"

const tracerName = "github.com/tokenlink/tokenlink/internal/login"

// Gate is the cooldown view the service needs. *cooldown.Gate implements it.
type Gate interface {
	Committer
	IsOnCooldown(id uuid.UUID) bool
	Remaining(id uuid.UUID) time.Duration
}

// TokenIssuer issues and stores a token. *Issuer implements it.
type TokenIssuer interface {
	IssueToken(ctx context.Context, playerID uuid.UUID, displayName string) (*Handle, error)
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Gate decides admission. Required.
	Gate Gate

	// Issuer issues tokens and commits to the gate on success. Required.
	Issuer TokenIssuer

	// LoginURL is the redirect page. Defaults to DefaultLoginURL.
	LoginURL string

	// Logger receives operator logs. Defaults to a discarding logger.
	Logger *slog.Logger

	// Diagnostics enables per-request operator logs.
	Diagnostics bool

	// Tracer overrides the global OpenTelemetry tracer.
	Tracer trace.Tracer
}

// Service runs the login workflow: cooldown check, issuance, commit.
type Service struct {
	gate        Gate
	issuer      TokenIssuer
	loginURL    *url.URL
	logger      *slog.Logger
	diagnostics bool
	tracer      trace.Tracer
}

// NewService creates a Service.
// Returns an error if a required dependency is nil or the login URL is invalid.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Gate == nil {
		return nil, oops.Errorf("cooldown gate is required")
	}
	if cfg.Issuer == nil {
		return nil, oops.Errorf("token issuer is required")
	}

	raw := cfg.LoginURL
	if raw == "" {
		raw = DefaultLoginURL
	}
	loginURL, err := url.Parse(raw)
	if err != nil || loginURL.Scheme == "" || loginURL.Host == "" {
		return nil, oops.Code(CodeConfigInvalid).
			With("field", "token.login_url").
			With("value", raw).
			Errorf("login url must be an absolute url")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Service{
		gate:        cfg.Gate,
		issuer:      cfg.Issuer,
		loginURL:    loginURL,
		logger:      logger,
		diagnostics: cfg.Diagnostics,
		tracer:      tracer,
	}, nil
}

// RequestLogin issues a login link for the player. A throttled request
// returns a THROTTLED error without touching the network. Failed issuance
// leaves the cooldown untouched.
func (s *Service) RequestLogin(ctx context.Context, playerID uuid.UUID, displayName string) (*Handle, error) {
	attemptID := newAttemptID()
	ctx, span := s.tracer.Start(ctx, "login.RequestLogin",
		trace.WithAttributes(
			attribute.String("player.id", playerID.String()),
			attribute.String("login.attempt_id", attemptID.String()),
		))
	defer span.End()

	handle, err := s.requestLogin(ctx, playerID, displayName)
	outcome := Outcome(err)
	RecordLoginRequest(outcome)
	span.SetAttributes(attribute.String("login.outcome", outcome))

	if err != nil {
		err = oops.With("attempt_id", attemptID.String()).Wrap(err)
		if !IsThrottled(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		s.logFailure(ctx, playerID, displayName, err)
		return nil, err
	}

	if s.diagnostics {
		s.logger.InfoContext(ctx, "login token issued",
			"player", handle.DisplayName,
			"player_id", playerID.String(),
			"attempt_id", attemptID.String(),
			"token_prefix", tokenPrefix(handle.Token),
			"expires_at", handle.ExpiresAt.UTC(),
		)
	}
	return handle, nil
}

func (s *Service) requestLogin(ctx context.Context, playerID uuid.UUID, displayName string) (*Handle, error) {
	if playerID == uuid.Nil {
		return nil, ErrMissingPlayer()
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, ErrInvalidRequest("player_name", "player name is required")
	}

	if s.gate.IsOnCooldown(playerID) {
		return nil, ErrThrottled(playerID, s.gate.Remaining(playerID))
	}

	handle, err := s.issuer.IssueToken(ctx, playerID, displayName)
	if err != nil {
		return nil, err
	}
	handle.URL = s.LinkFor(handle.Token)
	return handle, nil
}

// IsOnCooldown reports whether the player is currently throttled.
func (s *Service) IsOnCooldown(playerID uuid.UUID) bool {
	return s.gate.IsOnCooldown(playerID)
}

// Remaining returns the player's remaining cooldown.
func (s *Service) Remaining(playerID uuid.UUID) time.Duration {
	return s.gate.Remaining(playerID)
}

// LinkFor builds the redirect link carrying token.
func (s *Service) LinkFor(token string) string {
	u := *s.loginURL
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Service) logFailure(ctx context.Context, playerID uuid.UUID, displayName string, err error) {
	if !s.diagnostics {
		return
	}
	if IsThrottled(err) {
		s.logger.DebugContext(ctx, "login request throttled",
			"player", displayName,
			"player_id", playerID.String(),
			"retry_after", RetryAfter(err),
		)
		return
	}
	errutil.Log(ctx, s.logger, slog.LevelWarn, "error generating login", err,
		"player", displayName,
		"player_id", playerID.String(),
	)
}

func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
