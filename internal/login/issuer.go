// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

// Package login issues one-time login tokens and gates how often a player
// may request one.
package login

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/tokenlink/tokenlink/internal/tokenstore"
)

// DefaultValidity is how long an issued token stays valid at the store.
const DefaultValidity = 300 * time.Second

// Store persists issued tokens. *tokenstore.Client implements it.
type Store interface {
	Store(ctx context.Context, rec tokenstore.Record) error
}

// Committer records an accepted request. *cooldown.Gate implements it.
type Committer interface {
	SetCooldown(id uuid.UUID)
}

// Handle is a successfully issued token. The durable record lives in the
// remote store; the handle only carries what the caller needs to present it.
type Handle struct {
	Token       string
	PlayerID    uuid.UUID
	DisplayName string
	ExpiresAt   time.Time

	// URL is the redirect link for the player. Set by Service.
	URL string
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	// Store receives issued tokens. Required.
	Store Store

	// Committer is notified after the store accepted a token. Required.
	Committer Committer

	// Validity is the token lifetime. Defaults to DefaultValidity.
	Validity time.Duration

	// Clock overrides time.Now.
	Clock func() time.Time

	// NewToken overrides token generation.
	NewToken func() (string, error)
}

// Issuer generates tokens and hands them to the remote store. It owns no
// mutable state; every call makes exactly one store call.
type Issuer struct {
	store     Store
	committer Committer
	validity  time.Duration
	now       func() time.Time
	newToken  func() (string, error)
}

// NewIssuer creates an Issuer.
// Returns an error if the store or committer is nil.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.Store == nil {
		return nil, oops.Errorf("token store is required")
	}
	if cfg.Committer == nil {
		return nil, oops.Errorf("cooldown committer is required")
	}

	validity := cfg.Validity
	if validity <= 0 {
		validity = DefaultValidity
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	newToken := cfg.NewToken
	if newToken == nil {
		newToken = GenerateToken
	}

	return &Issuer{
		store:     cfg.Store,
		committer: cfg.Committer,
		validity:  validity,
		now:       now,
		newToken:  newToken,
	}, nil
}

// Validity returns the configured token lifetime.
func (i *Issuer) Validity() time.Duration {
	return i.validity
}

// IssueToken generates a token for the player and stores it remotely. On
// success the committer is notified exactly once; on any failure the token is
// discarded and the committer is left untouched so the player may retry.
func (i *Issuer) IssueToken(ctx context.Context, playerID uuid.UUID, displayName string) (*Handle, error) {
	token, err := i.newToken()
	if err != nil {
		return nil, oops.Code(CodeTokenGenerate).
			With("player_id", playerID.String()).
			Wrap(err)
	}

	expiresAt := i.now().Add(i.validity)
	rec := tokenstore.Record{
		PlayerID:   playerID.String(),
		PlayerName: displayName,
		Token:      token,
		ExpiresAt:  expiresAt.Unix(),
	}

	start := time.Now()
	err = i.store.Store(ctx, rec)
	elapsed := time.Since(start)
	if err != nil {
		RecordStoreDuration(Outcome(err), elapsed)
		return nil, oops.With("player_id", playerID.String()).Wrap(err)
	}
	RecordStoreDuration("ok", elapsed)

	i.committer.SetCooldown(playerID)

	return &Handle{
		Token:       token,
		PlayerID:    playerID,
		DisplayName: displayName,
		ExpiresAt:   time.Unix(rec.ExpiresAt, 0),
	}, nil
}

// GenerateToken returns a random version 4 UUID in its 36-character form.
func GenerateToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", oops.Code(CodeTokenGenerate).
			With("operation", "uuid.NewRandom").
			Wrap(err)
	}
	return id.String(), nil
}
