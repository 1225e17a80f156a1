// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package login_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/tokenlink/tokenlink/internal/login"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, login.OutcomeIssued},
		{"throttled", login.ErrThrottled(uuid.New(), time.Second), login.OutcomeThrottled},
		{"transport", oops.Code(login.CodeTransportError).Errorf("dial"), login.OutcomeTransportError},
		{"rejected", oops.Code(login.CodeRemoteRejected).Errorf("HTTP 500"), login.OutcomeRemoteRejected},
		{"invalid", login.ErrInvalidRequest("player_name", "empty"), login.OutcomeInvalidRequest},
		{"wrapped rejection", oops.With("attempt_id", "x").Wrap(oops.Code(login.CodeRemoteRejected).Errorf("HTTP 401")), login.OutcomeRemoteRejected},
		{"plain error", errors.New("boom"), login.OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, login.Outcome(tt.err))
		})
	}
}

func TestPlayerMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"throttled with remaining", login.ErrThrottled(uuid.New(), 1500*time.Millisecond), "Please wait 2s before using /login again!"},
		{"throttled without remaining", login.ErrThrottled(uuid.New(), 0), "Please wait before using /login again!"},
		{"transport", oops.Code(login.CodeTransportError).Errorf("dial"), "Failed to generate login link. Try again later."},
		{"rejected", oops.Code(login.CodeRemoteRejected).Errorf("HTTP 500"), "Failed to generate login link. Try again later."},
		{"missing player", login.ErrMissingPlayer(), "This command is for players only!"},
		{"malformed player id", login.ErrInvalidRequest("player_id", "player id must be a uuid"), "Invalid login request."},
		{"blank name", login.ErrInvalidRequest("player_name", "player name is required"), "Invalid login request."},
		{"malformed body", login.ErrInvalidRequest("body", "request body must be a json object"), "Invalid login request."},
		{"shutdown", login.ErrServiceShutdown(), "Login is unavailable right now. Try again later."},
		{"unexpected", errors.New("boom"), "An error occurred. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, login.PlayerMessage(tt.err))
		})
	}
}

func TestRemoteStatus(t *testing.T) {
	status, ok := login.RemoteStatus(oops.Code(login.CodeRemoteRejected).With("status", 403).Errorf("HTTP 403"))
	assert.True(t, ok)
	assert.Equal(t, 403, status)

	_, ok = login.RemoteStatus(oops.Code(login.CodeTransportError).Errorf("dial"))
	assert.False(t, ok)
}

func TestIsIssuanceFailure(t *testing.T) {
	assert.True(t, login.IsIssuanceFailure(oops.Code(login.CodeTransportError).Errorf("dial")))
	assert.True(t, login.IsIssuanceFailure(oops.Code(login.CodeRemoteRejected).Errorf("HTTP 500")))
	assert.False(t, login.IsIssuanceFailure(login.ErrThrottled(uuid.New(), time.Second)))
	assert.False(t, login.IsIssuanceFailure(nil))
}
