// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package login

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/tokenlink/tokenlink/internal/tokenstore"
	"github.com/tokenlink/tokenlink/pkg/errutil"
)

// Error codes for login requests. Transport and rejection codes come from the
// token store so a single code travels from the wire to the player message.
const (
	CodeThrottled       = "THROTTLED"
	CodeTransportError  = tokenstore.CodeTransportError
	CodeRemoteRejected  = tokenstore.CodeRemoteRejected
	CodeConfigInvalid   = tokenstore.CodeConfigInvalid
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeTokenGenerate   = "TOKEN_GENERATE_FAILED"
	CodeServiceShutdown = "SERVICE_SHUTDOWN"
)

// ErrThrottled is returned when the player is still cooling down.
func ErrThrottled(playerID uuid.UUID, retryAfter time.Duration) error {
	return oops.Code(CodeThrottled).
		With("player_id", playerID.String()).
		With("retry_after", retryAfter).
		Errorf("player is on cooldown")
}

// ErrInvalidRequest is returned for malformed login requests.
func ErrInvalidRequest(field, reason string) error {
	return oops.Code(CodeInvalidRequest).
		With("field", field).
		Errorf("invalid login request: %s", reason)
}

// ErrMissingPlayer is returned when a request carries no player, as when the
// command is run from a console.
func ErrMissingPlayer() error {
	return oops.Code(CodeInvalidRequest).
		With("field", "player_id").
		With("missing_player", true).
		Errorf("invalid login request: player id is required")
}

// ErrServiceShutdown is returned once the host has shut the service down.
func ErrServiceShutdown() error {
	return oops.Code(CodeServiceShutdown).Errorf("login service is shut down")
}

// IsThrottled reports whether err is a cooldown denial.
func IsThrottled(err error) bool {
	return errutil.Code(err) == CodeThrottled
}

// IsIssuanceFailure reports whether err means the remote store did not
// record the token, whatever the cause.
func IsIssuanceFailure(err error) bool {
	switch errutil.Code(err) {
	case CodeTransportError, CodeRemoteRejected, CodeTokenGenerate:
		return true
	default:
		return false
	}
}

// RetryAfter returns the remaining cooldown carried by a throttled error.
func RetryAfter(err error) time.Duration {
	v, ok := errutil.ContextValue(err, "retry_after")
	if !ok {
		return 0
	}
	d, _ := v.(time.Duration)
	return d
}

// RemoteStatus returns the HTTP status carried by a rejection error.
func RemoteStatus(err error) (int, bool) {
	if errutil.Code(err) != CodeRemoteRejected {
		return 0, false
	}
	v, ok := errutil.ContextValue(err, "status")
	if !ok {
		return 0, false
	}
	status, ok := v.(int)
	return status, ok
}

// Outcome maps err to the label used for metrics and logs.
func Outcome(err error) string {
	if err == nil {
		return OutcomeIssued
	}
	switch errutil.Code(err) {
	case CodeThrottled:
		return OutcomeThrottled
	case CodeTransportError:
		return OutcomeTransportError
	case CodeRemoteRejected:
		return OutcomeRemoteRejected
	case CodeInvalidRequest:
		return OutcomeInvalidRequest
	default:
		return OutcomeError
	}
}

// PlayerMessage extracts a player-facing message from an error. Transport and
// rejection failures share one message; operators read the logs for detail.
func PlayerMessage(err error) string {
	switch errutil.Code(err) {
	case CodeThrottled:
		if wait := RetryAfter(err); wait > 0 {
			return fmt.Sprintf("Please wait %ds before using /login again!", int(math.Ceil(wait.Seconds())))
		}
		return "Please wait before using /login again!"
	case CodeTransportError, CodeRemoteRejected, CodeTokenGenerate:
		return "Failed to generate login link. Try again later."
	case CodeInvalidRequest:
		if missing, _ := errutil.ContextValue(err, "missing_player"); missing == true {
			return "This command is for players only!"
		}
		return "Invalid login request."
	case CodeServiceShutdown:
		return "Login is unavailable right now. Try again later."
	default:
		return "An error occurred. Please try again."
	}
}
