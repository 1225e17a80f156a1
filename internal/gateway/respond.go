// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package gateway

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/tokenlink/tokenlink/internal/login"
	"github.com/tokenlink/tokenlink/pkg/errutil"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// headers are already sent; an encode error cannot change the response
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates a login error into an HTTP response. The message is
// the player-facing text; operator detail stays in the logs.
func writeError(w http.ResponseWriter, err error) {
	code := errutil.Code(err)
	if code == "" {
		code = "INTERNAL"
	}
	if code == login.CodeThrottled {
		if wait := login.RetryAfter(err); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
	}
	writeJSON(w, statusFor(err), errorResponse{
		Error:   code,
		Message: login.PlayerMessage(err),
	})
}

// statusFor maps login error codes to HTTP status codes.
func statusFor(err error) int {
	switch errutil.Code(err) {
	case login.CodeThrottled:
		return http.StatusTooManyRequests
	case login.CodeInvalidRequest:
		return http.StatusBadRequest
	case login.CodeTransportError, login.CodeRemoteRejected, login.CodeTokenGenerate:
		return http.StatusBadGateway
	case login.CodeServiceShutdown:
		return http.StatusServiceUnavailable
	case login.CodeConfigInvalid:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
