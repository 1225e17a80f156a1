// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package login

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for login request metrics.
const (
	OutcomeIssued         = "issued"
	OutcomeThrottled      = "throttled"
	OutcomeTransportError = "transport_error"
	OutcomeRemoteRejected = "remote_rejected"
	OutcomeInvalidRequest = "invalid_request"
	OutcomeError          = "error"
)

// LoginRequests counts login requests by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var LoginRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tokenlink_login_requests_total",
		Help: "Total number of login token requests by outcome",
	},
	[]string{"outcome"},
)

// StoreDuration observes how long the remote store call took.
// Use RegisterMetrics to register this with a Prometheus registry.
var StoreDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "tokenlink_token_store_duration_seconds",
		Help:    "Duration of token store calls in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"result"},
)

// RegisterMetrics registers login metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginRequests)
	reg.MustRegister(StoreDuration)
}

// RecordLoginRequest increments the request counter for outcome.
func RecordLoginRequest(outcome string) {
	LoginRequests.WithLabelValues(outcome).Inc()
}

// RecordStoreDuration records a store call; result is "ok" or the outcome
// label of the failure.
func RecordStoreDuration(result string, d time.Duration) {
	StoreDuration.WithLabelValues(result).Observe(d.Seconds())
}
