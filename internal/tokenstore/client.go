// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

// Package tokenstore talks to the remote token store that persists issued
// login tokens. It performs exactly one HTTP request per call and never
// retries.
package tokenstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Remote endpoints, relative to the configured base URL.
const (
	StorePath    = "/functions/v1/store-token"
	ValidatePath = "/functions/v1/validate-token"
)

// DefaultTimeout bounds a single store call when ClientConfig.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 1024

// Record is the payload the store persists for one issued token.
type Record struct {
	PlayerID   string `json:"player_uuid"`
	PlayerName string `json:"player_name"`
	Token      string `json:"token"`
	ExpiresAt  int64  `json:"expires_at"`
}

// Validate checks that every field is populated.
func (r Record) Validate() error {
	switch {
	case r.PlayerID == "":
		return oops.Code(CodeInvalidRecord).With("field", "player_uuid").Errorf("player id is required")
	case r.PlayerName == "":
		return oops.Code(CodeInvalidRecord).With("field", "player_name").Errorf("player name is required")
	case r.Token == "":
		return oops.Code(CodeInvalidRecord).With("field", "token").Errorf("token is required")
	case r.ExpiresAt <= 0:
		return oops.Code(CodeInvalidRecord).With("field", "expires_at").Errorf("expiry is required")
	}
	return nil
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the store's root URL, e.g. https://project.supabase.co.
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the client used for requests. Its Timeout is left
	// untouched when set.
	HTTPClient *http.Client
}

// Client stores tokens in the remote store.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := ParseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, oops.Code(CodeConfigInvalid).
			With("field", "remote.api_key").
			Errorf("token store api key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}, nil
}

// ParseBaseURL checks that raw is an absolute http(s) URL and strips any
// trailing slash.
func ParseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, oops.Code(CodeConfigInvalid).
			With("field", "remote.base_url").
			Errorf("token store base url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, oops.Code(CodeConfigInvalid).
			With("field", "remote.base_url").
			Wrapf(err, "token store base url is invalid")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, oops.Code(CodeConfigInvalid).
			With("field", "remote.base_url").
			With("value", raw).
			Errorf("token store base url must be an absolute http(s) url")
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}

// Endpoint returns the absolute URL for a store path.
func (c *Client) Endpoint(path string) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	return u.String()
}

// Host returns the store's host name without port.
func (c *Client) Host() string {
	return c.baseURL.Hostname()
}

// Store sends rec to the store. A nil error means the store answered 2xx and
// the token is durably recorded.
func (c *Client) Store(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	endpoint := c.Endpoint(StorePath)

	body, err := json.Marshal(rec)
	if err != nil {
		return oops.Code(CodeInvalidRecord).Wrapf(err, "encode token record")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return oops.Code(CodeTransportError).
			With("url", endpoint).
			Wrapf(err, "build token store request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return oops.Code(CodeTransportError).
			With("url", endpoint).
			Wrapf(err, "failed to reach token store")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		//nolint:errcheck // draining lets the transport reuse the connection
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}

	text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // diagnostic text only
	if len(text) == 0 {
		text = []byte("No response body")
	}
	return oops.Code(CodeRemoteRejected).
		With("url", endpoint).
		With("status", resp.StatusCode).
		With("body", string(text)).
		Errorf("token store returned HTTP %d", resp.StatusCode)
}
