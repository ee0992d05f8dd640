// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-json-experiment/json"

	"github.com/lucidicai/lucidic-go/config"
	"github.com/lucidicai/lucidic-go/types"
)

// userAgentPrefix is completed with the SDK version at construction time.
const userAgentPrefix = "lucidic-go-sdk/"

// Client is the authenticated JSON transport shared by every SDK component.
// A single context-aware implementation serves both the synchronous and the
// asynchronous call shapes.
type Client struct {
	cfg    *config.Config
	httpc  *http.Client
	base   string
	agent  string
	logger *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a transport bound to cfg. version becomes part of the
// User-Agent header.
func New(cfg *config.Config, version string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		httpc: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.PoolMaxSize,
				MaxIdleConnsPerHost: cfg.PoolSize,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		agent:  userAgentPrefix + version,
		logger: logger,
		now:    time.Now,
	}
}

// VerifyResponse is the backend's answer to a credential check.
type VerifyResponse struct {
	Project   string `json:"project"`
	ProjectID string `json:"project_id"`
}

// VerifyAPIKey checks the configured credentials against the backend.
func (c *Client) VerifyAPIKey(ctx context.Context) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.Get(ctx, "verifyapikey", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get issues an authenticated GET with optional query parameters.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, out any) error {
	target := c.base + "/" + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return c.roundTrip(ctx, http.MethodGet, target, nil, out)
}

// Do issues an authenticated request with a JSON body. POST and PUT bodies
// receive a server-observable current_time field (RFC 3339, UTC) before
// serialization.
func (c *Client) Do(ctx context.Context, method, endpoint string, body any, out any) error {
	var payload []byte
	if method == http.MethodPost || method == http.MethodPut {
		stamped, err := c.stamp(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", endpoint, err)
		}
		payload = stamped
	} else if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", endpoint, err)
		}
		payload = raw
	}
	return c.roundTrip(ctx, method, c.base+"/"+endpoint, payload, out)
}

// PostEvent submits one event envelope to the events endpoint.
func (c *Client) PostEvent(ctx context.Context, req *types.EventRequest) (*types.EventResponse, error) {
	var out types.EventResponse
	if err := c.Do(ctx, http.MethodPost, "events", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadBlob PUTs a gzip-compressed JSON payload to a presigned URL. The
// URL is absolute and carries its own authorization, so no API key header
// is attached.
func (c *Client) UploadBlob(ctx context.Context, blobURL string, gzipped []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, blobURL, bytes.NewReader(gzipped))
	if err != nil {
		return fmt.Errorf("build blob upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrBackendUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &types.TransportError{Status: resp.StatusCode, Body: string(text)}
	}
	return nil
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.httpc.CloseIdleConnections()
}

// stamp serializes body and injects current_time. Bodies are flattened
// through a map so the field rides alongside the caller's own keys.
func (c *Client) stamp(body any) ([]byte, error) {
	m := make(map[string]any)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	m["current_time"] = c.now().UTC().Format(time.RFC3339Nano)
	return json.Marshal(m)
}

// roundTrip performs the request with retry on transient failures.
// 502/503/504 and network errors are retried with exponential backoff up to
// the configured attempt count; every other non-2xx status is terminal.
func (c *Client) roundTrip(ctx context.Context, method, target string, payload []byte, out any) error {
	var lastNetErr error

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(c.cfg.BackoffFactor * float64(time.Second))
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx)

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Api-Key "+c.cfg.APIKey)
		req.Header.Set("User-Agent", c.agent)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastNetErr = err
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(&types.AuthError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)})
		case resp.StatusCode == http.StatusPaymentRequired:
			return backoff.Permanent(&types.QuotaError{Message: "402 Insufficient Credits"})
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			lastNetErr = nil
			body, err = io.ReadAll(resp.Body)
			if err != nil {
				lastNetErr = err
				return err
			}
			return nil
		default:
			text, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			terr := &types.TransportError{Status: resp.StatusCode, Body: string(text)}
			if terr.Temporary() {
				c.logger.Debug("retrying transient backend failure",
					slog.String("method", method),
					slog.String("url", target),
					slog.Int("status", resp.StatusCode),
				)
				return terr
			}
			return backoff.Permanent(terr)
		}
	}

	if err := backoff.Retry(operation, policy); err != nil {
		if lastNetErr != nil && !isBackendError(err) {
			return fmt.Errorf("%w: %v", types.ErrBackendUnreachable, lastNetErr)
		}
		return err
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", target, err)
		}
	}
	return nil
}

// isBackendError reports whether err already carries backend semantics and
// should not be re-wrapped as unreachable.
func isBackendError(err error) bool {
	var (
		authErr      *types.AuthError
		quotaErr     *types.QuotaError
		transportErr *types.TransportError
	)
	return errors.As(err, &authErr) || errors.As(err, &quotaErr) || errors.As(err, &transportErr)
}
