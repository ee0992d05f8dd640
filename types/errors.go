// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInitialized is returned by operations that require a prior Init.
	ErrNotInitialized = errors.New("lucidic: SDK not initialized")

	// ErrNoActiveSession is returned when an operation needs a session and
	// none is bound to the calling context or active process-wide.
	ErrNoActiveSession = errors.New("lucidic: no active session")

	// ErrSessionEnded is returned when an event targets a session that has
	// already been finished.
	ErrSessionEnded = errors.New("lucidic: session already ended")

	// ErrBackendUnreachable is returned when every network attempt against
	// the backend failed without ever receiving an HTTP response.
	ErrBackendUnreachable = errors.New("lucidic: cannot reach backend")
)

// ConfigError reports missing or invalid SDK configuration. It aggregates
// every problem found during validation so callers can fix them in one pass.
type ConfigError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("lucidic: invalid configuration: %s", strings.Join(e.Problems, "; "))
}

// AuthError reports a credential rejection (HTTP 401 or 403).
type AuthError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("lucidic: invalid API key: %d %s", e.Status, e.Message)
}

// QuotaError reports an exhausted backend quota (HTTP 402).
type QuotaError struct {
	Message string
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	return fmt.Sprintf("lucidic: insufficient credits: %s", e.Message)
}

// TransportError reports a non-2xx backend response that is neither an
// authentication nor a quota failure. Body carries the raw response text.
type TransportError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("lucidic: backend request failed: %d %s", e.Status, e.Body)
}

// Temporary reports whether the status is one the transport retries.
func (e *TransportError) Temporary() bool {
	switch e.Status {
	case 502, 503, 504:
		return true
	}
	return false
}
