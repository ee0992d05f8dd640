// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

// Package lucidic is the Go SDK for the Lucidic AI observability platform.
//
// The SDK captures what an AI agent did as a stream of typed events (LLM
// generations, function calls, error tracebacks, and free-form
// annotations), groups them under sessions, and ships them to the backend
// asynchronously so instrumented code paths never block on network I/O.
//
// Typical use installs one client for the process and drives it through
// the package-level functions:
//
//	if err := lucidic.Init(); err != nil {
//		log.Fatal(err)
//	}
//	defer lucidic.Shutdown(5 * time.Second)
//
//	ctx, _, err := lucidic.CreateSession(ctx, types.SessionParams{Name: "support-agent"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer lucidic.EndSession(ctx, "", types.EndSessionParams{})
//
//	lucidic.CreateEvent(ctx, types.EventParams{
//		Type:  types.EventTypeLLMGeneration,
//		Model: "gpt-4o",
//	})
//
// Session identity travels on the context.Context. A goroutine that must
// not inherit the ambient session can cut the chain with [Detach].
package lucidic

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucidicai/lucidic-go/config"
	"github.com/lucidicai/lucidic-go/runctx"
	"github.com/lucidicai/lucidic-go/types"
)

// Version is the SDK version reported in the User-Agent header.
const Version = "0.1.0"

var (
	installedMu sync.RWMutex
	installed   *Client
)

// Init builds a client from options and environment variables and installs
// it as the process-wide client behind the package-level functions.
// Configuration and credential errors are returned here rather than
// surfacing later on the hot path.
func Init(opts ...config.Option) error {
	c, err := NewClient(opts...)
	if err != nil {
		return err
	}
	installedMu.Lock()
	prev := installed
	installed = c
	installedMu.Unlock()
	if prev != nil {
		prev.Shutdown(time.Second)
	}
	return nil
}

func installedClient() *Client {
	installedMu.RLock()
	defer installedMu.RUnlock()
	return installed
}

// CreateSession starts a session on the installed client. See
// [Client.CreateSession].
func CreateSession(ctx context.Context, p types.SessionParams) (context.Context, string, error) {
	c := installedClient()
	if c == nil {
		return ctx, "", types.ErrNotInitialized
	}
	return c.CreateSession(ctx, p)
}

// ContinueSession resumes an existing session on the installed client.
func ContinueSession(ctx context.Context, sessionID string) (context.Context, string, error) {
	c := installedClient()
	if c == nil {
		return ctx, "", types.ErrNotInitialized
	}
	return c.ContinueSession(ctx, sessionID)
}

// UpdateSession updates the ambient or explicit session.
func UpdateSession(ctx context.Context, sessionID string, p types.UpdateSessionParams) error {
	c := installedClient()
	if c == nil {
		return types.ErrNotInitialized
	}
	return c.UpdateSession(ctx, sessionID, p)
}

// EndSession flushes and finalizes the ambient or explicit session.
func EndSession(ctx context.Context, sessionID string, p types.EndSessionParams) error {
	c := installedClient()
	if c == nil {
		return types.ErrNotInitialized
	}
	return c.EndSession(ctx, sessionID, p)
}

// CreateEvent records an event on the installed client and returns its id
// immediately. With no client installed it still returns a well-formed id
// so instrumented code keeps working before Init.
func CreateEvent(ctx context.Context, p types.EventParams) (string, error) {
	c := installedClient()
	if c == nil {
		return newPlaceholderID(p), nil
	}
	return c.CreateEvent(ctx, p)
}

// CreateErrorEvent records err as an error_traceback event.
func CreateErrorEvent(ctx context.Context, err error, p types.EventParams) (string, error) {
	c := installedClient()
	if c == nil {
		return newPlaceholderID(p), nil
	}
	return c.CreateErrorEvent(ctx, err, p)
}

// GetPrompt fetches and renders a prompt from the platform.
func GetPrompt(ctx context.Context, p PromptParams) (string, error) {
	c := installedClient()
	if c == nil {
		return "", types.ErrNotInitialized
	}
	return c.GetPrompt(ctx, p)
}

// Flush drains the installed client's queue within the deadline.
func Flush(timeout time.Duration) {
	if c := installedClient(); c != nil {
		c.Flush(timeout)
	}
}

// Shutdown stops the installed client's pipeline. Safe to call more than
// once and before Init.
func Shutdown(timeout time.Duration) {
	if c := installedClient(); c != nil {
		c.Shutdown(timeout)
	}
}

// BindSession returns a context carrying the given session id, overriding
// the process-wide active session for everything under it.
func BindSession(ctx context.Context, sessionID string) context.Context {
	return runctx.WithSession(ctx, sessionID)
}

// BindParentEvent returns a context under which new events attach to the
// given parent event.
func BindParentEvent(ctx context.Context, eventID string) context.Context {
	return runctx.WithParentEvent(ctx, eventID)
}

// Detach returns a context with no session or parent binding that also
// ignores the process-wide active session. Hand it to background
// goroutines whose work must not be attributed to the caller's session.
func Detach(ctx context.Context) context.Context {
	return runctx.Detach(ctx)
}

func newPlaceholderID(p types.EventParams) string {
	if p.ClientEventID != "" {
		return p.ClientEventID
	}
	return uuid.NewString()
}
