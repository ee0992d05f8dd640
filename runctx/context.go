// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package runctx

import (
	"context"
	"sync/atomic"
)

// Context keys. Session and parent ids ride on [context.Context] the same
// way loggers do in pkg/logging, which gives scoped binders exact
// restore-on-exit and re-entrancy for free: a derived context shadows the
// binding, the caller's context is untouched.
type (
	sessionKey  struct{}
	parentKey   struct{}
	detachedKey struct{}
)

// activeSession is the process-global fallback set by session creation.
// It exists as a convenience for flows that never thread a context; spawned
// goroutines that must stay isolated use [Detach].
var activeSession atomic.Value // string

// WithSession returns a context bound to the given session id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionID returns the session id bound to ctx, if any.
func SessionID(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(sessionKey{}).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithParentEvent returns a context whose current-parent is the given
// client event id. Nested events created under it attach as children.
func WithParentEvent(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, parentKey{}, eventID)
}

// ParentEventID returns the current-parent event id bound to ctx, if any.
func ParentEventID(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(parentKey{}).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// Detach returns a context with no session or parent binding and with the
// process-global fallback suppressed. Hand it to spawned goroutines that
// represent logically independent flows: they resolve to "no session"
// unless they bind one explicitly.
func Detach(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, sessionKey{}, "")
	ctx = context.WithValue(ctx, parentKey{}, "")
	return context.WithValue(ctx, detachedKey{}, true)
}

// Detached reports whether ctx opted out of the global fallback.
func Detached(ctx context.Context) bool {
	v, ok := ctx.Value(detachedKey{}).(bool)
	return ok && v
}

// SetActiveSession records the process-global active session.
func SetActiveSession(sessionID string) {
	activeSession.Store(sessionID)
}

// ActiveSessionID returns the process-global active session, if any.
func ActiveSessionID() (string, bool) {
	if v, ok := activeSession.Load().(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// ClearActiveSession drops the process-global active session if it matches
// sessionID, or unconditionally when sessionID is empty.
func ClearActiveSession(sessionID string) {
	if sessionID == "" {
		activeSession.Store("")
		return
	}
	activeSession.CompareAndSwap(sessionID, "")
}

// Resolve returns the (session id, parent event id) pair for ctx.
// Resolution order: context binding, then the process-global active session
// unless ctx is detached. Either value may be empty.
func Resolve(ctx context.Context) (sessionID, parentEventID string) {
	parentEventID, _ = ParentEventID(ctx)
	if id, ok := SessionID(ctx); ok {
		return id, parentEventID
	}
	if Detached(ctx) {
		return "", parentEventID
	}
	if id, ok := ActiveSessionID(); ok {
		return id, parentEventID
	}
	return "", parentEventID
}
