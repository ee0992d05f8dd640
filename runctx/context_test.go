// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package runctx

import (
	"context"
	"testing"
)

func TestSessionBinding(t *testing.T) {
	ctx := context.Background()

	if _, ok := SessionID(ctx); ok {
		t.Error("SessionID(empty ctx) ok = true, want false")
	}

	bound := WithSession(ctx, "session-a")
	id, ok := SessionID(bound)
	if !ok || id != "session-a" {
		t.Errorf("SessionID = %q, %v, want session-a, true", id, ok)
	}

	// A nested binding shadows; the outer context is untouched.
	inner := WithSession(bound, "session-b")
	if id, _ := SessionID(inner); id != "session-b" {
		t.Errorf("inner SessionID = %q, want session-b", id)
	}
	if id, _ := SessionID(bound); id != "session-a" {
		t.Errorf("outer SessionID = %q, want session-a", id)
	}
}

func TestParentEventBinding(t *testing.T) {
	ctx := WithParentEvent(context.Background(), "evt-1")
	id, ok := ParentEventID(ctx)
	if !ok || id != "evt-1" {
		t.Errorf("ParentEventID = %q, %v, want evt-1, true", id, ok)
	}

	nested := WithParentEvent(ctx, "evt-2")
	if id, _ := ParentEventID(nested); id != "evt-2" {
		t.Errorf("nested ParentEventID = %q, want evt-2", id)
	}
	if id, _ := ParentEventID(ctx); id != "evt-1" {
		t.Errorf("outer ParentEventID = %q, want evt-1", id)
	}
}

func TestResolve_Order(t *testing.T) {
	t.Cleanup(func() { ClearActiveSession("") })

	ClearActiveSession("")
	if id, _ := Resolve(context.Background()); id != "" {
		t.Errorf("Resolve(no bindings) = %q, want empty", id)
	}

	SetActiveSession("global-session")
	if id, _ := Resolve(context.Background()); id != "global-session" {
		t.Errorf("Resolve(global only) = %q, want global-session", id)
	}

	// An explicit context binding wins over the global.
	ctx := WithSession(context.Background(), "ctx-session")
	if id, _ := Resolve(ctx); id != "ctx-session" {
		t.Errorf("Resolve(ctx binding) = %q, want ctx-session", id)
	}

	ctx = WithParentEvent(ctx, "parent-1")
	sid, pid := Resolve(ctx)
	if sid != "ctx-session" || pid != "parent-1" {
		t.Errorf("Resolve = (%q, %q), want (ctx-session, parent-1)", sid, pid)
	}
}

func TestDetach(t *testing.T) {
	t.Cleanup(func() { ClearActiveSession("") })

	SetActiveSession("global-session")
	ctx := WithSession(context.Background(), "bound")
	ctx = WithParentEvent(ctx, "parent-1")

	detached := Detach(ctx)
	if !Detached(detached) {
		t.Error("Detached = false, want true")
	}
	sid, pid := Resolve(detached)
	if sid != "" || pid != "" {
		t.Errorf("Resolve(detached) = (%q, %q), want empty pair", sid, pid)
	}

	// Rebinding under a detached context works.
	rebound := WithSession(detached, "fresh")
	if id, _ := Resolve(rebound); id != "fresh" {
		t.Errorf("Resolve(rebound) = %q, want fresh", id)
	}
}

func TestClearActiveSession(t *testing.T) {
	t.Cleanup(func() { ClearActiveSession("") })

	SetActiveSession("session-a")

	// Clearing with a non-matching id is a no-op.
	ClearActiveSession("session-b")
	if id, ok := ActiveSessionID(); !ok || id != "session-a" {
		t.Errorf("ActiveSessionID = %q, %v, want session-a, true", id, ok)
	}

	ClearActiveSession("session-a")
	if _, ok := ActiveSessionID(); ok {
		t.Error("ActiveSessionID ok = true after matching clear, want false")
	}

	SetActiveSession("session-c")
	ClearActiveSession("")
	if _, ok := ActiveSessionID(); ok {
		t.Error("ActiveSessionID ok = true after unconditional clear, want false")
	}
}
