// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package lucidic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-json-experiment/json"

	"github.com/lucidicai/lucidic-go/config"
	"github.com/lucidicai/lucidic-go/runctx"
	"github.com/lucidicai/lucidic-go/types"
)

// fakeBackend implements just enough of the platform API for end-to-end
// tests.
type fakeBackend struct {
	mu         sync.Mutex
	events     []map[string]any
	updates    []map[string]any
	sessionID  string
	promptHits int
	prompt     string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sessionID: "backend-session", prompt: "Hello {{name}}!"}
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/verifyapikey", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"project":"demo","project_id":"p-1"}`)
	})
	mux.HandleFunc("/initsession", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"session_id":%q}`, b.sessionID)
	})
	mux.HandleFunc("/continuesession", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"session_id":%q}`, b.sessionID)
	})
	mux.HandleFunc("/updatesession", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		b.mu.Lock()
		b.updates = append(b.updates, body)
		b.mu.Unlock()
		io.WriteString(w, `{}`)
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		b.mu.Lock()
		b.events = append(b.events, body)
		b.mu.Unlock()
		io.WriteString(w, `{}`)
	})
	mux.HandleFunc("/getprompt", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.promptHits++
		prompt := b.prompt
		b.mu.Unlock()
		resp, _ := json.Marshal(map[string]any{"prompt_content": prompt})
		w.Write(resp)
	})
	return mux
}

func decodeBody(r *http.Request) map[string]any {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	return body
}

func (b *fakeBackend) eventByID(id string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e["client_event_id"] == id {
			return e
		}
	}
	return nil
}

func (b *fakeBackend) eventCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *fakeBackend) lastUpdate() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.updates) == 0 {
		return nil
	}
	return b.updates[len(b.updates)-1]
}

func newTestSetup(t *testing.T, extra ...config.Option) (*Client, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	opts := append([]config.Option{
		config.WithAPIKey("test-key"),
		config.WithAgentID("test-agent"),
		config.WithBaseURL(srv.URL),
		config.WithSuppressErrors(false),
		config.WithQueueTuning(10*time.Millisecond, 100, 1000, 4),
	}, extra...)

	c, err := NewClient(opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() {
		c.Shutdown(2 * time.Second)
		runctx.ClearActiveSession("")
	})
	return c, backend
}

func TestSessionEventFlow(t *testing.T) {
	c, backend := newTestSetup(t)

	ctx, sessionID, err := c.CreateSession(context.Background(), types.SessionParams{
		Name: "support-agent",
		Task: "triage ticket",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if got, want := sessionID, "backend-session"; got != want {
		t.Errorf("session id = %q, want %q", got, want)
	}
	if id, _ := runctx.SessionID(ctx); id != sessionID {
		t.Errorf("context session = %q, want %q", id, sessionID)
	}

	eventID, err := c.CreateEvent(ctx, types.EventParams{Details: "checkpoint"})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	c.Flush(2 * time.Second)

	recorded := backend.eventByID(eventID)
	if recorded == nil {
		t.Fatal("event never reached the backend")
	}
	if got, want := recorded["session_id"], any(sessionID); got != want {
		t.Errorf("session_id = %v, want %v", got, want)
	}
	if got, want := recorded["type"], any("generic"); got != want {
		t.Errorf("type = %v, want %v", got, want)
	}
	if _, ok := recorded["current_time"]; !ok {
		t.Error("current_time missing from event body")
	}

	if err := c.EndSession(ctx, "", types.EndSessionParams{
		IsSuccessful: types.ToPtr(true),
	}); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	update := backend.lastUpdate()
	if update == nil {
		t.Fatal("no updatesession call recorded")
	}
	if got, want := update["is_finished"], any(true); got != want {
		t.Errorf("is_finished = %v, want %v", got, want)
	}
	if _, ok := runctx.ActiveSessionID(); ok {
		t.Error("active session still set after EndSession")
	}
}

func TestCreateEvent_AfterEndRejected(t *testing.T) {
	c, backend := newTestSetup(t)

	ctx, _, err := c.CreateSession(context.Background(), types.SessionParams{Name: "s"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := c.EndSession(ctx, "", types.EndSessionParams{}); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}

	before := backend.eventCount()
	id, err := c.CreateEvent(ctx, types.EventParams{Details: "late"})
	if !errors.Is(err, types.ErrSessionEnded) {
		t.Errorf("CreateEvent() error = %v, want ErrSessionEnded", err)
	}
	if id == "" {
		t.Error("CreateEvent returned empty id")
	}
	c.Flush(time.Second)
	if got := backend.eventCount(); got != before {
		t.Errorf("events after end = %d, want %d", got, before)
	}
}

func TestCreateEvent_NoSession(t *testing.T) {
	c, _ := newTestSetup(t)
	runctx.ClearActiveSession("")

	id, err := c.CreateEvent(context.Background(), types.EventParams{Details: "stray"})
	if !errors.Is(err, types.ErrNoActiveSession) {
		t.Errorf("CreateEvent() error = %v, want ErrNoActiveSession", err)
	}
	if id == "" {
		t.Error("CreateEvent returned empty id")
	}
}

func TestCreateEvent_DetachedContext(t *testing.T) {
	c, backend := newTestSetup(t)

	ctx, _, err := c.CreateSession(context.Background(), types.SessionParams{Name: "s"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	before := backend.eventCount()
	if _, err := c.CreateEvent(Detach(ctx), types.EventParams{Details: "isolated"}); !errors.Is(err, types.ErrNoActiveSession) {
		t.Errorf("CreateEvent(detached) error = %v, want ErrNoActiveSession", err)
	}
	c.Flush(time.Second)
	if got := backend.eventCount(); got != before {
		t.Errorf("events = %d, want %d (detached context must not attribute)", got, before)
	}
}

func TestMasking(t *testing.T) {
	c, backend := newTestSetup(t, config.WithMaskFunc(func(s string) string {
		return strings.ReplaceAll(s, "secret", "[REDACTED]")
	}))

	ctx, _, err := c.CreateSession(context.Background(), types.SessionParams{Name: "holds a secret"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	id, err := c.CreateEvent(ctx, types.EventParams{Details: "the secret plan"})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	c.Flush(2 * time.Second)

	recorded := backend.eventByID(id)
	if recorded == nil {
		t.Fatal("event never reached the backend")
	}
	payload := recorded["payload"].(map[string]any)
	if got, want := payload["details"], any("the [REDACTED] plan"); got != want {
		t.Errorf("details = %v, want %v", got, want)
	}
}

func TestMasking_PanicFallsBackToPlaceholder(t *testing.T) {
	c, backend := newTestSetup(t, config.WithMaskFunc(func(s string) string {
		panic("mask exploded")
	}))

	ctx, _, err := c.CreateSession(context.Background(), types.SessionParams{Name: "n"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	id, err := c.CreateEvent(ctx, types.EventParams{Details: "anything"})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	c.Flush(2 * time.Second)

	recorded := backend.eventByID(id)
	if recorded == nil {
		t.Fatal("event never reached the backend")
	}
	payload := recorded["payload"].(map[string]any)
	if got, want := payload["details"], any("<Error in masking function>"); got != want {
		t.Errorf("details = %v, want %v", got, want)
	}
}

func TestWithEvent_ParentChaining(t *testing.T) {
	c, backend := newTestSetup(t)

	ctx, _, err := c.CreateSession(context.Background(), types.SessionParams{Name: "s"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	var childID string
	result, err := withEvent(ctx, c, FunctionEventParams{
		Name:      "lookupOrder",
		Arguments: map[string]any{"order_id": "o-1"},
	}, func(ctx context.Context) (string, error) {
		childID, _ = c.CreateEvent(ctx, types.EventParams{Details: "nested"})
		return "shipped", nil
	})
	if err != nil {
		t.Fatalf("withEvent() error = %v", err)
	}
	if got, want := result, "shipped"; got != want {
		t.Errorf("result = %q, want %q", got, want)
	}
	c.Flush(2 * time.Second)

	child := backend.eventByID(childID)
	if child == nil {
		t.Fatal("nested event never reached the backend")
	}
	parentID, _ := child["client_parent_event_id"].(string)
	if parentID == "" {
		t.Fatal("nested event has no parent reference")
	}

	function := backend.eventByID(parentID)
	if function == nil {
		t.Fatal("function event never reached the backend")
	}
	if got, want := function["type"], any("function_call"); got != want {
		t.Errorf("function event type = %v, want %v", got, want)
	}
	payload := function["payload"].(map[string]any)
	if got, want := payload["function_name"], any("lookupOrder"); got != want {
		t.Errorf("function_name = %v, want %v", got, want)
	}
	if got, want := payload["return_value"], any("shipped"); got != want {
		t.Errorf("return_value = %v, want %v", got, want)
	}
}

func TestWithEvent_ErrorRecordsTraceback(t *testing.T) {
	c, backend := newTestSetup(t)

	ctx, _, err := c.CreateSession(context.Background(), types.SessionParams{Name: "s"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	boom := errors.New("downstream failed")
	_, err = withEvent(ctx, c, FunctionEventParams{Name: "fragile"}, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("withEvent() error = %v, want %v", err, boom)
	}
	c.Flush(2 * time.Second)

	var sawError bool
	backend.mu.Lock()
	for _, e := range backend.events {
		if e["type"] == "error_traceback" {
			payload := e["payload"].(map[string]any)
			if payload["error"] == "downstream failed" {
				sawError = true
			}
		}
	}
	backend.mu.Unlock()
	if !sawError {
		t.Error("no error_traceback event recorded for the failing function")
	}
}

func TestWithEvent_ArgumentsSnapshotted(t *testing.T) {
	c, backend := newTestSetup(t)

	ctx, _, err := c.CreateSession(context.Background(), types.SessionParams{Name: "s"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	args := map[string]any{"state": "initial"}
	_, err = withEvent(ctx, c, FunctionEventParams{Name: "mutator", Arguments: args}, func(ctx context.Context) (struct{}, error) {
		args["state"] = "mutated"
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("withEvent() error = %v", err)
	}
	c.Flush(2 * time.Second)

	var recorded map[string]any
	backend.mu.Lock()
	for _, e := range backend.events {
		if e["type"] == "function_call" {
			recorded = e
		}
	}
	backend.mu.Unlock()
	if recorded == nil {
		t.Fatal("function event never reached the backend")
	}
	payload := recorded["payload"].(map[string]any)
	snapshot := payload["arguments"].(map[string]any)
	if got, want := snapshot["state"], any("initial"); got != want {
		t.Errorf("arguments snapshot = %v, want %v (entry-time value)", got, want)
	}
}

func TestWithEvent_NoSessionRunsUntraced(t *testing.T) {
	c, backend := newTestSetup(t)
	runctx.ClearActiveSession("")

	before := backend.eventCount()
	result, err := withEvent(context.Background(), c, FunctionEventParams{Name: "plain"}, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || result != 42 {
		t.Fatalf("withEvent() = %d, %v, want 42, nil", result, err)
	}
	c.Flush(time.Second)
	if got := backend.eventCount(); got != before {
		t.Errorf("events = %d, want %d (no session means no tracing)", got, before)
	}
}

func TestGetPrompt(t *testing.T) {
	c, backend := newTestSetup(t)

	got, err := c.GetPrompt(context.Background(), PromptParams{
		Name:      "greeting",
		Variables: map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("GetPrompt() error = %v", err)
	}
	if want := "Hello Ada!"; got != want {
		t.Errorf("GetPrompt() = %q, want %q", got, want)
	}

	// The second fetch is served from cache.
	if _, err := c.GetPrompt(context.Background(), PromptParams{
		Name:      "greeting",
		Variables: map[string]any{"name": "Grace"},
	}); err != nil {
		t.Fatalf("GetPrompt() error = %v", err)
	}
	backend.mu.Lock()
	hits := backend.promptHits
	backend.mu.Unlock()
	if hits != 1 {
		t.Errorf("backend prompt fetches = %d, want 1 (cached)", hits)
	}
}

func TestGetPrompt_MissingVariable(t *testing.T) {
	c, _ := newTestSetup(t)

	_, err := c.GetPrompt(context.Background(), PromptParams{Name: "greeting"})
	if err == nil || !strings.Contains(err.Error(), "name") {
		t.Errorf("GetPrompt() error = %v, want missing-variable error naming %q", err, "name")
	}
}

func TestGetPrompt_CacheBypass(t *testing.T) {
	c, backend := newTestSetup(t)

	for i := 0; i < 2; i++ {
		if _, err := c.GetPrompt(context.Background(), PromptParams{
			Name:      "greeting",
			Variables: map[string]any{"name": "Ada"},
			CacheTTL:  -1,
		}); err != nil {
			t.Fatalf("GetPrompt() error = %v", err)
		}
	}
	backend.mu.Lock()
	hits := backend.promptHits
	backend.mu.Unlock()
	if hits != 2 {
		t.Errorf("backend prompt fetches = %d, want 2 (cache bypassed)", hits)
	}
}

func TestSubstituteVariables(t *testing.T) {
	tests := []struct {
		name    string
		content string
		vars    map[string]any
		want    string
		wantErr bool
	}{
		{
			name:    "no placeholders",
			content: "plain text",
			want:    "plain text",
		},
		{
			name:    "simple substitution",
			content: "Hi {{name}}, order {{id}}",
			vars:    map[string]any{"name": "Ada", "id": 7},
			want:    "Hi Ada, order 7",
		},
		{
			name:    "whitespace inside braces",
			content: "Hi {{ name }}",
			vars:    map[string]any{"name": "Ada"},
			want:    "Hi Ada",
		},
		{
			name:    "missing variable",
			content: "Hi {{name}}",
			wantErr: true,
		},
		{
			name:    "unterminated marker passes through",
			content: "Hi {{name",
			want:    "Hi {{name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := substituteVariables(tt.content, tt.vars)
			if tt.wantErr {
				if err == nil {
					t.Fatal("error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreateErrorEvent(t *testing.T) {
	c, backend := newTestSetup(t)

	ctx, _, err := c.CreateSession(context.Background(), types.SessionParams{Name: "s"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	id, err := c.CreateErrorEvent(ctx, errors.New("kaboom"), types.EventParams{})
	if err != nil {
		t.Fatalf("CreateErrorEvent() error = %v", err)
	}
	c.Flush(2 * time.Second)

	recorded := backend.eventByID(id)
	if recorded == nil {
		t.Fatal("error event never reached the backend")
	}
	if got, want := recorded["type"], any("error_traceback"); got != want {
		t.Errorf("type = %v, want %v", got, want)
	}
	payload := recorded["payload"].(map[string]any)
	if got, want := payload["error"], any("kaboom"); got != want {
		t.Errorf("error = %v, want %v", got, want)
	}
	traceback, _ := payload["traceback"].(string)
	if !strings.Contains(traceback, "goroutine") {
		t.Error("traceback does not look like a stack trace")
	}
}

func TestShutdown_EndsLiveAutoEndSessions(t *testing.T) {
	c, backend := newTestSetup(t)

	_, _, err := c.CreateSession(context.Background(), types.SessionParams{Name: "s"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	// No explicit EndSession: a bare deferred Shutdown must finalize the
	// session the same way a delivered signal would.
	c.Shutdown(5 * time.Second)

	update := backend.lastUpdate()
	if update == nil {
		t.Fatal("no updatesession call recorded")
	}
	if got, want := update["is_finished"], any(true); got != want {
		t.Errorf("is_finished = %v, want %v", got, want)
	}
	if got, want := update["is_successful"], any(false); got != want {
		t.Errorf("is_successful = %v, want %v", got, want)
	}
	if got, want := update["is_successful_reason"], any("Process shutdown"); got != want {
		t.Errorf("is_successful_reason = %v, want %v", got, want)
	}
}

func TestShutdown_RespectsAutoEndOptOut(t *testing.T) {
	c, backend := newTestSetup(t)

	_, _, err := c.CreateSession(context.Background(), types.SessionParams{
		Name:    "s",
		AutoEnd: types.ToPtr(false),
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	c.Shutdown(5 * time.Second)

	if update := backend.lastUpdate(); update != nil {
		t.Errorf("updatesession issued for an auto-end opt-out session: %v", update)
	}
}

func TestShutdown_NoDoubleEndAfterExplicitEnd(t *testing.T) {
	c, backend := newTestSetup(t)

	ctx, _, err := c.CreateSession(context.Background(), types.SessionParams{Name: "s"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := c.EndSession(ctx, "", types.EndSessionParams{IsSuccessful: types.ToPtr(true)}); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	c.Shutdown(5 * time.Second)

	backend.mu.Lock()
	updates := len(backend.updates)
	backend.mu.Unlock()
	if updates != 1 {
		t.Errorf("updatesession calls = %d, want 1 (explicit end only)", updates)
	}
}

func TestSuppression_SwallowsHotPathErrors(t *testing.T) {
	c, _ := newTestSetup(t, config.WithSuppressErrors(true))
	runctx.ClearActiveSession("")

	id, err := c.CreateEvent(context.Background(), types.EventParams{Details: "stray"})
	if err != nil {
		t.Errorf("CreateEvent() error = %v, want nil under suppression", err)
	}
	if id == "" {
		t.Error("CreateEvent returned empty id")
	}
}

func TestInit_InvalidConfigNeverSuppressed(t *testing.T) {
	t.Setenv("LUCIDIC_API_KEY", "")
	t.Setenv("LUCIDIC_AGENT_ID", "")

	_, err := NewClient(config.WithSuppressErrors(true))
	var cfgErr *types.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("NewClient() error = %v, want *types.ConfigError", err)
	}
}
