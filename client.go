// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package lucidic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lucidicai/lucidic-go/config"
	"github.com/lucidicai/lucidic-go/pkg/logging"
	"github.com/lucidicai/lucidic-go/queue"
	"github.com/lucidicai/lucidic-go/runctx"
	"github.com/lucidicai/lucidic-go/session"
	"github.com/lucidicai/lucidic-go/shutdown"
	"github.com/lucidicai/lucidic-go/transport"
	"github.com/lucidicai/lucidic-go/types"

	eventbuilder "github.com/lucidicai/lucidic-go/event"
)

// endSessionFlushDeadline bounds the queue drain before an explicit
// session end.
const endSessionFlushDeadline = 5 * time.Second

// Client is the SDK runtime: one owned instance wiring the transport, the
// event queue, the session manager, and the shutdown coordinator together.
// Most programs use the package-level functions, which operate on the
// client installed by [Init]; independent instances exist for tests and
// multi-tenant embedders.
type Client struct {
	cfg         *config.Config
	logger      *slog.Logger
	transport   *transport.Client
	sessions    *session.Manager
	queue       *queue.Queue
	coordinator *shutdown.Coordinator

	prompts promptCache

	// degraded is set when credentials were rejected but error suppression
	// is on: the SDK keeps returning ids while every operation is a no-op.
	degraded atomic.Bool
	closed   atomic.Bool
}

// NewClient builds a client from caller options merged over LUCIDIC_*
// environment variables. Configuration errors are never suppressed. A
// credential rejection is returned unless error suppression is on, in
// which case the client degrades to a no-op that still returns ids.
func NewClient(opts ...config.Option) (*Client, error) {
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.Debug, cfg.Verbose)
	tr := transport.New(cfg, Version, logger)

	mgr, err := session.NewManager(cfg, tr, logger)
	if err != nil {
		tr.Close()
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		logger:      logger,
		transport:   tr,
		sessions:    mgr,
		queue:       queue.New(cfg, tr, logger, nil),
		coordinator: shutdown.New(),
	}
	c.coordinator.SetLogger(logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if _, err := tr.VerifyAPIKey(ctx); err != nil {
		if !cfg.SuppressErrors {
			c.Shutdown(time.Second)
			return nil, err
		}
		logger.Error("credential check failed, SDK degraded to no-op", slog.Any("error", err))
		c.degraded.Store(true)
	}

	return c, nil
}

// Config returns the resolved configuration.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// CreateSession registers a session with the backend, binds it to the
// returned context, sets it as the process-wide active session, and
// registers it with the shutdown coordinator. The returned id is the
// backend-assigned one, which may differ from a proposed candidate.
func (c *Client) CreateSession(ctx context.Context, p types.SessionParams) (context.Context, string, error) {
	p.Name = c.mask(p.Name)
	p.Task = c.mask(p.Task)

	if c.degraded.Load() {
		id := uuid.NewString()
		c.logger.Debug("SDK degraded, returning placeholder session id", slog.String("session_id", id))
		return runctx.WithSession(ctx, id), id, nil
	}

	id, err := c.sessions.Create(ctx, p)
	if err != nil {
		var cfgErr *types.ConfigError
		if errors.As(err, &cfgErr) || !c.cfg.SuppressErrors {
			return ctx, "", err
		}
		var authErr *types.AuthError
		if errors.As(err, &authErr) {
			c.degraded.Store(true)
		}
		id = uuid.NewString()
		c.logger.Error("session creation failed, returning placeholder id",
			slog.String("session_id", id),
			slog.Any("error", err),
		)
		return runctx.WithSession(ctx, id), id, nil
	}

	runctx.SetActiveSession(id)
	c.coordinator.Register(id, shutdown.Handle{
		Queue:    c.queue,
		Sessions: c.sessions,
		AutoEnd:  types.Deref(p.AutoEnd, c.cfg.AutoEnd),
	})
	return runctx.WithSession(ctx, id), id, nil
}

// ContinueSession resumes an existing backend session and binds it like
// CreateSession does.
func (c *Client) ContinueSession(ctx context.Context, sessionID string) (context.Context, string, error) {
	if c.degraded.Load() {
		return runctx.WithSession(ctx, sessionID), sessionID, nil
	}
	id, err := c.sessions.Continue(ctx, sessionID)
	if err != nil {
		return ctx, "", err
	}
	runctx.SetActiveSession(id)
	c.coordinator.Register(id, shutdown.Handle{
		Queue:    c.queue,
		Sessions: c.sessions,
		AutoEnd:  c.cfg.AutoEnd,
	})
	return runctx.WithSession(ctx, id), id, nil
}

// UpdateSession applies non-final attributes to the ambient or explicit
// session.
func (c *Client) UpdateSession(ctx context.Context, sessionID string, p types.UpdateSessionParams) error {
	id := c.resolveSession(ctx, sessionID)
	if id == "" {
		return types.ErrNoActiveSession
	}
	p.EvalReason = c.mask(p.EvalReason)
	return c.sessions.Update(ctx, id, p)
}

// EndSession flushes pending events and finalizes the ambient or explicit
// session. After it returns the session accepts no further events.
func (c *Client) EndSession(ctx context.Context, sessionID string, p types.EndSessionParams) error {
	id := c.resolveSession(ctx, sessionID)
	if id == "" {
		return types.ErrNoActiveSession
	}
	if c.degraded.Load() {
		runctx.ClearActiveSession(id)
		return nil
	}

	p.Reason = c.mask(p.Reason)
	p.EvalReason = c.mask(p.EvalReason)

	c.queue.ForceFlush(endSessionFlushDeadline)
	err := c.sessions.End(ctx, id, p)
	runctx.ClearActiveSession(id)
	c.coordinator.Unregister(id)
	return err
}

// CreateEvent builds an event, resolves its session and parent from the
// context, enqueues it, and returns the client event id immediately. With
// error suppression on it never returns an error: internal failures are
// logged and a well-formed id is returned regardless.
func (c *Client) CreateEvent(ctx context.Context, p types.EventParams) (string, error) {
	if p.ClientEventID == "" {
		p.ClientEventID = uuid.NewString()
	}

	if c.closed.Load() || c.degraded.Load() {
		return p.ClientEventID, nil
	}

	p = c.maskEventFields(p)

	sessionID, parentID := c.resolveEventRouting(ctx, p)
	if sessionID == "" {
		c.logger.Warn("no active session, event not recorded",
			slog.String("client_event_id", p.ClientEventID),
		)
		return p.ClientEventID, c.suppress(types.ErrNoActiveSession)
	}
	if c.sessions.Ended(sessionID) {
		c.logger.Warn("session already ended, event not recorded",
			slog.String("session_id", sessionID),
			slog.String("client_event_id", p.ClientEventID),
		)
		return p.ClientEventID, c.suppress(types.ErrSessionEnded)
	}
	p.SessionID = sessionID
	p.ParentEventID = parentID

	req, err := eventbuilder.Build(p)
	if err != nil {
		c.logger.Error("failed to build event", slog.Any("error", err))
		return p.ClientEventID, c.suppress(fmt.Errorf("build event: %w", err))
	}

	c.queue.Enqueue(req)
	return req.ClientEventID, nil
}

// CreateErrorEvent records err as an error_traceback event, capturing the
// current stack trace when none is supplied.
func (c *Client) CreateErrorEvent(ctx context.Context, err error, p types.EventParams) (string, error) {
	p.Type = types.EventTypeErrorTraceback
	if p.Error == "" && err != nil {
		p.Error = err.Error()
	}
	if p.Traceback == "" {
		p.Traceback = string(debug.Stack())
	}
	return c.CreateEvent(ctx, p)
}

// Flush drains the queue within the given deadline. Best effort; never
// returns an error.
func (c *Client) Flush(timeout time.Duration) {
	c.queue.ForceFlush(timeout)
}

// Shutdown stops the pipeline: live auto-end sessions are flushed and
// ended through the coordinator, the queue is drained and joined, then
// the transport's pooled connections are released. After Shutdown returns
// the client issues no further HTTP requests. Programs that exit without
// ending their sessions get the same wind-down from a deferred Shutdown
// that a delivered signal would produce.
func (c *Client) Shutdown(timeout time.Duration) {
	if c.closed.Swap(true) {
		return
	}
	// Sessions must be ended while the transport is still usable.
	c.coordinator.Trigger("client shutdown")
	c.queue.Shutdown(timeout)
	c.transport.Close()
}

// resolveSession picks the explicit id when given (translating candidate
// ids), otherwise the ambient binding.
func (c *Client) resolveSession(ctx context.Context, explicit string) string {
	if explicit != "" {
		return c.sessions.Resolve(explicit)
	}
	id, _ := runctx.Resolve(ctx)
	return id
}

func (c *Client) resolveEventRouting(ctx context.Context, p types.EventParams) (sessionID, parentID string) {
	sessionID, parentID = runctx.Resolve(ctx)
	if p.SessionID != "" {
		sessionID = c.sessions.Resolve(p.SessionID)
	}
	if p.ParentEventID != "" {
		parentID = p.ParentEventID
	}
	return sessionID, parentID
}

// suppress converts err to nil when error suppression is configured.
func (c *Client) suppress(err error) error {
	if c.cfg.SuppressErrors {
		return nil
	}
	return err
}

// mask runs the configured redactor over a user-visible text field. A
// panicking redactor is replaced with a placeholder so user hooks can
// never break the pipeline.
func (c *Client) mask(text string) (masked string) {
	if c.cfg.MaskFunc == nil || text == "" {
		return text
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("masking function panicked", slog.Any("panic", r))
			masked = "<Error in masking function>"
		}
	}()
	return c.cfg.MaskFunc(text)
}

func (c *Client) maskEventFields(p types.EventParams) types.EventParams {
	p.Details = c.mask(p.Details)
	p.Description = c.mask(p.Description)
	p.Error = c.mask(p.Error)
	if s, ok := p.Output.(string); ok {
		p.Output = c.mask(s)
	}
	if s, ok := p.ReturnValue.(string); ok {
		p.ReturnValue = c.mask(s)
	}
	return p
}
