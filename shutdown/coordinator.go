// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lucidicai/lucidic-go/types"
)

const (
	// flushDeadline bounds the queue flush of each session being ended.
	flushDeadline = 5 * time.Second

	// totalDeadline bounds the whole coordinated shutdown.
	totalDeadline = 10 * time.Second

	// shutdownReason is reported to the backend for auto-ended sessions.
	shutdownReason = "Process shutdown"
)

// Flusher is the queue surface the coordinator drives.
type Flusher interface {
	ForceFlush(timeout time.Duration)
}

// Ender finalizes a session against the backend.
type Ender interface {
	End(ctx context.Context, sessionID string, p types.EndSessionParams) error
}

// Handle bundles what the coordinator needs to wind down one session.
type Handle struct {
	Queue    Flusher
	Sessions Ender
	AutoEnd  bool
}

type handleState struct {
	Handle
	shuttingDown bool
}

// Coordinator winds down a client's live sessions at process exit. It
// installs signal handlers at most once, the first time a session is
// registered, and on trigger flushes and ends every live auto-end session
// from a dedicated goroutine so the triggering context cannot deadlock it.
// Shutdown never panics; every failure is logged at debug.
type Coordinator struct {
	logger atomic.Pointer[slog.Logger]

	mu       sync.Mutex
	sessions map[string]*handleState

	installOnce  sync.Once
	shuttingDown atomic.Bool
	complete     chan struct{}
	sigCh        chan os.Signal
}

// New creates a coordinator. Each client owns one; Trigger fires both on
// delivered signals and on an explicit client shutdown.
func New() *Coordinator {
	return newCoordinator()
}

func newCoordinator() *Coordinator {
	c := &Coordinator{
		sessions: make(map[string]*handleState),
		complete: make(chan struct{}),
	}
	c.logger.Store(slog.Default())
	return c
}

// SetLogger replaces the coordinator's logger.
func (c *Coordinator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger.Store(logger)
	}
}

func (c *Coordinator) log() *slog.Logger {
	return c.logger.Load()
}

// Register adds a live session. Registering an already-registered session
// id is a no-op. The first registration installs the process listeners.
func (c *Coordinator) Register(sessionID string, h Handle) {
	c.mu.Lock()
	if _, ok := c.sessions[sessionID]; !ok {
		c.sessions[sessionID] = &handleState{Handle: h}
		c.log().Debug("registered session for shutdown", slog.String("session_id", sessionID))
	}
	c.mu.Unlock()

	c.installOnce.Do(c.installListeners)
}

// Unregister removes a session after it ends.
func (c *Coordinator) Unregister(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// ActiveSessions returns the number of registered sessions.
func (c *Coordinator) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// installListeners hooks interruption and termination signals. After the
// coordinated shutdown the signal is re-raised with the default disposition
// so the process exits with the conventional status.
func (c *Coordinator) installListeners() {
	c.sigCh = make(chan os.Signal, 1)
	signal.Notify(c.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-c.sigCh
		if !ok {
			return
		}
		c.log().Info("received signal, shutting down", slog.String("signal", sig.String()))
		c.Trigger("signal " + sig.String())
		signal.Stop(c.sigCh)
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			_ = p.Signal(sig)
		}
	}()
}

// Trigger starts the coordinated shutdown once; later calls return
// immediately. It blocks until every auto-end session has been flushed and
// ended or the total deadline elapses.
func (c *Coordinator) Trigger(reason string) {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		c.log().Debug("already shutting down", slog.String("trigger", reason))
		return
	}
	c.log().Debug("shutdown initiated",
		slog.String("trigger", reason),
		slog.Int("sessions", c.ActiveSessions()),
	)

	// A dedicated goroutine avoids deadlocks with whatever context fired
	// the trigger (a signal handler, a deferred main exit, a test).
	go c.perform()

	select {
	case <-c.complete:
	case <-time.After(totalDeadline):
		c.log().Debug("shutdown deadline exceeded")
	}
}

func (c *Coordinator) perform() {
	defer close(c.complete)

	c.mu.Lock()
	var pending []string
	for id, state := range c.sessions {
		if state.AutoEnd && !state.shuttingDown {
			state.shuttingDown = true
			pending = append(pending, id)
		}
	}
	c.mu.Unlock()

	for _, id := range pending {
		c.endOne(id)
	}
	c.log().Debug("shutdown complete")
}

func (c *Coordinator) endOne(sessionID string) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Debug("panic while ending session",
				slog.String("session_id", sessionID),
				slog.Any("panic", r),
			)
		}
	}()

	c.mu.Lock()
	state, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}

	if state.Queue != nil {
		state.Queue.ForceFlush(flushDeadline)
	}
	if state.Sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flushDeadline)
		err := state.Sessions.End(ctx, sessionID, types.EndSessionParams{
			IsSuccessful: types.ToPtr(false),
			Reason:       shutdownReason,
		})
		cancel()
		if err != nil {
			c.log().Debug("failed to end session during shutdown",
				slog.String("session_id", sessionID),
				slog.Any("error", err),
			)
		}
	}
	c.Unregister(sessionID)
}
