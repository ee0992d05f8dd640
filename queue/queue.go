// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lucidicai/lucidic-go/config"
	"github.com/lucidicai/lucidic-go/types"
)

const (
	// enqueueWait bounds how long a producer blocks when the queue is full.
	enqueueWait = time.Millisecond

	// flushPollInterval is the ForceFlush polling period (~20 Hz).
	flushPollInterval = 50 * time.Millisecond

	// flushStallLimit is how many unchanged polls make ForceFlush give up.
	flushStallLimit = 10

	// maxDefers bounds how often an event waits for its parent before it is
	// shipped with the dangling reference.
	maxDefers = 5

	// maxSendAttempts is the in-place attempt count per dispatch.
	maxSendAttempts = 3

	// maxRequeues caps RetryCount for re-enqueued failed events.
	maxRequeues = 3

	// sendBackoff is the initial in-place retry delay, doubled per attempt.
	sendBackoff = 250 * time.Millisecond
)

// Sender transmits a single event envelope and uploads offloaded payloads.
// *transport.Client satisfies it.
type Sender interface {
	PostEvent(ctx context.Context, req *types.EventRequest) (*types.EventResponse, error)
	UploadBlob(ctx context.Context, blobURL string, gzipped []byte) error
}

// Queue is the bounded, non-blocking event pipeline: producers enqueue
// fully-built event requests, a coordinator goroutine assembles batches,
// and a worker pool dispatches each batch in parallel while preserving
// parent-before-child order.
type Queue struct {
	cfg    *config.Config
	sender Sender
	logger *slog.Logger
	clock  clockwork.Clock

	items   chan *types.EventRequest
	flushCh chan struct{}
	stop    chan struct{}
	done    chan struct{}
	closed  atomic.Bool

	// sent holds client ids of successfully delivered events. Workers add
	// after a successful dispatch; the coordinator reads it to seed
	// dependency grouping. It also dedups explicit caller-supplied ids.
	sentMu sync.Mutex
	sent   map[string]struct{}

	// deferred holds events whose parent was not yet delivered. They are
	// prepended to the next batch.
	deferredMu sync.Mutex
	deferred   []*types.EventRequest

	// inflight counts events drained off the channel but not yet
	// dispatched or parked in deferred, so a batch mid-assembly is never
	// invisible to IsEmpty.
	inflight atomic.Int64
}

// New creates the queue and starts its coordinator goroutine. A nil clock
// means the real clock.
func New(cfg *config.Config, sender Sender, logger *slog.Logger, clock clockwork.Clock) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	q := &Queue{
		cfg:     cfg,
		sender:  sender,
		logger:  logger,
		clock:   clock,
		items:   make(chan *types.EventRequest, cfg.MaxQueueSize),
		flushCh: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		sent:    make(map[string]struct{}),
	}
	go q.run()
	return q
}

// Enqueue accepts an event for background dispatch. It returns immediately:
// the put is bounded by a ~1 ms attempt, and on overflow the configured
// policy decides which item is dropped (the incoming one by default). Never
// blocks the producer beyond that bound, never returns an error.
func (q *Queue) Enqueue(req *types.EventRequest) {
	if req == nil || q.closed.Load() {
		return
	}
	select {
	case q.items <- req:
	default:
		timer := q.clock.NewTimer(enqueueWait)
		defer timer.Stop()
		select {
		case q.items <- req:
		case <-timer.Chan():
			if !q.admitOverflow(req) {
				return
			}
		}
	}
	if len(q.items) >= q.cfg.FlushAt {
		q.signalFlush()
	}
}

// admitOverflow applies the overflow policy. It reports whether req was
// admitted.
func (q *Queue) admitOverflow(req *types.EventRequest) bool {
	if q.cfg.OverflowPolicy == config.DropOldest {
		select {
		case old := <-q.items:
			q.logger.Debug("queue full, dropped oldest event",
				slog.String("client_event_id", old.ClientEventID),
			)
		default:
		}
		select {
		case q.items <- req:
			return true
		default:
		}
	}
	q.logger.Debug("queue full, dropping event",
		slog.String("client_event_id", req.ClientEventID),
		slog.Int("max_queue_size", q.cfg.MaxQueueSize),
	)
	return false
}

// ForceFlush signals the coordinator and polls until the queue, the
// deferred list, and the in-flight counter are all empty, or the deadline
// elapses, or the observed queue size stops changing for ~0.5 s. It never
// returns an error.
func (q *Queue) ForceFlush(timeout time.Duration) {
	deadline := q.clock.Now().Add(timeout)
	q.signalFlush()

	lastSize := -1
	stall := 0
	emptyStreak := 0
	for q.clock.Now().Before(deadline) {
		if q.IsEmpty() {
			emptyStreak++
			if emptyStreak >= 2 {
				return
			}
		} else {
			emptyStreak = 0
			size := len(q.items)
			if size == lastSize && size > 0 {
				stall++
				if stall >= flushStallLimit {
					q.logger.Debug("flush made no progress, returning early",
						slog.Int("remaining", size),
					)
					return
				}
			} else {
				stall = 0
				lastSize = size
			}
		}
		q.signalFlush()
		q.clock.Sleep(flushPollInterval)
	}
}

// IsEmpty reports whether nothing is pending, deferred, or in flight.
func (q *Queue) IsEmpty() bool {
	if len(q.items) != 0 || q.inflight.Load() != 0 {
		return false
	}
	q.deferredMu.Lock()
	defer q.deferredMu.Unlock()
	return len(q.deferred) == 0
}

// Shutdown flushes, stops the coordinator, and joins it. A coordinator that
// refuses to terminate within the deadline is reported at debug. Safe to
// call more than once; never returns an error.
func (q *Queue) Shutdown(timeout time.Duration) {
	if q.closed.Swap(true) {
		return
	}
	q.ForceFlush(timeout)

	waitDeadline := q.clock.Now().Add(2 * time.Second)
	for !q.IsEmpty() && q.clock.Now().Before(waitDeadline) {
		q.clock.Sleep(10 * time.Millisecond)
	}

	close(q.stop)
	select {
	case <-q.done:
	case <-q.clock.After(timeout):
		q.logger.Debug("queue coordinator did not terminate in time")
	}
}

// signalFlush is edge-triggered: a flush already pending is not doubled.
func (q *Queue) signalFlush() {
	select {
	case q.flushCh <- struct{}{}:
	default:
	}
}

// run is the coordinator loop: collect a batch, dispatch it, repeat until
// stopped. Deferred events left over at stop are drained through bounded
// final passes (defer counts guarantee termination).
func (q *Queue) run() {
	defer close(q.done)
	for {
		batch, stopped := q.collect()
		if len(batch) > 0 || q.deferredLen() > 0 {
			q.dispatchBatch(batch)
		}
		if stopped {
			for q.deferredLen() > 0 {
				q.dispatchBatch(nil)
			}
			return
		}
	}
}

// collect assembles one batch: it returns when the flush-at count is
// reached, the flush interval elapses, a flush is signalled (draining the
// whole queue), or stop is observed (draining as well). Every item drained
// is counted into inflight immediately.
func (q *Queue) collect() (batch []*types.EventRequest, stopped bool) {
	timer := q.clock.NewTimer(q.cfg.FlushInterval)
	defer timer.Stop()
	for {
		select {
		case it := <-q.items:
			q.inflight.Add(1)
			batch = append(batch, it)
			if len(batch) >= q.cfg.FlushAt {
				return batch, false
			}
		case <-q.flushCh:
			return append(batch, q.drainPending()...), false
		case <-timer.Chan():
			return batch, false
		case <-q.stop:
			return append(batch, q.drainPending()...), true
		}
	}
}

// drainPending empties the channel without blocking, counting each item
// into inflight.
func (q *Queue) drainPending() []*types.EventRequest {
	var items []*types.EventRequest
	for {
		select {
		case it := <-q.items:
			q.inflight.Add(1)
			items = append(items, it)
		default:
			return items
		}
	}
}

func (q *Queue) markSent(id string) {
	if id == "" {
		return
	}
	q.sentMu.Lock()
	q.sent[id] = struct{}{}
	q.sentMu.Unlock()
}

func (q *Queue) isSent(id string) bool {
	q.sentMu.Lock()
	defer q.sentMu.Unlock()
	_, ok := q.sent[id]
	return ok
}

// snapshotSent copies the delivered-id set for dependency grouping.
func (q *Queue) snapshotSent() map[string]struct{} {
	q.sentMu.Lock()
	defer q.sentMu.Unlock()
	cp := make(map[string]struct{}, len(q.sent))
	for id := range q.sent {
		cp[id] = struct{}{}
	}
	return cp
}

func (q *Queue) pushDeferred(req *types.EventRequest) {
	q.deferredMu.Lock()
	q.deferred = append(q.deferred, req)
	q.deferredMu.Unlock()
}

func (q *Queue) takeDeferred() []*types.EventRequest {
	q.deferredMu.Lock()
	defer q.deferredMu.Unlock()
	taken := q.deferred
	q.deferred = nil
	return taken
}

func (q *Queue) deferredLen() int {
	q.deferredMu.Lock()
	defer q.deferredMu.Unlock()
	return len(q.deferred)
}
