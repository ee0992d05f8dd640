// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"

	"github.com/lucidicai/lucidic-go/internal/pool"
	"github.com/lucidicai/lucidic-go/types"
)

// sendResult classifies the outcome of a single dispatch attempt.
type sendResult int

const (
	sendDelivered sendResult = iota
	sendDeferred
	sendFailed
)

// dispatchBatch ships one batch: deferred events from prior batches are
// prepended, the batch is partitioned into dependency groups, and each
// group is dispatched concurrently through the worker pool. Failed events
// are re-enqueued when the retry-failed policy is on.
func (q *Queue) dispatchBatch(batch []*types.EventRequest) {
	// Items from the channel were counted into inflight by collect; items
	// leaving the deferred list are counted here.
	carried := q.takeDeferred()
	q.inflight.Add(int64(len(carried)))
	batch = append(carried, batch...)
	if len(batch) == 0 {
		return
	}
	defer q.inflight.Add(int64(-len(batch)))

	groups := q.groupByDependencies(batch)
	q.logger.Debug("dispatching batch",
		slog.Int("events", len(batch)),
		slog.Int("groups", len(groups)),
	)

	var (
		failedMu sync.Mutex
		failed   []*types.EventRequest
	)
	for _, group := range groups {
		g := new(errgroup.Group)
		g.SetLimit(q.cfg.Workers)
		for _, req := range group {
			req := req
			g.Go(func() error {
				if q.sendEvent(context.Background(), req) == sendFailed {
					failedMu.Lock()
					failed = append(failed, req)
					failedMu.Unlock()
				}
				return nil
			})
		}
		// Children in the next group must not start before every dispatch
		// in this group has finished.
		_ = g.Wait()
	}

	if len(failed) > 0 && q.cfg.RetryFailed {
		q.requeueFailed(failed)
	}
}

// groupByDependencies partitions a batch into ordered groups: a group only
// contains events whose parent is absent, already delivered, or placed in
// an earlier group. If a pass makes no progress while items remain
// (orphaned or cyclic parent references), the remainder ships as one final
// group rather than blocking.
func (q *Queue) groupByDependencies(batch []*types.EventRequest) [][]*types.EventRequest {
	processed := q.snapshotSent()
	var groups [][]*types.EventRequest
	remaining := batch

	for len(remaining) > 0 {
		var group, next []*types.EventRequest
		for _, req := range remaining {
			pid := req.ClientParentEventID
			if pid == "" {
				group = append(group, req)
				processed[req.ClientEventID] = struct{}{}
				continue
			}
			if _, ok := processed[pid]; ok {
				group = append(group, req)
				processed[req.ClientEventID] = struct{}{}
				continue
			}
			next = append(next, req)
		}
		if len(group) == 0 {
			q.logger.Warn("events with unresolved parent references, sending as final group",
				slog.Int("count", len(remaining)),
			)
			groups = append(groups, remaining)
			break
		}
		groups = append(groups, group)
		remaining = next
	}
	return groups
}

// sendEvent dispatches a single event.
//
// An event whose parent has not been delivered is deferred (bounded by
// maxDefers) instead of sent. Otherwise the payload is serialized compactly;
// payloads strictly larger than the blob threshold are replaced with a
// preview, POSTed with needs_blob set, and the full payload is gzip-uploaded
// to the presigned URL from the response before the dispatch counts as
// successful. Each dispatch gets up to maxSendAttempts in-place attempts
// with doubling backoff.
func (q *Queue) sendEvent(ctx context.Context, req *types.EventRequest) sendResult {
	if pid := req.ClientParentEventID; pid != "" && !q.isSent(pid) && req.DeferCount < maxDefers {
		req.DeferCount++
		q.pushDeferred(req)
		return sendDeferred
	}

	// Delivered-id set doubles as dedup for caller-supplied ids.
	if q.isSent(req.ClientEventID) {
		return sendDelivered
	}

	backoff := sendBackoff
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		err := q.sendOnce(ctx, req)
		if err == nil {
			q.markSent(req.ClientEventID)
			return sendDelivered
		}
		q.logger.Debug("event send attempt failed",
			slog.String("client_event_id", req.ClientEventID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if attempt == maxSendAttempts {
			break
		}
		select {
		case <-q.stop:
			return sendFailed
		case <-q.clock.After(backoff):
		}
		backoff *= 2
	}
	return sendFailed
}

// sendOnce performs one POST (and the blob upload when offloading).
func (q *Queue) sendOnce(ctx context.Context, req *types.EventRequest) error {
	raw, err := sonic.ConfigStd.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("serialize payload: %w", err)
	}

	offload := len(raw) > q.cfg.BlobThreshold
	envelope := *req
	if offload {
		envelope.NeedsBlob = true
		envelope.Payload = Preview(req.Type, req.Payload)
	}

	resp, err := q.sender.PostEvent(ctx, &envelope)
	if err != nil {
		return err
	}

	if offload {
		if resp.BlobURL == "" {
			return fmt.Errorf("no blob_url in response for oversized payload (%d bytes)", len(raw))
		}
		gzipped, err := gzipBytes(raw)
		if err != nil {
			return fmt.Errorf("compress payload: %w", err)
		}
		if err := q.sender.UploadBlob(ctx, resp.BlobURL, gzipped); err != nil {
			return fmt.Errorf("upload blob: %w", err)
		}
	}
	return nil
}

// requeueFailed puts terminally failed events back on the queue, capped at
// maxRequeues round trips per event.
func (q *Queue) requeueFailed(failed []*types.EventRequest) {
	for _, req := range failed {
		req.RetryCount++
		if req.RetryCount > maxRequeues {
			q.logger.Error("dropping event after exhausting retries",
				slog.String("client_event_id", req.ClientEventID),
			)
			continue
		}
		select {
		case q.items <- req:
		default:
			q.logger.Debug("queue full, cannot requeue failed event",
				slog.String("client_event_id", req.ClientEventID),
			)
		}
	}
}

func gzipBytes(raw []byte) ([]byte, error) {
	buf := pool.Buffer.Get()
	defer func() {
		buf.Reset()
		pool.Buffer.Put(buf)
	}()

	zw := pool.GzipWriter.Get()
	defer pool.GzipWriter.Put(zw)
	zw.Reset(buf)

	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}
