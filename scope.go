// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package lucidic

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"

	"github.com/lucidicai/lucidic-go/runctx"
	"github.com/lucidicai/lucidic-go/types"
)

// FunctionEventParams describes the function a [WithEvent] scope records.
type FunctionEventParams struct {
	// Name is the recorded function name. Required.
	Name string

	// Arguments are snapshotted by deep copy when the scope opens, so
	// mutations made by the function body do not leak into the recorded
	// event.
	Arguments map[string]any

	Tags     []string
	Metadata map[string]any
}

// WithEvent runs fn inside a function_call event scope on the installed
// client: the event's id becomes the current parent for everything fn
// records, the arguments are snapshotted on entry, and the event is
// emitted when fn returns with its duration and return value. If fn
// returns an error or panics, a sibling error_traceback event is recorded
// as well; panics are re-raised after recording.
//
// When no client is installed or no session is resolvable, fn runs
// untraced.
func WithEvent[T any](ctx context.Context, p FunctionEventParams, fn func(context.Context) (T, error)) (T, error) {
	return withEvent(ctx, installedClient(), p, fn)
}

func withEvent[T any](ctx context.Context, c *Client, p FunctionEventParams, fn func(context.Context) (T, error)) (result T, err error) {
	if c == nil {
		return fn(ctx)
	}
	if sessionID, _ := runctx.Resolve(ctx); sessionID == "" {
		return fn(ctx)
	}

	eventID := uuid.NewString()
	start := time.Now()
	args := snapshotArguments(c, p.Arguments)
	bodyCtx := runctx.WithParentEvent(ctx, eventID)

	emit := func(failure error) {
		params := types.EventParams{
			Type:          types.EventTypeFunctionCall,
			ClientEventID: eventID,
			FunctionName:  p.Name,
			Arguments:     args,
			OccurredAt:    start,
			Duration:      types.ToPtr(time.Since(start).Seconds()),
			Tags:          p.Tags,
			Metadata:      p.Metadata,
		}
		if failure == nil {
			params.ReturnValue = result
		} else {
			params.Error = failure.Error()
		}
		if _, eventErr := c.CreateEvent(ctx, params); eventErr != nil {
			c.logger.Debug("failed to record function event", slog.Any("error", eventErr))
		}
	}

	defer func() {
		if r := recover(); r != nil {
			failure := fmt.Errorf("panic: %v", r)
			emit(failure)
			if _, eventErr := c.CreateErrorEvent(ctx, failure, types.EventParams{
				Traceback: string(debug.Stack()),
			}); eventErr != nil {
				c.logger.Debug("failed to record panic event", slog.Any("error", eventErr))
			}
			panic(r)
		}
	}()

	result, err = fn(bodyCtx)

	emit(err)
	if err != nil {
		if _, eventErr := c.CreateErrorEvent(ctx, err, types.EventParams{}); eventErr != nil {
			c.logger.Debug("failed to record error event", slog.Any("error", eventErr))
		}
	}
	return result, err
}

// snapshotArguments deep-copies the caller's argument map. Values the
// copier cannot handle fall back to the original reference rather than
// dropping the argument.
func snapshotArguments(c *Client, args map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	var snapshot map[string]any
	if err := deepcopy.Copy(&snapshot, args); err != nil {
		c.logger.Debug("failed to snapshot arguments", slog.Any("error", err))
		snapshot = make(map[string]any, len(args))
		for k, v := range args {
			snapshot[k] = v
		}
	}
	return snapshot
}
