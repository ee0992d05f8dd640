// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"context"
	"log/slog"
	"os"
)

// contextKey is how we find [*slog.Logger] in a [context.Context].
type contextKey struct{}

// NewContext returns a new [context.Context], derived from ctx, which carries the provided [*slog.Logger].
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns a [slog.Logger] from ctx.
//
// If no [*slog.Logger] is found, this returns a logger writing to stderr at [slog.LevelInfo].
func FromContext(ctx context.Context) *slog.Logger {
	if v := ctx.Value(contextKey{}); v != nil {
		return v.(*slog.Logger)
	}
	return New(false, false)
}

// New returns a [*slog.Logger] for SDK internals.
//
// The debug flag lowers the level to [slog.LevelDebug]; verbose additionally
// records the source location of every record. Both map to the
// LUCIDIC_DEBUG / LUCIDIC_VERBOSE environment switches resolved by the
// config package.
func New(debug, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if debug || verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	}))
}
