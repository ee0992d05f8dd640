// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging provides the context-carried [log/slog.Logger] used by all
// SDK components.
package logging
