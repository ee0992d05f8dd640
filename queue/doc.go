// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue implements the asynchronous event pipeline: a bounded
// producer/consumer queue with time- and count-based batching,
// dependency-aware parallel dispatch (parent before child), blob offload
// for oversized payloads, bounded deferral, in-place retries with backoff,
// and deadline-bounded flush and shutdown.
package queue
