// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport implements the authenticated JSON HTTP client for the
// Lucidic backend: connection pooling, retry on transient status codes,
// status-to-error mapping, current_time stamping, and presigned blob
// uploads.
package transport
