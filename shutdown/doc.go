// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

// Package shutdown coordinates process exit: it tracks live sessions and,
// on signal or explicit trigger, flushes their queues and ends them within
// bounded deadlines.
package shutdown
