// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

// Package runctx binds the ambient (session id, parent event id) pair to a
// [context.Context] so deep call stacks can emit events without threading a
// session handle through every function.
//
// A process-global active session exists as a convenience for code paths
// that never propagate a context. Goroutines never inherit a binding
// implicitly: they see a session only through an explicitly passed context
// or the process global, and [Detach] suppresses even that fallback for
// flows that must stay isolated.
package runctx
