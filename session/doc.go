// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

// Package session manages the backend session lifecycle: creation with
// candidate-id reconciliation, continuation, updates, and finalization.
package session
