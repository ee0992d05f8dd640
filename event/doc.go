// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

// Package event turns caller-supplied fields into normalized, typed event
// payloads. The builder is pure: no I/O, no masking, deterministic output.
package event
