// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package types

// ToPtr returns a pointer to a copy of v, for the optional wire fields
// modeled as pointers.
func ToPtr[T any](v T) *T {
	return &v
}

// Deref returns the value ptr points to, or def when ptr is nil.
func Deref[T any](ptr *T, def T) T {
	if ptr != nil {
		return *ptr
	}
	return def
}
