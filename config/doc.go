// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

// Package config resolves SDK settings from caller options, LUCIDIC_*
// environment variables, and defaults, in that precedence order.
package config
