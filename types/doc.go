// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

// Package types defines the data model and error taxonomy shared by all
// components of the Lucidic SDK.
//
// The central type is [EventRequest], the immutable wire envelope for a
// single telemetry event. Events are one of four kinds (LLM generations,
// function calls, error tracebacks, and generic annotations), each with a
// typed payload struct and a Misc map for fields that do not fit the
// schema. Session lifecycle parameters and the masking hook signature live
// here as well so that the transport, queue, and session packages never
// import each other.
package types
