// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// EventType identifies the payload variant carried by an [EventRequest].
type EventType string

const (
	// EventTypeLLMGeneration records a single model invocation.
	EventTypeLLMGeneration EventType = "llm_generation"

	// EventTypeFunctionCall records one function invocation with its
	// arguments snapshot and return value.
	EventTypeFunctionCall EventType = "function_call"

	// EventTypeErrorTraceback records an error together with its stack trace.
	EventTypeErrorTraceback EventType = "error_traceback"

	// EventTypeGeneric records a free-form annotation.
	EventTypeGeneric EventType = "generic"
)

// EventRequest is the wire envelope for POST events. It is immutable after
// enqueue: the SDK has no event-update protocol, an event is built once and
// transmitted at most once.
//
// DeferCount and RetryCount are queue bookkeeping and never serialized.
type EventRequest struct {
	SessionID           string         `json:"session_id"`
	ClientEventID       string         `json:"client_event_id"`
	ClientParentEventID string         `json:"client_parent_event_id,omitempty"`
	Type                EventType      `json:"type"`
	OccurredAt          string         `json:"occurred_at"`
	Duration            *float64       `json:"duration,omitempty"`
	Tags                []string       `json:"tags,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	Payload             any            `json:"payload"`
	NeedsBlob           bool           `json:"needs_blob"`

	DeferCount int `json:"-"`
	RetryCount int `json:"-"`
}

// EventResponse is the backend's answer to POST events. BlobURL is set only
// when the envelope was sent with NeedsBlob and names the presigned URL the
// full payload must be uploaded to.
type EventResponse struct {
	BlobURL string `json:"blob_url,omitempty"`
}

// Message is one chat message in an LLM request or response. The shape is
// provider-defined, so it stays a free map on the wire.
type Message map[string]any

// LLMRequest describes the model invocation side of an LLM generation.
type LLMRequest struct {
	Provider string         `json:"provider,omitempty"`
	Model    string         `json:"model,omitempty"`
	Messages []Message      `json:"messages,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// LLMResponse describes the model output side of an LLM generation.
type LLMResponse struct {
	Output    any       `json:"output,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
	ToolCalls any       `json:"tool_calls,omitempty"`
	Thinking  any       `json:"thinking,omitempty"`
	Raw       any       `json:"raw,omitempty"`
}

// LLMUsage carries token accounting and cost for an LLM generation.
type LLMUsage struct {
	InputTokens  *int64         `json:"input_tokens,omitempty"`
	OutputTokens *int64         `json:"output_tokens,omitempty"`
	Cache        map[string]any `json:"cache,omitempty"`
	Cost         *float64       `json:"cost,omitempty"`
}

// LLMGenerationPayload is the payload of an [EventTypeLLMGeneration] event.
type LLMGenerationPayload struct {
	Request  LLMRequest     `json:"request"`
	Response LLMResponse    `json:"response"`
	Usage    LLMUsage       `json:"usage"`
	Status   string         `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
	Misc     map[string]any `json:"misc,omitempty"`
}

// FunctionCallPayload is the payload of an [EventTypeFunctionCall] event.
type FunctionCallPayload struct {
	FunctionName string         `json:"function_name"`
	Arguments    any            `json:"arguments,omitempty"`
	ReturnValue  any            `json:"return_value,omitempty"`
	Misc         map[string]any `json:"misc,omitempty"`
}

// ErrorTracebackPayload is the payload of an [EventTypeErrorTraceback] event.
type ErrorTracebackPayload struct {
	Error     string         `json:"error"`
	Traceback string         `json:"traceback,omitempty"`
	Misc      map[string]any `json:"misc,omitempty"`
}

// GenericPayload is the payload of an [EventTypeGeneric] event.
type GenericPayload struct {
	Details string         `json:"details,omitempty"`
	Misc    map[string]any `json:"misc,omitempty"`
}

// EventParams collects the caller-facing fields accepted when creating an
// event. The builder normalizes them into one of the typed payloads above;
// fields irrelevant to the chosen Type are ignored, and Misc lands in the
// payload's misc bucket verbatim.
type EventParams struct {
	// Type selects the payload variant. Empty means [EventTypeGeneric].
	Type EventType

	// SessionID overrides ambient session resolution when set.
	SessionID string

	// ParentEventID overrides the ambient current-parent when set.
	ParentEventID string

	// ClientEventID lets the caller supply the event id. A fresh UUID is
	// minted when empty.
	ClientEventID string

	// OccurredAt defaults to the current time with local offset.
	OccurredAt time.Time

	// Duration is the event duration in seconds.
	Duration *float64

	Tags     []string
	Metadata map[string]any
	Misc     map[string]any

	// LLM generation fields.
	Provider         string
	Model            string
	Messages         []Message
	ModelParams      map[string]any
	Output           any
	ResponseMessages []Message
	ToolCalls        any
	Thinking         any
	Raw              any
	Usage            *LLMUsage
	Status           string
	Error            string

	// Function call fields.
	FunctionName string
	Arguments    any
	ReturnValue  any

	// Error traceback fields.
	Traceback string

	// Generic fields. Description is accepted as an alias for Details.
	Details     string
	Description string
}

// MaskFunc redacts user-visible text before it reaches the event builder.
// The SDK never lets a failing masker propagate: a panic is replaced with a
// placeholder value.
type MaskFunc func(string) string
