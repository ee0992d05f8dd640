// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/lucidicai/lucidic-go/types"
)

func TestBuild_Defaults(t *testing.T) {
	req, err := Build(types.EventParams{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got, want := req.Type, types.EventTypeGeneric; got != want {
		t.Errorf("Type = %q, want %q", got, want)
	}
	if _, err := uuid.Parse(req.ClientEventID); err != nil {
		t.Errorf("ClientEventID %q is not a UUID: %v", req.ClientEventID, err)
	}
	if _, err := time.Parse(time.RFC3339Nano, req.OccurredAt); err != nil {
		t.Errorf("OccurredAt %q is not RFC 3339: %v", req.OccurredAt, err)
	}
	if req.NeedsBlob {
		t.Error("NeedsBlob = true, want false")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	p := types.EventParams{
		Type:          types.EventTypeGeneric,
		SessionID:     "sess-1",
		ClientEventID: "evt-1",
		ParentEventID: "evt-0",
		OccurredAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Details:       "checkpoint",
		Tags:          []string{"a", "b"},
	}

	first, err := Build(p)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	second, err := Build(p)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Build() not deterministic (-first +second):\n%s", diff)
	}
	if got, want := first.OccurredAt, "2025-06-01T12:00:00Z"; got != want {
		t.Errorf("OccurredAt = %q, want %q", got, want)
	}
	if got, want := first.ClientParentEventID, "evt-0"; got != want {
		t.Errorf("ClientParentEventID = %q, want %q", got, want)
	}
}

func TestBuild_LLMGeneration(t *testing.T) {
	usage := &types.LLMUsage{
		InputTokens:  types.ToPtr[int64](120),
		OutputTokens: types.ToPtr[int64](48),
		Cost:         types.ToPtr(0.0021),
	}
	req, err := Build(types.EventParams{
		Type:     types.EventTypeLLMGeneration,
		Provider: "openai",
		Model:    "gpt-4o",
		Messages: []types.Message{{"role": "user", "content": "hi"}},
		Output:   "hello",
		Usage:    usage,
		Status:   "success",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	payload, ok := req.Payload.(*types.LLMGenerationPayload)
	if !ok {
		t.Fatalf("Payload type = %T, want *types.LLMGenerationPayload", req.Payload)
	}
	want := &types.LLMGenerationPayload{
		Request: types.LLMRequest{
			Provider: "openai",
			Model:    "gpt-4o",
			Messages: []types.Message{{"role": "user", "content": "hi"}},
		},
		Response: types.LLMResponse{Output: "hello"},
		Usage:    *usage,
		Status:   "success",
	}
	if diff := cmp.Diff(want, payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_FunctionCall(t *testing.T) {
	req, err := Build(types.EventParams{
		Type:         types.EventTypeFunctionCall,
		FunctionName: "lookupOrder",
		Arguments:    map[string]any{"order_id": "o-1"},
		ReturnValue:  "shipped",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	payload, ok := req.Payload.(*types.FunctionCallPayload)
	if !ok {
		t.Fatalf("Payload type = %T, want *types.FunctionCallPayload", req.Payload)
	}
	if got, want := payload.FunctionName, "lookupOrder"; got != want {
		t.Errorf("FunctionName = %q, want %q", got, want)
	}
	if got, want := payload.ReturnValue, any("shipped"); got != want {
		t.Errorf("ReturnValue = %v, want %v", got, want)
	}
}

func TestBuild_ErrorTraceback(t *testing.T) {
	req, err := Build(types.EventParams{
		Type:      types.EventTypeErrorTraceback,
		Error:     "boom",
		Traceback: "goroutine 1 [running]:",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	payload, ok := req.Payload.(*types.ErrorTracebackPayload)
	if !ok {
		t.Fatalf("Payload type = %T, want *types.ErrorTracebackPayload", req.Payload)
	}
	if got, want := payload.Error, "boom"; got != want {
		t.Errorf("Error = %q, want %q", got, want)
	}
}

func TestBuild_DescriptionAliasesDetails(t *testing.T) {
	req, err := Build(types.EventParams{Description: "from description"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	payload := req.Payload.(*types.GenericPayload)
	if got, want := payload.Details, "from description"; got != want {
		t.Errorf("Details = %q, want %q", got, want)
	}

	// Details wins when both are set.
	req, err = Build(types.EventParams{Details: "from details", Description: "ignored"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	payload = req.Payload.(*types.GenericPayload)
	if got, want := payload.Details, "from details"; got != want {
		t.Errorf("Details = %q, want %q", got, want)
	}
}

func TestBuild_UnknownType(t *testing.T) {
	if _, err := Build(types.EventParams{Type: types.EventType("bogus")}); err == nil {
		t.Error("Build(bogus type) error = nil, want error")
	}
}
