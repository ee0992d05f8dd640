// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lucidicai/lucidic-go/types"
)

// Build normalizes caller-supplied fields into an immutable [types.EventRequest].
// It performs no I/O and no masking; given identical inputs (including
// OccurredAt) it produces an identical request.
func Build(p types.EventParams) (*types.EventRequest, error) {
	kind := p.Type
	if kind == "" {
		kind = types.EventTypeGeneric
	}

	id := p.ClientEventID
	if id == "" {
		id = uuid.NewString()
	}

	occurred := p.OccurredAt
	if occurred.IsZero() {
		// Local wall time; the RFC 3339 rendering below carries the offset.
		occurred = time.Now()
	}

	payload, err := buildPayload(kind, p)
	if err != nil {
		return nil, err
	}

	return &types.EventRequest{
		SessionID:           p.SessionID,
		ClientEventID:       id,
		ClientParentEventID: p.ParentEventID,
		Type:                kind,
		OccurredAt:          occurred.Format(time.RFC3339Nano),
		Duration:            p.Duration,
		Tags:                p.Tags,
		Metadata:            p.Metadata,
		Payload:             payload,
		NeedsBlob:           false,
	}, nil
}

func buildPayload(kind types.EventType, p types.EventParams) (any, error) {
	switch kind {
	case types.EventTypeLLMGeneration:
		return &types.LLMGenerationPayload{
			Request: types.LLMRequest{
				Provider: p.Provider,
				Model:    p.Model,
				Messages: p.Messages,
				Params:   p.ModelParams,
			},
			Response: types.LLMResponse{
				Output:    p.Output,
				Messages:  p.ResponseMessages,
				ToolCalls: p.ToolCalls,
				Thinking:  p.Thinking,
				Raw:       p.Raw,
			},
			Usage:  types.Deref(p.Usage, types.LLMUsage{}),
			Status: p.Status,
			Error:  p.Error,
			Misc:   p.Misc,
		}, nil

	case types.EventTypeFunctionCall:
		return &types.FunctionCallPayload{
			FunctionName: p.FunctionName,
			Arguments:    p.Arguments,
			ReturnValue:  p.ReturnValue,
			Misc:         p.Misc,
		}, nil

	case types.EventTypeErrorTraceback:
		return &types.ErrorTracebackPayload{
			Error:     p.Error,
			Traceback: p.Traceback,
			Misc:      p.Misc,
		}, nil

	case types.EventTypeGeneric:
		details := p.Details
		if details == "" {
			// description is accepted as an alias for details.
			details = p.Description
		}
		return &types.GenericPayload{
			Details: details,
			Misc:    p.Misc,
		}, nil

	default:
		return nil, fmt.Errorf("unknown event type %q", kind)
	}
}
