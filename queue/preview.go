// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"fmt"

	"github.com/lucidicai/lucidic-go/types"
)

const (
	// previewRunes bounds every truncated preview field.
	previewRunes = 200

	// previewMessages is how many leading messages an LLM preview keeps.
	previewMessages = 5
)

// Preview builds the compact inline summary sent in place of an offloaded
// payload. It is a display aid only; the full payload lives in the blob.
// Construction errors degrade to a fixed placeholder rather than failing
// the dispatch.
func Preview(kind types.EventType, payload any) (preview map[string]any) {
	defer func() {
		if recover() != nil {
			preview = map[string]any{"details": "preview_unavailable"}
		}
	}()

	switch p := payload.(type) {
	case *types.LLMGenerationPayload:
		messages := p.Request.Messages
		if len(messages) > previewMessages {
			messages = messages[:previewMessages]
		}
		compact := make([]map[string]any, 0, len(messages))
		for _, m := range messages {
			cm := make(map[string]any, len(m))
			for k, v := range m {
				if v == nil {
					cm[k] = nil
					continue
				}
				cm[k] = truncate(fmt.Sprint(v))
			}
			compact = append(compact, cm)
		}
		usage := map[string]any{}
		if p.Usage.InputTokens != nil {
			usage["input_tokens"] = *p.Usage.InputTokens
		}
		if p.Usage.OutputTokens != nil {
			usage["output_tokens"] = *p.Usage.OutputTokens
		}
		if p.Usage.Cost != nil {
			usage["cost"] = *p.Usage.Cost
		}
		var output any
		if p.Response.Output != nil {
			output = truncate(fmt.Sprint(p.Response.Output))
		}
		return map[string]any{
			"request": map[string]any{
				"model":    truncate(p.Request.Model),
				"provider": truncate(p.Request.Provider),
				"messages": compact,
			},
			"usage": usage,
			"response": map[string]any{
				"output": output,
			},
		}

	case *types.FunctionCallPayload:
		var args any
		switch a := p.Arguments.(type) {
		case nil:
		case map[string]any:
			truncated := make(map[string]any, len(a))
			for k, v := range a {
				if v == nil {
					truncated[k] = nil
					continue
				}
				truncated[k] = truncate(fmt.Sprint(v))
			}
			args = truncated
		default:
			args = truncate(fmt.Sprint(a))
		}
		return map[string]any{
			"function_name": truncate(p.FunctionName),
			"arguments":     args,
		}

	case *types.ErrorTracebackPayload:
		return map[string]any{
			"error": truncate(p.Error),
		}

	case *types.GenericPayload:
		return map[string]any{
			"details": truncate(p.Details),
		}
	}

	return map[string]any{"details": "preview_unavailable"}
}

// truncate bounds s to previewRunes runes.
func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= previewRunes {
		return s
	}
	return string(runes[:previewRunes])
}
