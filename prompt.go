// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package lucidic

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// defaultPromptTTL is how long a fetched prompt stays cached when the
// caller does not choose a TTL.
const defaultPromptTTL = 5 * time.Minute

// PromptParams selects a prompt from the platform's prompt store.
type PromptParams struct {
	// Name identifies the prompt within the agent.
	Name string

	// Variables are substituted into {{placeholder}} markers. Every
	// placeholder in the prompt must have a variable; unused variables are
	// ignored.
	Variables map[string]any

	// Label selects a deployment label. Empty means "production".
	Label string

	// CacheTTL controls caching of the fetched content. Zero uses the
	// default of five minutes; a negative value bypasses the cache.
	CacheTTL time.Duration
}

type promptKey struct {
	name  string
	label string
}

type promptEntry struct {
	content string
	expires time.Time
}

type promptCache struct {
	mu      sync.Mutex
	entries map[promptKey]promptEntry
}

func (pc *promptCache) get(key promptKey, now time.Time) (string, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	entry, ok := pc.entries[key]
	if !ok || now.After(entry.expires) {
		return "", false
	}
	return entry.content, true
}

func (pc *promptCache) put(key promptKey, content string, expires time.Time) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.entries == nil {
		pc.entries = make(map[promptKey]promptEntry)
	}
	pc.entries[key] = promptEntry{content: content, expires: expires}
}

type getPromptResponse struct {
	PromptContent string `json:"prompt_content"`
}

// GetPrompt fetches a prompt from the platform, caches it, and substitutes
// the given variables into its {{placeholder}} markers. A placeholder with
// no matching variable is an error so that a typo cannot silently ship a
// raw template to a model.
func (c *Client) GetPrompt(ctx context.Context, p PromptParams) (string, error) {
	if p.Name == "" {
		return "", fmt.Errorf("prompt name is required")
	}
	label := p.Label
	if label == "" {
		label = "production"
	}

	key := promptKey{name: p.Name, label: label}
	now := time.Now()

	content, cached := "", false
	if p.CacheTTL >= 0 {
		content, cached = c.prompts.get(key, now)
	}
	if !cached {
		params := url.Values{}
		params.Set("agent_id", c.cfg.AgentID)
		params.Set("prompt_name", p.Name)
		params.Set("label", label)

		var resp getPromptResponse
		if err := c.transport.Get(ctx, "getprompt", params, &resp); err != nil {
			return "", fmt.Errorf("get prompt %q: %w", p.Name, err)
		}
		content = resp.PromptContent

		if p.CacheTTL >= 0 {
			ttl := p.CacheTTL
			if ttl == 0 {
				ttl = defaultPromptTTL
			}
			c.prompts.put(key, content, now.Add(ttl))
		}
	}

	return substituteVariables(content, p.Variables)
}

// substituteVariables replaces {{name}} markers with their values. The
// marker syntax tolerates whitespace inside the braces.
func substituteVariables(content string, vars map[string]any) (string, error) {
	if !strings.Contains(content, "{{") {
		return content, nil
	}

	var (
		b       strings.Builder
		missing []string
	)
	rest := content
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		name := strings.TrimSpace(rest[start+2 : end])
		if value, ok := vars[name]; ok {
			fmt.Fprintf(&b, "%v", value)
		} else {
			missing = append(missing, name)
		}
		rest = rest[end+2:]
	}

	if len(missing) > 0 {
		return "", fmt.Errorf("prompt is missing variables: %s", strings.Join(missing, ", "))
	}
	return b.String(), nil
}
