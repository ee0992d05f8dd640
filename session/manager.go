// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lucidicai/lucidic-go/config"
	"github.com/lucidicai/lucidic-go/types"
)

// translationCacheSize bounds the candidate-id to backend-id mapping.
const translationCacheSize = 500

// Transport is the slice of the HTTP client the manager needs.
type Transport interface {
	Do(ctx context.Context, method, endpoint string, body any, out any) error
}

// Manager creates, continues, updates, and ends sessions against the
// backend, and remembers which candidate ids resolved to which backend ids
// so repeated creates with the same candidate are idempotent.
type Manager struct {
	cfg    *config.Config
	api    Transport
	logger *slog.Logger

	// translations maps caller-proposed candidate ids to the ids the
	// backend actually assigned.
	translations *lru.Cache[string, string]

	mu    sync.Mutex
	ended map[string]struct{}
}

// NewManager creates a session manager.
func NewManager(cfg *config.Config, api Transport, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	translations, err := lru.New[string, string](translationCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create session id cache: %w", err)
	}
	return &Manager{
		cfg:          cfg,
		api:          api,
		logger:       logger,
		translations: translations,
		ended:        make(map[string]struct{}),
	}, nil
}

type initSessionResponse struct {
	SessionID string `json:"session_id"`
}

// Create registers a new session with the backend and returns the id the
// backend assigned, which may differ from any candidate the caller
// proposed. Calling Create again with the same candidate returns the
// previously assigned id without another backend round trip.
func (m *Manager) Create(ctx context.Context, p types.SessionParams) (string, error) {
	if p.SessionID != "" {
		if real, ok := m.translations.Get(p.SessionID); ok {
			return real, nil
		}
	}

	body := map[string]any{
		"agent_id": m.cfg.AgentID,
	}
	setIfNotZero(body, "session_name", p.Name)
	setIfNotZero(body, "session_id", p.SessionID)
	setIfNotZero(body, "task", p.Task)
	setIfNotZero(body, "experiment_id", p.ExperimentID)
	setIfNotZero(body, "dataset_item_id", p.DatasetItemID)
	if len(p.Rubrics) > 0 {
		body["rubrics"] = p.Rubrics
	}
	if len(p.Tags) > 0 {
		body["tags"] = p.Tags
	}
	if p.ProductionMonitoring {
		body["production_monitoring"] = true
	}

	var resp initSessionResponse
	if err := m.api.Do(ctx, http.MethodPost, "initsession", body, &resp); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	real := resp.SessionID
	if real == "" {
		real = p.SessionID
	}
	if p.SessionID != "" && real != "" {
		m.translations.Add(p.SessionID, real)
	}
	m.logger.Debug("session created",
		slog.String("session_id", real),
		slog.String("candidate", p.SessionID),
	)
	return real, nil
}

// Continue resumes an existing backend session.
func (m *Manager) Continue(ctx context.Context, sessionID string) (string, error) {
	var resp initSessionResponse
	body := map[string]any{"session_id": sessionID}
	if err := m.api.Do(ctx, http.MethodPost, "continuesession", body, &resp); err != nil {
		return "", fmt.Errorf("continue session %s: %w", sessionID, err)
	}
	if resp.SessionID != "" {
		return resp.SessionID, nil
	}
	return sessionID, nil
}

// Update applies non-final session attributes.
func (m *Manager) Update(ctx context.Context, sessionID string, p types.UpdateSessionParams) error {
	body := map[string]any{"session_id": sessionID}
	setIfNotZero(body, "task", p.Task)
	if len(p.Tags) > 0 {
		body["tags"] = p.Tags
	}
	if p.Eval != nil {
		body["session_eval"] = *p.Eval
	}
	setIfNotZero(body, "session_eval_reason", p.EvalReason)
	if err := m.api.Do(ctx, http.MethodPut, "updatesession", body, nil); err != nil {
		return fmt.Errorf("update session %s: %w", sessionID, err)
	}
	return nil
}

// End finalizes a session. A session that has already been ended is left
// alone. Once ended, the manager reports it via Ended so the public surface
// rejects further events for it. A failed backend call leaves the session
// un-ended so the caller can retry.
func (m *Manager) End(ctx context.Context, sessionID string, p types.EndSessionParams) error {
	// Reserve the ended slot up front so concurrent ends collapse to one
	// PUT; released again if that PUT fails.
	m.mu.Lock()
	if _, done := m.ended[sessionID]; done {
		m.mu.Unlock()
		return types.ErrSessionEnded
	}
	m.ended[sessionID] = struct{}{}
	m.mu.Unlock()

	body := map[string]any{
		"session_id":  sessionID,
		"is_finished": true,
	}
	if p.IsSuccessful != nil {
		body["is_successful"] = *p.IsSuccessful
	}
	setIfNotZero(body, "is_successful_reason", p.Reason)
	if p.Eval != nil {
		body["session_eval"] = *p.Eval
	}
	setIfNotZero(body, "session_eval_reason", p.EvalReason)

	if err := m.api.Do(ctx, http.MethodPut, "updatesession", body, nil); err != nil {
		m.mu.Lock()
		delete(m.ended, sessionID)
		m.mu.Unlock()
		return fmt.Errorf("end session %s: %w", sessionID, err)
	}
	m.logger.Debug("session ended", slog.String("session_id", sessionID))
	return nil
}

// Ended reports whether the session was finalized through this manager.
func (m *Manager) Ended(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, done := m.ended[sessionID]
	return done
}

// Resolve translates a candidate id to the backend-assigned id when one is
// known, and returns the input unchanged otherwise.
func (m *Manager) Resolve(sessionID string) string {
	if real, ok := m.translations.Get(sessionID); ok {
		return real
	}
	return sessionID
}

func setIfNotZero(body map[string]any, key, value string) {
	if value != "" {
		body[key] = value
	}
}
