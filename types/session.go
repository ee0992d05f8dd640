// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package types

// SessionParams are the caller-supplied attributes for creating a session.
type SessionParams struct {
	// Name is the display name shown in the dashboard.
	Name string

	// SessionID optionally proposes a candidate id. The backend may replace
	// it; repeated creates with the same candidate resolve to the same
	// backend session.
	SessionID string

	// Task describes what the agent is trying to accomplish.
	Task string

	Tags []string

	// ExperimentID associates the session with an experiment.
	ExperimentID string

	// DatasetItemID associates the session with a dataset item.
	DatasetItemID string

	// Rubrics names the evaluators to run against the session.
	Rubrics []string

	// ProductionMonitoring flags the session as production traffic.
	ProductionMonitoring bool

	// AutoEnd controls whether the shutdown coordinator ends this session
	// on process exit. Nil means the configured default.
	AutoEnd *bool
}

// UpdateSessionParams are the mutable session attributes for a non-final
// updatesession call.
type UpdateSessionParams struct {
	Task       string
	Tags       []string
	Eval       *float64
	EvalReason string
}

// EndSessionParams finalize a session.
type EndSessionParams struct {
	IsSuccessful *bool
	Reason       string
	Eval         *float64
	EvalReason   string
}
