// Package models defines the run ledger data model for workflow executions.
package models

import "time"

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusQueued  RunStatus = "queued"  // Pre-seeded, waiting for the drainer
	RunStatusRunning RunStatus = "running" // Claimed by an invocation
	RunStatusSuccess RunStatus = "success" // Terminal
	RunStatusFailed  RunStatus = "failed"  // Terminal
	RunStatusSkipped RunStatus = "skipped" // Terminal, nothing to do
)

// Terminal reports whether the status is final. A terminal status is written
// exactly once and is never overwritten by a non-terminal one.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed || s == RunStatusSkipped
}

// WorkflowRun is one entry in the run ledger. At most one run per
// (workflow_name, idempotency_key) ever reaches success; non-terminal and
// failed runs may be re-entered under the same key.
type WorkflowRun struct {
	ID             string         `json:"id"`
	WorkflowName   string         `json:"workflow_name"   validate:"required"`
	IdempotencyKey string         `json:"idempotency_key" validate:"required"`
	Status         RunStatus      `json:"status"          validate:"required"`
	TriggeredBy    string         `json:"triggered_by"`
	Input          map[string]any `json:"input,omitempty"`
	Output         map[string]any `json:"output,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	HeartbeatAt    time.Time      `json:"heartbeat_at"`
	CreatedAt      time.Time      `json:"created_at"`
}
