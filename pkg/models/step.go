package models

import "time"

// StepStatus represents the outcome of a single pipeline step.
type StepStatus string

// Step rows are appended once the step has finished, so only final
// statuses exist; in-flight steps are never persisted.
const (
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"  // Something went wrong
	StepStatusSkipped StepStatus = "skipped" // Nothing to do
)

// WorkflowRunStep is one row of the append-only step trace. Steps are never
// mutated after being written; a retried step appends a new row under the
// same name.
type WorkflowRunStep struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"    validate:"required"`
	StepName     string         `json:"step_name" validate:"required"`
	Status       StepStatus     `json:"status"    validate:"required"`
	Request      map[string]any `json:"request,omitempty"`
	Response     map[string]any `json:"response,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}
