// Package persistence provides the storage abstraction for the run ledger.
package persistence

import (
	"context"
	"time"

	"github.com/luminacrm/copyflow/pkg/models"
)

// Persistence is the run ledger. All writes are single-row inserts or updates
// keyed by run id; no transaction spans a run write and a step write.
type Persistence interface {
	// FindRunByKey returns the run for (workflowName, idempotencyKey), or
	// ErrRunNotFound.
	FindRunByKey(ctx context.Context, workflowName, idempotencyKey string) (*models.WorkflowRun, error)

	// RunByID returns a run by its id, or ErrRunNotFound.
	RunByID(ctx context.Context, id string) (*models.WorkflowRun, error)

	// CreateRun inserts a new run. ErrRunAlreadyExists when the
	// (workflow_name, idempotency_key) pair is taken.
	CreateRun(ctx context.Context, run *models.WorkflowRun) error

	// UpdateRun persists non-terminal bookkeeping changes: resume of a
	// failed, skipped or pending attempt, heartbeat refresh. Terminal
	// statuses must go through FinalizeRun; a succeeded run is never
	// writable again and yields ErrRunAlreadyFinal.
	UpdateRun(ctx context.Context, run *models.WorkflowRun) error

	// FinalizeRun performs the single terminal write for an attempt. It is
	// guarded: a run already carrying a terminal status is left untouched
	// and ErrRunAlreadyFinal is returned.
	FinalizeRun(ctx context.Context, id string, status models.RunStatus, output map[string]any, errorMessage string) error

	// AppendStep appends one row to the step trace.
	AppendStep(ctx context.Context, step *models.WorkflowRunStep) error

	// StepsByRun returns the trace for a run in append order.
	StepsByRun(ctx context.Context, runID string) ([]*models.WorkflowRunStep, error)

	// ClaimQueuedRuns atomically flips up to limit queued runs to running
	// (FIFO by creation time) and returns them. Claiming clears the error
	// message and refreshes started_at and heartbeat_at.
	ClaimQueuedRuns(ctx context.Context, limit int) ([]*models.WorkflowRun, error)

	// CountQueuedRuns returns the remaining backlog size.
	CountQueuedRuns(ctx context.Context) (int, error)

	// Heartbeat refreshes the lease timestamp of a running run.
	Heartbeat(ctx context.Context, runID string, at time.Time) error

	// RequeueStaleRuns moves runs stuck in running past the lease back to
	// queued and returns how many were reclaimed.
	RequeueStaleRuns(ctx context.Context, olderThan time.Duration) (int, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
