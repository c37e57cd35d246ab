// Package runner implements the run initiator and the step executor: the
// idempotency guard in front of a pipeline and the tracing harness around it.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/luminacrm/copyflow/pkg/models"
	"github.com/luminacrm/copyflow/pkg/persistence"
)

// Trigger is a validated inbound request to execute a workflow once.
type Trigger struct {
	WorkflowName  string
	ExternalID    string
	Disambiguator string
	TriggeredBy   string
	Payload       map[string]any
}

// Key computes the idempotency key for the trigger:
// "<external-id>[:<disambiguator>]".
func (t Trigger) Key() string {
	if t.Disambiguator != "" {
		return t.ExternalID + ":" + t.Disambiguator
	}

	return t.ExternalID
}

// Initiator creates-or-resumes exactly one run per idempotency key.
type Initiator struct {
	ledger persistence.Persistence
	logger *slog.Logger
}

// NewInitiator creates a new run initiator.
func NewInitiator(ledger persistence.Persistence, logger *slog.Logger) *Initiator {
	return &Initiator{
		ledger: ledger,
		logger: logger.With("module", "run_initiator"),
	}
}

// StartOrResume resolves a trigger to a running run. A key that already
// succeeded is reported as a duplicate with a nil run; a previously failed or
// still-pending attempt under the same key is re-entered (error cleared,
// started_at refreshed). At most one run per key ever reaches success.
func (i *Initiator) StartOrResume(ctx context.Context, trigger Trigger) (*models.WorkflowRun, bool, error) {
	run, duplicate, err := i.resolve(ctx, trigger, models.RunStatusRunning)
	if err != nil || duplicate {
		return nil, duplicate, err
	}

	return run, false, nil
}

// Enqueue pre-seeds a queued run for later draining, with the same duplicate
// semantics as StartOrResume. An existing non-terminal run is left untouched.
func (i *Initiator) Enqueue(ctx context.Context, trigger Trigger) (*models.WorkflowRun, bool, error) {
	key := trigger.Key()

	existing, err := i.ledger.FindRunByKey(ctx, trigger.WorkflowName, key)
	if err != nil && !persistence.IsRunNotFound(err) {
		return nil, false, fmt.Errorf("failed to look up run for key %s: %w", key, err)
	}

	if existing != nil {
		if existing.Status == models.RunStatusSuccess {
			return nil, true, nil
		}

		if !existing.Status.Terminal() {
			// Already queued or in flight; nothing to do.
			return existing, false, nil
		}

		existing.Status = models.RunStatusQueued
		existing.ErrorMessage = ""

		err = i.ledger.UpdateRun(ctx, existing)
		if err != nil {
			return nil, false, fmt.Errorf("failed to requeue run %s: %w", existing.ID, err)
		}

		return existing, false, nil
	}

	return i.create(ctx, trigger, models.RunStatusQueued)
}

func (i *Initiator) resolve(ctx context.Context, trigger Trigger, status models.RunStatus) (*models.WorkflowRun, bool, error) {
	key := trigger.Key()

	existing, err := i.ledger.FindRunByKey(ctx, trigger.WorkflowName, key)
	if err != nil && !persistence.IsRunNotFound(err) {
		return nil, false, fmt.Errorf("failed to look up run for key %s: %w", key, err)
	}

	if existing != nil {
		if existing.Status == models.RunStatusSuccess {
			i.logger.InfoContext(ctx, "Duplicate trigger for succeeded run",
				"workflow_name", trigger.WorkflowName, "idempotency_key", key, "run_id", existing.ID)

			return nil, true, nil
		}

		now := time.Now().UTC()
		existing.Status = status
		existing.ErrorMessage = ""
		existing.StartedAt = now
		existing.HeartbeatAt = now
		existing.TriggeredBy = trigger.TriggeredBy

		// A failed run sits in a terminal status; re-entry goes through the
		// same non-terminal path by rebuilding the row state first.
		err = i.reenter(ctx, existing)
		if err != nil {
			return nil, false, err
		}

		i.logger.InfoContext(ctx, "Resuming run",
			"workflow_name", trigger.WorkflowName, "idempotency_key", key, "run_id", existing.ID)

		return existing, false, nil
	}

	run, duplicate, err := i.create(ctx, trigger, status)
	if err != nil {
		return nil, false, err
	}

	return run, duplicate, nil
}

func (i *Initiator) create(ctx context.Context, trigger Trigger, status models.RunStatus) (*models.WorkflowRun, bool, error) {
	now := time.Now().UTC()

	run := &models.WorkflowRun{
		ID:             uuid.NewString(),
		WorkflowName:   trigger.WorkflowName,
		IdempotencyKey: trigger.Key(),
		Status:         status,
		TriggeredBy:    trigger.TriggeredBy,
		Input:          trigger.Payload,
		CreatedAt:      now,
	}

	if status == models.RunStatusRunning {
		run.StartedAt = now
		run.HeartbeatAt = now
	}

	err := i.ledger.CreateRun(ctx, run)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create run for key %s: %w", run.IdempotencyKey, err)
	}

	i.logger.InfoContext(ctx, "Created run",
		"workflow_name", run.WorkflowName, "idempotency_key", run.IdempotencyKey,
		"run_id", run.ID, "status", run.Status)

	return run, false, nil
}

func (i *Initiator) reenter(ctx context.Context, run *models.WorkflowRun) error {
	err := i.ledger.UpdateRun(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to resume run %s: %w", run.ID, err)
	}

	return nil
}
