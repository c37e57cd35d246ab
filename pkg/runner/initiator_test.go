package runner_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminacrm/copyflow/pkg/models"
	"github.com/luminacrm/copyflow/pkg/persistence/file"
	"github.com/luminacrm/copyflow/pkg/runner"
)

func newTestInitiator(t *testing.T) (*runner.Initiator, *file.Persistence) {
	t.Helper()

	ledger := file.NewPersistence(t.TempDir())

	return runner.NewInitiator(ledger, slog.Default()), ledger
}

func TestTriggerKey(t *testing.T) {
	trigger := runner.Trigger{ExternalID: "abc123"}
	assert.Equal(t, "abc123", trigger.Key())

	trigger.Disambiguator = "inst-9"
	assert.Equal(t, "abc123:inst-9", trigger.Key())
}

func TestStartOrResumeCreatesRun(t *testing.T) {
	initiator, ledger := newTestInitiator(t)
	ctx := context.Background()

	run, duplicate, err := initiator.StartOrResume(ctx, runner.Trigger{
		WorkflowName: "generate-social-copy",
		ExternalID:   "abc123",
		TriggeredBy:  "webhook",
		Payload:      map[string]any{"task_id": "abc123"},
	})
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, "abc123", run.IdempotencyKey)
	assert.False(t, run.StartedAt.IsZero())

	stored, err := ledger.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, stored.Status)
}

func TestStartOrResumeDuplicateAfterSuccess(t *testing.T) {
	initiator, ledger := newTestInitiator(t)
	ctx := context.Background()

	trigger := runner.Trigger{WorkflowName: "generate-social-copy", ExternalID: "abc123", TriggeredBy: "webhook"}

	run, _, err := initiator.StartOrResume(ctx, trigger)
	require.NoError(t, err)
	require.NoError(t, ledger.FinalizeRun(ctx, run.ID, models.RunStatusSuccess, map[string]any{"content_id": "abc123"}, ""))

	again, duplicate, err := initiator.StartOrResume(ctx, trigger)
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Nil(t, again)
}

func TestStartOrResumeReentersFailedRun(t *testing.T) {
	initiator, ledger := newTestInitiator(t)
	ctx := context.Background()

	trigger := runner.Trigger{WorkflowName: "generate-social-copy", ExternalID: "abc123", TriggeredBy: "webhook"}

	run, _, err := initiator.StartOrResume(ctx, trigger)
	require.NoError(t, err)
	require.NoError(t, ledger.FinalizeRun(ctx, run.ID, models.RunStatusFailed, nil, "generation returned 500"))

	resumed, duplicate, err := initiator.StartOrResume(ctx, trigger)
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, run.ID, resumed.ID, "same key resumes the same run")
	assert.Equal(t, models.RunStatusRunning, resumed.Status)
	assert.Empty(t, resumed.ErrorMessage)
}

func TestStartOrResumeDistinctDisambiguators(t *testing.T) {
	initiator, _ := newTestInitiator(t)
	ctx := context.Background()

	first, _, err := initiator.StartOrResume(ctx, runner.Trigger{
		WorkflowName: "generate-social-copy", ExternalID: "abc123", Disambiguator: "a",
	})
	require.NoError(t, err)

	second, _, err := initiator.StartOrResume(ctx, runner.Trigger{
		WorkflowName: "generate-social-copy", ExternalID: "abc123", Disambiguator: "b",
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestEnqueueCreatesQueuedRun(t *testing.T) {
	initiator, _ := newTestInitiator(t)
	ctx := context.Background()

	run, duplicate, err := initiator.Enqueue(ctx, runner.Trigger{
		WorkflowName: "generate-social-copy", ExternalID: "abc123", TriggeredBy: "queue",
	})
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.True(t, run.StartedAt.IsZero(), "queued runs have not started")
}

func TestEnqueueLeavesInFlightRunAlone(t *testing.T) {
	initiator, _ := newTestInitiator(t)
	ctx := context.Background()

	trigger := runner.Trigger{WorkflowName: "generate-social-copy", ExternalID: "abc123"}

	running, _, err := initiator.StartOrResume(ctx, trigger)
	require.NoError(t, err)

	run, duplicate, err := initiator.Enqueue(ctx, trigger)
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, running.ID, run.ID)
	assert.Equal(t, models.RunStatusRunning, run.Status, "in-flight run is not demoted to queued")
}

func TestEnqueueRequeuesFailedRun(t *testing.T) {
	initiator, ledger := newTestInitiator(t)
	ctx := context.Background()

	trigger := runner.Trigger{WorkflowName: "generate-social-copy", ExternalID: "abc123"}

	run, _, err := initiator.Enqueue(ctx, trigger)
	require.NoError(t, err)

	claimed, err := ledger.ClaimQueuedRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, ledger.FinalizeRun(ctx, run.ID, models.RunStatusFailed, nil, "boom"))

	requeued, duplicate, err := initiator.Enqueue(ctx, trigger)
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, run.ID, requeued.ID)
	assert.Equal(t, models.RunStatusQueued, requeued.Status)
	assert.Empty(t, requeued.ErrorMessage)
}

func TestEnqueueDuplicateAfterSuccess(t *testing.T) {
	initiator, ledger := newTestInitiator(t)
	ctx := context.Background()

	trigger := runner.Trigger{WorkflowName: "generate-social-copy", ExternalID: "abc123"}

	run, _, err := initiator.StartOrResume(ctx, trigger)
	require.NoError(t, err)
	require.NoError(t, ledger.FinalizeRun(ctx, run.ID, models.RunStatusSuccess, nil, ""))

	again, duplicate, err := initiator.Enqueue(ctx, trigger)
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Nil(t, again)
}
