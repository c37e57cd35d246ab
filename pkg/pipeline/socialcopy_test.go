package pipeline_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminacrm/copyflow/pkg/gateway"
	"github.com/luminacrm/copyflow/pkg/models"
	"github.com/luminacrm/copyflow/pkg/persistence/file"
	"github.com/luminacrm/copyflow/pkg/pipeline"
	"github.com/luminacrm/copyflow/pkg/runner"
)

// upstream fakes the three collaborator services behind one test server.
type upstream struct {
	record           *pipeline.Record
	transcript       string
	transcriptStatus int
	generationStatus int
	generation       pipeline.Generation
	fieldStatus      map[string]int
	fieldUpdates     map[string]any
}

func newUpstream() *upstream {
	return &upstream{
		record: &pipeline.Record{
			ID: "abc123",
			Fields: []pipeline.Field{
				{ID: "f1", Name: "generate_copy", Value: true},
				{ID: "f2", Name: "asset_id", Value: "asset-9"},
				{ID: "f3", Name: "drive_id", Value: "drive-4"},
				{ID: "f4", Name: "description", Value: "a video about closings"},
				{ID: "f5", Name: "social_copy", Value: ""},
				{ID: "f6", Name: "derived_title", Value: ""},
				{ID: "f7", Name: "derived_description", Value: ""},
				{ID: "f8", Name: "transcript", Value: ""},
			},
		},
		transcript:       strings.Repeat("w ", 250),
		transcriptStatus: http.StatusOK,
		generationStatus: http.StatusOK,
		generation:       pipeline.Generation{ID: "gen1", SocialCopy: "check out this walkthrough", Title: "Walkthrough", Description: "A walkthrough video"},
		fieldStatus:      map[string]int{},
		fieldUpdates:     map[string]any{},
	}
}

func (u *upstream) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /records/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != u.record.ID {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_ = json.NewEncoder(w).Encode(u.record)
	})

	mux.HandleFunc("POST /records/{id}/fields/{fieldID}", func(w http.ResponseWriter, r *http.Request) {
		fieldID := r.PathValue("fieldID")

		if status, ok := u.fieldStatus[fieldID]; ok {
			w.WriteHeader(status)

			return
		}

		var body struct {
			Value any `json:"value"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		u.fieldUpdates[fieldID] = body.Value

		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /transcripts", func(w http.ResponseWriter, _ *http.Request) {
		if u.transcriptStatus != http.StatusOK {
			w.WriteHeader(u.transcriptStatus)

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"transcript": u.transcript})
	})

	mux.HandleFunc("POST /generate", func(w http.ResponseWriter, _ *http.Request) {
		if u.generationStatus != http.StatusOK {
			w.WriteHeader(u.generationStatus)

			return
		}

		_ = json.NewEncoder(w).Encode(u.generation)
	})

	return mux
}

type harness struct {
	pipeline *pipeline.SocialCopy
	executor *runner.Executor
	ledger   *file.Persistence
	upstream *upstream
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	up := newUpstream()
	server := httptest.NewServer(up.handler())
	t.Cleanup(server.Close)

	logger := slog.Default()
	// Tight retry schedule so transient-status paths stay fast.
	client := gateway.NewClient(logger, gateway.Options{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		JitterMax:   time.Nanosecond,
	})

	records := pipeline.NewRecordClient(client, server.URL, "records-token")
	transcripts := pipeline.NewTranscriptClient(client, server.URL, "transcript-key")
	generator := pipeline.NewGeneratorClient(client, server.URL)

	ledger := file.NewPersistence(t.TempDir())

	return &harness{
		pipeline: pipeline.NewSocialCopy(records, transcripts, generator, logger),
		executor: runner.NewExecutor(ledger, nil, logger),
		ledger:   ledger,
		upstream: up,
	}
}

func (h *harness) execute(t *testing.T) *models.WorkflowRun {
	t.Helper()

	initiator := runner.NewInitiator(h.ledger, slog.Default())

	run, duplicate, err := initiator.StartOrResume(context.Background(), runner.Trigger{
		WorkflowName: "generate-social-copy",
		ExternalID:   "abc123",
		TriggeredBy:  "webhook",
		Payload:      map[string]any{"task_id": "abc123"},
	})
	require.NoError(t, err)
	require.False(t, duplicate)

	finished, _ := h.executor.Execute(context.Background(), run, h.pipeline)

	return finished
}

func stepStatuses(t *testing.T, h *harness, runID string) map[string]models.StepStatus {
	t.Helper()

	steps, err := h.ledger.StepsByRun(context.Background(), runID)
	require.NoError(t, err)

	statuses := make(map[string]models.StepStatus, len(steps))
	for _, step := range steps {
		statuses[step.StepName] = step.Status
	}

	return statuses
}

func TestRunSucceedsEndToEnd(t *testing.T) {
	h := newHarness(t)

	run := h.execute(t)

	require.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, "gen1", run.Output["content_id"])
	assert.Equal(t, false, run.Output["duplicate"])
	assert.Equal(t, "check out this walkthrough", run.Output["social_copy"])

	results, ok := run.Output["field_results"].(map[string]any)
	require.True(t, ok)

	for _, field := range []string{"social_copy", "derived_title", "derived_description", "transcript"} {
		assert.Equal(t, "success", results[field])
	}

	assert.Equal(t, "check out this walkthrough", h.upstream.fieldUpdates["f5"])
	assert.Equal(t, h.upstream.transcript, h.upstream.fieldUpdates["f8"])

	statuses := stepStatuses(t, h, run.ID)
	for _, name := range []string{
		"fetch_source_record", "check_precondition", "extract_fields",
		"fetch_transcript", "verify_transcript", "generate_content",
		"write_back_fields", "finalize",
	} {
		assert.Equal(t, models.StepStatusSuccess, statuses[name], "step %s", name)
	}
}

func TestRunSkipsWhenPreconditionNotMet(t *testing.T) {
	h := newHarness(t)
	h.upstream.record.Fields[0].Value = false

	run := h.execute(t)

	require.Equal(t, models.RunStatusSkipped, run.Status)
	assert.Equal(t, "precondition not met", run.ErrorMessage)

	statuses := stepStatuses(t, h, run.ID)
	assert.Equal(t, models.StepStatusSkipped, statuses["check_precondition"])
	assert.NotContains(t, statuses, "fetch_transcript")
}

func TestRunSkipsEnumeratingMissingPrerequisites(t *testing.T) {
	h := newHarness(t)
	// Strip the asset and drive fields; keep the gate true.
	h.upstream.record.Fields = []pipeline.Field{
		{ID: "f1", Name: "generate_copy", Value: true},
		{ID: "f4", Name: "description", Value: "a video"},
	}

	run := h.execute(t)

	require.Equal(t, models.RunStatusSkipped, run.Status)
	assert.Equal(t, "missing transcript prerequisites: asset id, drive id", run.ErrorMessage)
}

func TestRunSkipsWhenOnlyAssetIDMissing(t *testing.T) {
	h := newHarness(t)
	h.upstream.record.Fields[1].Value = ""

	run := h.execute(t)

	require.Equal(t, models.RunStatusSkipped, run.Status)
	assert.Equal(t, "missing transcript prerequisites: asset id", run.ErrorMessage)
}

func TestTranscriptFetchFailureDoesNotAbortRun(t *testing.T) {
	h := newHarness(t)
	h.upstream.transcriptStatus = http.StatusInternalServerError

	run := h.execute(t)

	// The fetch failed, the run went on with an empty transcript, and the
	// empty transcript then skipped the run.
	require.Equal(t, models.RunStatusSkipped, run.Status)
	assert.Equal(t, "transcript is empty", run.ErrorMessage)

	statuses := stepStatuses(t, h, run.ID)
	assert.Equal(t, models.StepStatusFailed, statuses["fetch_transcript"])
	assert.Equal(t, models.StepStatusSkipped, statuses["verify_transcript"])
}

func TestGenerationFailureFailsRun(t *testing.T) {
	h := newHarness(t)
	h.upstream.generationStatus = http.StatusInternalServerError

	run := h.execute(t)

	require.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "generation returned 500")

	statuses := stepStatuses(t, h, run.ID)
	assert.Equal(t, models.StepStatusFailed, statuses["generate_content"])
	assert.NotContains(t, statuses, "write_back_fields")
}

func TestPartialWriteBackStillSucceeds(t *testing.T) {
	h := newHarness(t)
	// derived_description is absent from the record; derived_title's update
	// returns a hard 500.
	h.upstream.record.Fields = []pipeline.Field{
		{ID: "f1", Name: "generate_copy", Value: true},
		{ID: "f2", Name: "asset_id", Value: "asset-9"},
		{ID: "f3", Name: "drive_id", Value: "drive-4"},
		{ID: "f5", Name: "social_copy", Value: ""},
		{ID: "f6", Name: "derived_title", Value: ""},
		{ID: "f8", Name: "transcript", Value: ""},
	}
	h.upstream.fieldStatus["f6"] = http.StatusInternalServerError

	run := h.execute(t)

	require.Equal(t, models.RunStatusSuccess, run.Status)

	results, ok := run.Output["field_results"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "success", results["social_copy"])
	assert.Equal(t, "success", results["transcript"])
	assert.Equal(t, "error_500", results["derived_title"])
	assert.Equal(t, "field_not_found", results["derived_description"])
}

func TestFieldIndexLookup(t *testing.T) {
	record := &pipeline.Record{
		ID: "r1",
		Fields: []pipeline.Field{
			{ID: "f1", Name: "Generate_Copy", Value: "true"},
			{ID: "f2", Name: "asset_id", Value: "a-1"},
		},
	}

	index := pipeline.NewFieldIndex(record)

	field, ok := index.Field("generate_copy")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, "f1", field.ID)

	assert.True(t, index.BoolValue("generate_copy"), "string \"true\" reads as a true gate")
	assert.Equal(t, "a-1", index.StringValue("asset_id"))
	assert.Empty(t, index.StringValue("nope"))
	assert.False(t, index.BoolValue("nope"))
}

func TestRecordIDFromPayloadAliases(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
		found   bool
	}{
		{"task_id", map[string]any{"task_id": "a"}, "a", true},
		{"camelCase", map[string]any{"taskId": "b"}, "b", true},
		{"bare id", map[string]any{"id": "c"}, "c", true},
		{"record_id", map[string]any{"record_id": "d"}, "d", true},
		{"task_id wins over id", map[string]any{"id": "x", "task_id": "a"}, "a", true},
		{"non-string ignored", map[string]any{"task_id": 42}, "", false},
		{"empty payload", map[string]any{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := pipeline.RecordIDFromPayload(tt.payload)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, got)
		})
	}
}
