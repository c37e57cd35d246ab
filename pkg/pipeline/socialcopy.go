package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/luminacrm/copyflow/pkg/config"
	"github.com/luminacrm/copyflow/pkg/runner"
)

// Field names on the source record.
const (
	gateFieldName        = "generate_copy"
	assetIDFieldName     = "asset_id"
	driveIDFieldName     = "drive_id"
	descriptionFieldName = "description"
)

// Target fields written back after generation.
const (
	socialCopyFieldName         = "social_copy"
	derivedTitleFieldName       = "derived_title"
	derivedDescriptionFieldName = "derived_description"
	transcriptFieldName         = "transcript"
)

// recordIDAliases are the payload keys a record id may arrive under.
var recordIDAliases = []string{"task_id", "taskId", "id", "record_id"}

// RecordIDFromPayload resolves the source-record id from a trigger payload,
// accepting the id under any of its known aliases.
func RecordIDFromPayload(payload map[string]any) (string, bool) {
	for _, alias := range recordIDAliases {
		if value, ok := payload[alias].(string); ok && value != "" {
			return value, true
		}
	}

	return "", false
}

// SocialCopy generates social-media copy for a video task: fetch the source
// record, pull the transcript, ask the generation service for copy and write
// the results back onto the record.
type SocialCopy struct {
	records     *RecordClient
	transcripts *TranscriptClient
	generator   *GeneratorClient
	logger      *slog.Logger
}

// NewSocialCopy creates the pipeline.
func NewSocialCopy(records *RecordClient, transcripts *TranscriptClient, generator *GeneratorClient, logger *slog.Logger) *SocialCopy {
	return &SocialCopy{
		records:     records,
		transcripts: transcripts,
		generator:   generator,
		logger:      logger.With("module", "social_copy"),
	}
}

// Name returns the workflow name this pipeline serves.
func (p *SocialCopy) Name() string {
	return config.WorkflowName
}

// Run executes the ordered step sequence. Precondition and data-availability
// misses end the run skipped; a generation failure is the one fatal error.
// Field write-back failures are recorded per field and never abort the run.
func (p *SocialCopy) Run(ctx context.Context, execution *runner.Execution) (map[string]any, error) {
	input := execution.Run().Input

	recordID, ok := RecordIDFromPayload(input)
	if !ok {
		return nil, fmt.Errorf("trigger payload carries no record id")
	}

	record, err := p.fetchSourceRecord(ctx, execution, recordID)
	if err != nil {
		return nil, err
	}

	index := NewFieldIndex(record)

	err = p.checkPrecondition(ctx, execution, index)
	if err != nil {
		return nil, err
	}

	assetID, driveID, description := p.extractFields(ctx, execution, index)

	transcript, err := p.fetchTranscript(ctx, execution, assetID, driveID)
	if err != nil {
		return nil, err
	}

	err = p.verifyTranscript(ctx, execution, transcript)
	if err != nil {
		return nil, err
	}

	generation, err := p.generateContent(ctx, execution, record.ID, assetID, transcript, description)
	if err != nil {
		return nil, err
	}

	fieldResults := p.writeBackFields(ctx, execution, record.ID, index, generation, transcript)

	output := map[string]any{
		"content_id":    generation.ID,
		"duplicate":     false,
		"social_copy":   generation.SocialCopy,
		"field_results": fieldResults,
	}

	_, _ = execution.Step(ctx, "finalize", nil, func(context.Context) (map[string]any, error) {
		return output, nil
	})

	return output, nil
}

func (p *SocialCopy) fetchSourceRecord(ctx context.Context, execution *runner.Execution, recordID string) (*Record, error) {
	var record *Record

	_, err := execution.Step(ctx, "fetch_source_record", map[string]any{"record_id": recordID},
		func(ctx context.Context) (map[string]any, error) {
			fetched, err := p.records.Fetch(ctx, recordID)
			if err != nil {
				return nil, err
			}

			record = fetched

			return map[string]any{"record_id": fetched.ID, "field_count": len(fetched.Fields)}, nil
		})
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (p *SocialCopy) checkPrecondition(ctx context.Context, execution *runner.Execution, index *FieldIndex) error {
	_, err := execution.Step(ctx, "check_precondition", map[string]any{"field": gateFieldName},
		func(context.Context) (map[string]any, error) {
			if !index.BoolValue(gateFieldName) {
				return nil, runner.Skip("precondition not met")
			}

			return map[string]any{"gate": true}, nil
		})

	return err
}

func (p *SocialCopy) extractFields(ctx context.Context, execution *runner.Execution, index *FieldIndex) (assetID, driveID, description string) {
	_, _ = execution.Step(ctx, "extract_fields", nil,
		func(context.Context) (map[string]any, error) {
			assetID = index.StringValue(assetIDFieldName)
			driveID = index.StringValue(driveIDFieldName)
			description = index.StringValue(descriptionFieldName)

			return map[string]any{
				"asset_id_present":    assetID != "",
				"drive_id_present":    driveID != "",
				"description_present": description != "",
			}, nil
		})

	return assetID, driveID, description
}

// fetchTranscript skips the run when a prerequisite is missing, naming each
// absent one. A failing fetch is recorded as a failed step but the run goes
// on with an empty transcript.
func (p *SocialCopy) fetchTranscript(ctx context.Context, execution *runner.Execution, assetID, driveID string) (string, error) {
	var missing []string

	if assetID == "" {
		missing = append(missing, "asset id")
	}

	if !p.transcripts.Configured() {
		missing = append(missing, "api key")
	}

	if driveID == "" {
		missing = append(missing, "drive id")
	}

	var transcript string

	_, err := execution.Step(ctx, "fetch_transcript", map[string]any{"asset_id": assetID, "drive_id": driveID},
		func(ctx context.Context) (map[string]any, error) {
			if len(missing) > 0 {
				return nil, runner.Skipf("missing transcript prerequisites: %s", strings.Join(missing, ", "))
			}

			fetched, err := p.transcripts.Fetch(ctx, assetID, driveID)
			if err != nil {
				return nil, err
			}

			transcript = fetched

			return map[string]any{"transcript_length": len(fetched)}, nil
		})

	if _, skipped := runner.AsSkip(err); skipped {
		return "", err
	}

	if err != nil {
		p.logger.WarnContext(ctx, "Transcript fetch failed, continuing without transcript", "error", err)

		return "", nil
	}

	return transcript, nil
}

func (p *SocialCopy) verifyTranscript(ctx context.Context, execution *runner.Execution, transcript string) error {
	_, err := execution.Step(ctx, "verify_transcript", nil,
		func(context.Context) (map[string]any, error) {
			if transcript == "" {
				return nil, runner.Skip("transcript is empty")
			}

			return map[string]any{"transcript_length": len(transcript)}, nil
		})

	return err
}

func (p *SocialCopy) generateContent(ctx context.Context, execution *runner.Execution, recordID, assetID, transcript, description string) (*Generation, error) {
	var generation *Generation

	_, err := execution.Step(ctx, "generate_content", map[string]any{"record_id": recordID},
		func(ctx context.Context) (map[string]any, error) {
			generated, err := p.generator.Generate(ctx, GenerationRequest{
				RecordID:    recordID,
				AssetID:     assetID,
				Transcript:  transcript,
				Description: description,
			})
			if err != nil {
				return nil, err
			}

			generation = generated

			return map[string]any{"content_id": generated.ID}, nil
		})
	if err != nil {
		return nil, err
	}

	return generation, nil
}

// writeBackFields updates each target field independently. Every outcome is
// caught locally; the run succeeds even when some write-backs fail.
func (p *SocialCopy) writeBackFields(ctx context.Context, execution *runner.Execution, recordID string, index *FieldIndex, generation *Generation, transcript string) map[string]any {
	targets := []struct {
		name  string
		value string
	}{
		{socialCopyFieldName, generation.SocialCopy},
		{derivedTitleFieldName, generation.Title},
		{derivedDescriptionFieldName, generation.Description},
		{transcriptFieldName, transcript},
	}

	results := make(map[string]any, len(targets))

	for _, target := range targets {
		results[target.name] = p.writeBackField(ctx, recordID, index, target.name, target.value)
	}

	_, _ = execution.Step(ctx, "write_back_fields", map[string]any{"record_id": recordID},
		func(context.Context) (map[string]any, error) {
			return results, nil
		})

	return results
}

func (p *SocialCopy) writeBackField(ctx context.Context, recordID string, index *FieldIndex, name, value string) string {
	field, ok := index.Field(name)
	if !ok {
		return "field_not_found"
	}

	response, err := p.records.UpdateField(ctx, recordID, field.ID, value)
	if err != nil {
		return "exception: " + err.Error()
	}

	if !response.OK() {
		return fmt.Sprintf("error_%d", response.StatusCode)
	}

	return "success"
}
