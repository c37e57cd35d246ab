package pipeline

import (
	"context"
	"fmt"
	"net/url"

	"github.com/luminacrm/copyflow/pkg/gateway"
)

// RecordClient talks to the source-record API: fetch a record by id and
// update individual fields on it.
type RecordClient struct {
	client  *gateway.Client
	baseURL string
	token   string
}

// NewRecordClient creates a record client for the given API base URL.
func NewRecordClient(client *gateway.Client, baseURL, token string) *RecordClient {
	return &RecordClient{client: client, baseURL: baseURL, token: token}
}

// Fetch retrieves a record by id.
func (rc *RecordClient) Fetch(ctx context.Context, id string) (*Record, error) {
	endpoint := fmt.Sprintf("%s/records/%s", rc.baseURL, url.PathEscape(id))

	response, err := rc.client.Get(ctx, endpoint, bearerHeaders(rc.token))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record %s: %w", id, err)
	}

	if !response.OK() {
		return nil, fmt.Errorf("record fetch for %s returned %d", id, response.StatusCode)
	}

	var record Record

	err = response.JSON(&record)
	if err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
	}

	return &record, nil
}

// UpdateField writes one field value on a record. The raw response is
// returned so the caller can record per-field outcomes.
func (rc *RecordClient) UpdateField(ctx context.Context, recordID, fieldID string, value any) (*gateway.Response, error) {
	endpoint := fmt.Sprintf("%s/records/%s/fields/%s",
		rc.baseURL, url.PathEscape(recordID), url.PathEscape(fieldID))

	return rc.client.Post(ctx, endpoint, bearerHeaders(rc.token), map[string]any{"value": value})
}

// TranscriptClient talks to the transcript-retrieval API.
type TranscriptClient struct {
	client  *gateway.Client
	baseURL string
	apiKey  string
}

// NewTranscriptClient creates a transcript client. An empty apiKey marks the
// integration as unconfigured; callers treat that as a missing prerequisite.
func NewTranscriptClient(client *gateway.Client, baseURL, apiKey string) *TranscriptClient {
	return &TranscriptClient{client: client, baseURL: baseURL, apiKey: apiKey}
}

// Configured reports whether an API key is present.
func (tc *TranscriptClient) Configured() bool {
	return tc.apiKey != ""
}

// Fetch retrieves the transcript text for an asset. A non-OK response is an
// error; callers decide whether that aborts anything.
func (tc *TranscriptClient) Fetch(ctx context.Context, assetID, driveID string) (string, error) {
	endpoint := fmt.Sprintf("%s/transcripts?asset_id=%s&drive_id=%s",
		tc.baseURL, url.QueryEscape(assetID), url.QueryEscape(driveID))

	response, err := tc.client.Get(ctx, endpoint, bearerHeaders(tc.apiKey))
	if err != nil {
		return "", fmt.Errorf("failed to fetch transcript for asset %s: %w", assetID, err)
	}

	if !response.OK() {
		return "", fmt.Errorf("transcript fetch for asset %s returned %d", assetID, response.StatusCode)
	}

	var payload struct {
		Transcript string `json:"transcript"`
	}

	err = response.JSON(&payload)
	if err != nil {
		return "", fmt.Errorf("failed to decode transcript for asset %s: %w", assetID, err)
	}

	return payload.Transcript, nil
}

// Generation is the content-generation service's answer.
type Generation struct {
	ID          string `json:"id"`
	SocialCopy  string `json:"social_copy"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// GenerationRequest is the payload sent to the content-generation service.
// Description is the fallback source when the transcript is thin.
type GenerationRequest struct {
	RecordID    string `json:"record_id"`
	AssetID     string `json:"asset_id,omitempty"`
	Transcript  string `json:"transcript"`
	Description string `json:"description,omitempty"`
}

// GeneratorClient talks to the internal content-generation service.
type GeneratorClient struct {
	client  *gateway.Client
	baseURL string
}

// NewGeneratorClient creates a generator client.
func NewGeneratorClient(client *gateway.Client, baseURL string) *GeneratorClient {
	return &GeneratorClient{client: client, baseURL: baseURL}
}

// Generate requests social copy for a transcript. Non-2xx responses are
// fatal: the error carries the upstream status and body.
func (gc *GeneratorClient) Generate(ctx context.Context, request GenerationRequest) (*Generation, error) {
	response, err := gc.client.Post(ctx, gc.baseURL+"/generate", nil, request)
	if err != nil {
		return nil, fmt.Errorf("failed to call generation service: %w", err)
	}

	if !response.OK() {
		return nil, fmt.Errorf("generation returned %d: %s", response.StatusCode, string(response.Body))
	}

	var generation Generation

	err = response.JSON(&generation)
	if err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}

	return &generation, nil
}

func bearerHeaders(token string) map[string]string {
	if token == "" {
		return nil
	}

	return map[string]string{"Authorization": "Bearer " + token}
}
