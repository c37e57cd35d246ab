// Package config carries the explicit engine configuration. Delay intervals,
// batch sizes and retry counts travel inside this struct instead of living as
// process-wide constants.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// WorkflowName tags every run produced by the social-copy pipeline.
const WorkflowName = "generate-social-copy"

const (
	defaultDrainBatchSize   = 10
	defaultDrainDelay       = 2 * time.Second
	defaultRetryMaxAttempts = 3
	defaultRetryBaseDelay   = 1 * time.Second
	defaultRetryJitterMax   = 500 * time.Millisecond
	defaultRunLease         = 10 * time.Minute
	defaultSweepSchedule    = "*/5 * * * *"
)

// Config is the engine configuration shared by the API and the worker.
type Config struct {
	// Collaborator endpoints.
	RecordsAPIURL    string `validate:"required,url"`
	RecordsAPIToken  string
	TranscriptAPIURL string `validate:"omitempty,url"`
	TranscriptAPIKey string
	GeneratorURL     string `validate:"required,url"`

	// Webhook verification. An empty secret bypasses signature checks.
	WebhookSecret string

	// Optional JSON schema the webhook trigger payload must satisfy.
	TriggerSchema string

	// Drainer tuning.
	DrainBatchSize int           `validate:"min=1"`
	DrainDelay     time.Duration // inter-item delay, rate limit for the transcript provider

	// Gateway retry tuning.
	RetryMaxAttempts int `validate:"min=1"`
	RetryBaseDelay   time.Duration
	RetryJitterMax   time.Duration

	// Stale-run reclamation.
	RunLease      time.Duration
	SweepSchedule string
}

// Default returns a Config with production defaults. Endpoints must still be
// filled in by the caller.
func Default() Config {
	return Config{
		DrainBatchSize:   defaultDrainBatchSize,
		DrainDelay:       defaultDrainDelay,
		RetryMaxAttempts: defaultRetryMaxAttempts,
		RetryBaseDelay:   defaultRetryBaseDelay,
		RetryJitterMax:   defaultRetryJitterMax,
		RunLease:         defaultRunLease,
		SweepSchedule:    defaultSweepSchedule,
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	err := validate.Struct(c)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.DrainDelay < 0 {
		return errors.New("invalid configuration: drain delay must not be negative")
	}

	if c.RetryBaseDelay <= 0 {
		return errors.New("invalid configuration: retry base delay must be positive")
	}

	if c.RunLease <= 0 {
		return errors.New("invalid configuration: run lease must be positive")
	}

	return nil
}
