package cmd

import (
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	"github.com/luminacrm/copyflow/pkg/config"
	"github.com/luminacrm/copyflow/pkg/drainer"
	"github.com/luminacrm/copyflow/pkg/eventbus"
	"github.com/luminacrm/copyflow/pkg/gateway"
	"github.com/luminacrm/copyflow/pkg/persistence"
	"github.com/luminacrm/copyflow/pkg/pipeline"
	"github.com/luminacrm/copyflow/pkg/runner"
)

// Engine bundles the run-engine components the API and the worker share.
type Engine struct {
	Config    config.Config
	Ledger    persistence.Persistence
	Initiator *runner.Initiator
	Executor  *runner.Executor
	Pipeline  *pipeline.SocialCopy
	Drainer   *drainer.Drainer
	Schema    *gojsonschema.Schema
}

// NewEngine assembles the pipeline and its harness from configuration.
func NewEngine(cfg config.Config, ledger persistence.Persistence, bus eventbus.EventPublisher, logger *slog.Logger) (*Engine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	client := gateway.NewClient(logger, gateway.Options{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		JitterMax:   cfg.RetryJitterMax,
	})

	pipe := pipeline.NewSocialCopy(
		pipeline.NewRecordClient(client, cfg.RecordsAPIURL, cfg.RecordsAPIToken),
		pipeline.NewTranscriptClient(client, cfg.TranscriptAPIURL, cfg.TranscriptAPIKey),
		pipeline.NewGeneratorClient(client, cfg.GeneratorURL),
		logger,
	)

	executor := runner.NewExecutor(ledger, bus, logger)

	var schema *gojsonschema.Schema

	if cfg.TriggerSchema != "" {
		schema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(cfg.TriggerSchema))
		if err != nil {
			return nil, fmt.Errorf("failed to compile trigger schema: %w", err)
		}
	}

	return &Engine{
		Config:    cfg,
		Ledger:    ledger,
		Initiator: runner.NewInitiator(ledger, logger),
		Executor:  executor,
		Pipeline:  pipe,
		Drainer:   drainer.NewDrainer(ledger, executor, pipe, bus, cfg.DrainBatchSize, cfg.DrainDelay, logger),
		Schema:    schema,
	}, nil
}
