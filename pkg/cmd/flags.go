package cmd

import (
	cli "github.com/urfave/cli/v3"

	"github.com/luminacrm/copyflow/pkg/config"
)

// ConfigFlags returns the engine configuration flags shared by the API and
// the worker binaries.
func ConfigFlags() []cli.Flag {
	defaults := config.Default()

	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Run ledger connection URL (postgres://... or a directory path)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:     "records-api-url",
			Usage:    "Base URL of the source-record API",
			Required: true,
			Sources:  cli.EnvVars("RECORDS_API_URL"),
		},
		&cli.StringFlag{
			Name:    "records-api-token",
			Usage:   "Bearer token for the source-record API",
			Sources: cli.EnvVars("RECORDS_API_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "transcript-api-url",
			Usage:   "Base URL of the transcript-retrieval API",
			Sources: cli.EnvVars("TRANSCRIPT_API_URL"),
		},
		&cli.StringFlag{
			Name:    "transcript-api-key",
			Usage:   "API key for the transcript-retrieval API",
			Sources: cli.EnvVars("TRANSCRIPT_API_KEY"),
		},
		&cli.StringFlag{
			Name:     "generator-url",
			Usage:    "Base URL of the content-generation service",
			Required: true,
			Sources:  cli.EnvVars("GENERATOR_URL"),
		},
		&cli.StringFlag{
			Name:    "webhook-secret",
			Usage:   "Shared secret for webhook signature verification (empty disables it)",
			Sources: cli.EnvVars("WEBHOOK_SECRET"),
		},
		&cli.StringFlag{
			Name:    "trigger-schema",
			Usage:   "Inline JSON schema the webhook payload must satisfy",
			Sources: cli.EnvVars("TRIGGER_SCHEMA"),
		},
		&cli.IntFlag{
			Name:    "drain-batch-size",
			Usage:   "Maximum queued runs claimed per drain pass",
			Value:   defaults.DrainBatchSize,
			Sources: cli.EnvVars("DRAIN_BATCH_SIZE"),
		},
		&cli.DurationFlag{
			Name:    "drain-delay",
			Usage:   "Pause between drained items",
			Value:   defaults.DrainDelay,
			Sources: cli.EnvVars("DRAIN_DELAY"),
		},
		&cli.IntFlag{
			Name:    "retry-max-attempts",
			Usage:   "Maximum attempts per outbound call",
			Value:   defaults.RetryMaxAttempts,
			Sources: cli.EnvVars("RETRY_MAX_ATTEMPTS"),
		},
		&cli.DurationFlag{
			Name:    "retry-base-delay",
			Usage:   "Base backoff delay between retries",
			Value:   defaults.RetryBaseDelay,
			Sources: cli.EnvVars("RETRY_BASE_DELAY"),
		},
		&cli.DurationFlag{
			Name:    "run-lease",
			Usage:   "Heartbeat age after which a running run is considered stale",
			Value:   defaults.RunLease,
			Sources: cli.EnvVars("RUN_LEASE"),
		},
		&cli.StringFlag{
			Name:    "sweep-schedule",
			Usage:   "Cron schedule for the stale-run sweeper",
			Value:   defaults.SweepSchedule,
			Sources: cli.EnvVars("SWEEP_SCHEDULE"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// ConfigFromCommand builds the engine configuration from parsed flags.
func ConfigFromCommand(command *cli.Command) config.Config {
	cfg := config.Default()

	cfg.RecordsAPIURL = command.String("records-api-url")
	cfg.RecordsAPIToken = command.String("records-api-token")
	cfg.TranscriptAPIURL = command.String("transcript-api-url")
	cfg.TranscriptAPIKey = command.String("transcript-api-key")
	cfg.GeneratorURL = command.String("generator-url")
	cfg.WebhookSecret = command.String("webhook-secret")
	cfg.TriggerSchema = command.String("trigger-schema")
	cfg.DrainBatchSize = command.Int("drain-batch-size")
	cfg.DrainDelay = command.Duration("drain-delay")
	cfg.RetryMaxAttempts = command.Int("retry-max-attempts")
	cfg.RetryBaseDelay = command.Duration("retry-base-delay")
	cfg.RunLease = command.Duration("run-lease")
	cfg.SweepSchedule = command.String("sweep-schedule")

	return cfg
}
