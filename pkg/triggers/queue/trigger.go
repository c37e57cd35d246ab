// Package queue provides a redis-backed enqueue trigger: messages popped off
// a list become queued runs for the drainer to pick up.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/luminacrm/copyflow/pkg/config"
	"github.com/luminacrm/copyflow/pkg/eventbus"
	"github.com/luminacrm/copyflow/pkg/events"
	"github.com/luminacrm/copyflow/pkg/pipeline"
	"github.com/luminacrm/copyflow/pkg/runner"
)

const (
	popTimeout  = 1 * time.Second
	pingTimeout = 5 * time.Second
)

// Config holds the redis connection and queue settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Queue    string
}

// Trigger consumes record ids from a redis list with BLPOP and pre-seeds a
// queued run for each, then asks the worker for a drain pass.
type Trigger struct {
	config    Config
	initiator *runner.Initiator
	bus       eventbus.EventPublisher
	client    redis.UniversalClient
	logger    *slog.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewTrigger creates the trigger. The connection is established on Start.
func NewTrigger(cfg Config, initiator *runner.Initiator, bus eventbus.EventPublisher, logger *slog.Logger) (*Trigger, error) {
	trigger := &Trigger{
		config:    cfg,
		initiator: initiator,
		bus:       bus,
		stopCh:    make(chan struct{}),
		logger: logger.With(
			"module", "queue_trigger",
			"queue", cfg.Queue,
		),
	}

	err := trigger.Validate()
	if err != nil {
		return nil, err
	}

	return trigger, nil
}

// Validate checks the trigger configuration.
func (t *Trigger) Validate() error {
	if t.config.Queue == "" {
		return errors.New("queue trigger queue name is required")
	}

	return nil
}

// Start connects to redis and begins consuming.
func (t *Trigger) Start(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Starting queue trigger")

	err := t.initializeClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize queue client: %w", err)
	}

	t.wg.Add(1)

	go t.consume(ctx)

	return nil
}

func (t *Trigger) initializeClient(ctx context.Context) error {
	addr := t.config.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	t.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: t.config.Password,
		DB:       t.config.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	err := t.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	t.logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", t.config.DB)

	return nil
}

func (t *Trigger) consume(ctx context.Context) {
	defer t.wg.Done()

	t.logger.InfoContext(ctx, "Starting queue consumer")

	for {
		select {
		case <-t.stopCh:
			t.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			err := t.processMessage(ctx)
			if err != nil {
				t.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (t *Trigger) processMessage(ctx context.Context) error {
	result, err := t.client.BLPop(ctx, popTimeout, t.config.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	message := result[1]

	var payload map[string]any
	if err := json.Unmarshal([]byte(message), &payload); err != nil {
		// Bare record ids are accepted alongside JSON envelopes.
		payload = map[string]any{"record_id": message}
	}

	return t.enqueue(ctx, payload)
}

func (t *Trigger) enqueue(ctx context.Context, payload map[string]any) error {
	recordID, ok := pipeline.RecordIDFromPayload(payload)
	if !ok {
		t.logger.WarnContext(ctx, "Dropping queue message without a record id")

		return nil
	}

	disambiguator, _ := payload["instance_id"].(string)

	run, duplicate, err := t.initiator.Enqueue(ctx, runner.Trigger{
		WorkflowName:  config.WorkflowName,
		ExternalID:    recordID,
		Disambiguator: disambiguator,
		TriggeredBy:   "queue",
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue run for record %s: %w", recordID, err)
	}

	if duplicate {
		t.logger.InfoContext(ctx, "Skipping already-succeeded record", "record_id", recordID)

		return nil
	}

	t.logger.InfoContext(ctx, "Enqueued run", "run_id", run.ID, "record_id", recordID)

	if t.bus != nil {
		queued := events.RunQueued{
			BaseEvent:      events.NewBaseEvent(events.RunQueuedEvent, config.WorkflowName),
			RunID:          run.ID,
			IdempotencyKey: run.IdempotencyKey,
			TriggeredBy:    run.TriggeredBy,
		}

		err = t.bus.Publish(ctx, config.WorkflowName, queued)
		if err != nil {
			t.logger.ErrorContext(ctx, "Failed to publish run queued event", "error", err)
		}

		drain := events.DrainRequested{
			BaseEvent: events.NewBaseEvent(events.DrainRequestedEvent, config.WorkflowName),
			Remaining: 1,
		}

		err = t.bus.Publish(ctx, events.Topic, drain)
		if err != nil {
			t.logger.ErrorContext(ctx, "Failed to request drain pass", "error", err)
		}
	}

	return nil
}

// Stop halts consumption and closes the redis connection.
func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping queue trigger")

	close(t.stopCh)
	t.wg.Wait()

	if t.client != nil {
		err := t.client.Close()
		if err != nil {
			t.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
