// Package drainer processes the queued-run backlog in rate-limited batches.
package drainer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/luminacrm/copyflow/pkg/eventbus"
	"github.com/luminacrm/copyflow/pkg/events"
	"github.com/luminacrm/copyflow/pkg/persistence"
	"github.com/luminacrm/copyflow/pkg/runner"
)

// Drainer claims queued runs and feeds them through the executor one at a
// time, pausing between items to stay under third-party rate limits. When
// backlog remains after a pass it publishes a drain-requested event so the
// worker chains the next pass instead of looping in-process.
type Drainer struct {
	ledger    persistence.Persistence
	executor  *runner.Executor
	pipeline  runner.Pipeline
	bus       eventbus.EventPublisher
	batchSize int
	delay     time.Duration
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewDrainer creates a drainer. The event publisher may be nil; continuation
// is then left to the caller.
func NewDrainer(ledger persistence.Persistence, executor *runner.Executor, pipeline runner.Pipeline, bus eventbus.EventPublisher, batchSize int, delay time.Duration, logger *slog.Logger) *Drainer {
	return &Drainer{
		ledger:    ledger,
		executor:  executor,
		pipeline:  pipeline,
		bus:       bus,
		batchSize: batchSize,
		delay:     delay,
		logger:    logger.With("module", "queue_drainer"),
		sleep:     sleepContext,
	}
}

// Drain executes one pass: claim up to batchSize queued runs, run each
// through the pipeline sequentially, and report how many were processed and
// how many remain queued. Individual run failures are recorded on the run
// and do not abort the pass.
func (d *Drainer) Drain(ctx context.Context) (processed, remaining int, err error) {
	claimed, err := d.ledger.ClaimQueuedRuns(ctx, d.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to claim queued runs: %w", err)
	}

	d.logger.InfoContext(ctx, "Starting drain pass", "claimed", len(claimed))

	for i, run := range claimed {
		if i > 0 {
			if err := d.sleep(ctx, d.delay); err != nil {
				remaining, _ := d.ledger.CountQueuedRuns(ctx)

				return processed, remaining, err
			}
		}

		_, runErr := d.executor.Execute(ctx, run, d.pipeline)
		if runErr != nil {
			d.logger.WarnContext(ctx, "Run failed during drain", "run_id", run.ID, "error", runErr)
		}

		processed++
	}

	remaining, err = d.ledger.CountQueuedRuns(ctx)
	if err != nil {
		return processed, 0, fmt.Errorf("failed to count backlog: %w", err)
	}

	d.logger.InfoContext(ctx, "Drain pass finished", "processed", processed, "remaining", remaining)

	if remaining > 0 {
		d.requestContinuation(ctx, remaining)
	}

	return processed, remaining, nil
}

// requestContinuation publishes a drain-requested event after one delay
// interval, keeping the inter-item pacing across pass boundaries.
func (d *Drainer) requestContinuation(ctx context.Context, remaining int) {
	if d.bus == nil {
		return
	}

	if err := d.sleep(ctx, d.delay); err != nil {
		return
	}

	event := events.DrainRequested{
		BaseEvent: events.NewBaseEvent(events.DrainRequestedEvent, ""),
		Remaining: remaining,
	}

	err := d.bus.Publish(ctx, events.Topic, event)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to publish drain continuation", "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
