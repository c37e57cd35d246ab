// Package main provides the Copyflow worker: it drains the run backlog on
// request and sweeps stale runs back into the queue.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/luminacrm/copyflow/pkg/cmd"
	"github.com/luminacrm/copyflow/pkg/eventbus"
	"github.com/luminacrm/copyflow/pkg/events"
	"github.com/luminacrm/copyflow/pkg/triggers/queue"
)

type Worker struct {
	workerID string
	engine   *cmd.Engine
	eventBus eventbus.EventBus
	trigger  *queue.Trigger
	cron     *cron.Cron
	logger   *slog.Logger
}

func NewWorker(workerID string, engine *cmd.Engine, eventBus eventbus.EventBus, trigger *queue.Trigger, logger *slog.Logger) *Worker {
	return &Worker{
		workerID: workerID,
		engine:   engine,
		eventBus: eventBus,
		trigger:  trigger,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start wires the drain-requested subscription, the stale-run sweeper and
// the optional queue trigger, then blocks until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	err := w.eventBus.Handle(events.DrainRequestedEvent, w.handleDrainRequested)
	if err != nil {
		return fmt.Errorf("failed to register drain handler: %w", err)
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	_, err = w.cron.AddFunc(w.engine.Config.SweepSchedule, func() {
		w.sweepStaleRuns(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule stale-run sweeper: %w", err)
	}

	w.cron.Start()

	if w.trigger != nil {
		err = w.trigger.Start(ctx)
		if err != nil {
			return fmt.Errorf("failed to start queue trigger: %w", err)
		}
	}

	w.logger.InfoContext(ctx, "Worker started", "sweep_schedule", w.engine.Config.SweepSchedule)

	<-ctx.Done()

	return w.stop()
}

func (w *Worker) handleDrainRequested(ctx context.Context, event any) error {
	request, ok := event.(*events.DrainRequested)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	w.logger.InfoContext(ctx, "Drain requested", "remaining", request.Remaining)

	processed, remaining, err := w.engine.Drainer.Drain(ctx)
	if err != nil {
		return fmt.Errorf("drain pass failed: %w", err)
	}

	w.logger.InfoContext(ctx, "Drain pass complete", "processed", processed, "remaining", remaining)

	return nil
}

func (w *Worker) sweepStaleRuns(ctx context.Context) {
	requeued, err := w.engine.Ledger.RequeueStaleRuns(ctx, w.engine.Config.RunLease)
	if err != nil {
		w.logger.ErrorContext(ctx, "Stale-run sweep failed", "error", err)

		return
	}

	if requeued == 0 {
		return
	}

	w.logger.InfoContext(ctx, "Requeued stale runs", "count", requeued)

	event := events.DrainRequested{
		BaseEvent: events.NewBaseEvent(events.DrainRequestedEvent, ""),
		Remaining: requeued,
	}

	err = w.eventBus.Publish(ctx, events.Topic, event)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to request drain after sweep", "error", err)
	}
}

func (w *Worker) stop() error {
	stopCtx := w.cron.Stop()
	<-stopCtx.Done()

	if w.trigger != nil {
		err := w.trigger.Stop(context.Background())
		if err != nil {
			return err
		}
	}

	w.logger.Info("Worker stopped")

	return nil
}
