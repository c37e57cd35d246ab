package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/luminacrm/copyflow/pkg/cmd"
	"github.com/luminacrm/copyflow/pkg/log"
	"github.com/luminacrm/copyflow/pkg/otelhelper"
	"github.com/luminacrm/copyflow/pkg/triggers/queue"
)

func main() {
	command := &cli.Command{
		Name:                  "copyflow-worker",
		Usage:                 "Drain the run backlog and sweep stale runs",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the enqueue trigger (empty disables it)",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password for the enqueue trigger",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database for the enqueue trigger",
				Sources: cli.EnvVars("REDIS_DB"),
			},
			&cli.StringFlag{
				Name:    "redis-queue",
				Usage:   "Redis list the enqueue trigger consumes",
				Value:   "copyflow_tasks",
				Sources: cli.EnvVars("REDIS_QUEUE"),
			},
		}, cmd.ConfigFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("copyflow-worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing Copyflow Worker")

			tracerProvider, err := otelhelper.InitTracer(ctx, "copyflow-worker")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			defer func() {
				err := tracerProvider.Shutdown(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ledger := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := ledger.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			engine, err := cmd.NewEngine(cmd.ConfigFromCommand(command), ledger, eventBus, logger)
			if err != nil {
				return err
			}

			var trigger *queue.Trigger

			if addr := command.String("redis-addr"); addr != "" {
				trigger, err = queue.NewTrigger(queue.Config{
					Addr:     addr,
					Password: command.String("redis-password"),
					DB:       command.Int("redis-db"),
					Queue:    command.String("redis-queue"),
				}, engine.Initiator, eventBus, logger)
				if err != nil {
					return err
				}
			}

			worker := NewWorker(workerID, engine, eventBus, trigger, logger)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Worker terminated with error", "error", err)
			}

			return err
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
