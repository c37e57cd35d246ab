package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/luminacrm/copyflow/pkg/eventbus"
	"github.com/luminacrm/copyflow/pkg/events"
	"github.com/luminacrm/copyflow/pkg/models"
	"github.com/luminacrm/copyflow/pkg/otelhelper"
	"github.com/luminacrm/copyflow/pkg/persistence"
)

// Pipeline is a named, ordered sequence of steps executed for one run.
// Returning a SkipError ends the run as skipped; any other error ends it as
// failed; otherwise the returned output is recorded on the succeeded run.
type Pipeline interface {
	Name() string
	Run(ctx context.Context, execution *Execution) (map[string]any, error)
}

// Executor drives a pipeline for one run and owns the single terminal write.
type Executor struct {
	ledger persistence.Persistence
	bus    eventbus.EventPublisher
	logger *slog.Logger
	tracer trace.Tracer
}

// NewExecutor creates a new step executor. The event publisher may be nil
// when no bus is wired (tests, one-shot tools).
func NewExecutor(ledger persistence.Persistence, bus eventbus.EventPublisher, logger *slog.Logger) *Executor {
	return &Executor{
		ledger: ledger,
		bus:    bus,
		logger: logger.With("module", "step_executor"),
		tracer: otel.Tracer("copyflow"),
	}
}

// Execute runs the pipeline for a run already in running status and performs
// the terminal write exactly once. The returned run carries the final state;
// the error is non-nil only for failed runs (skips are not errors).
func (e *Executor) Execute(ctx context.Context, run *models.WorkflowRun, pipeline Pipeline) (*models.WorkflowRun, error) {
	logger := e.logger.With("run_id", run.ID, "workflow_name", run.WorkflowName)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.run",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.WorkflowNameKey, run.WorkflowName),
		attribute.String(otelhelper.TriggeredByKey, run.TriggeredBy),
	)
	defer span.End()

	logger.InfoContext(ctx, "Starting pipeline", "pipeline", pipeline.Name())

	execution := &Execution{run: run, executor: e, logger: logger}

	output, err := pipeline.Run(ctx, execution)

	switch {
	case err == nil:
		e.finalize(ctx, logger, run, models.RunStatusSuccess, output, "")
	case isSkip(err):
		skip, _ := AsSkip(err)
		logger.InfoContext(ctx, "Pipeline skipped", "reason", skip.Reason)
		e.finalize(ctx, logger, run, models.RunStatusSkipped, nil, skip.Reason)

		err = nil
	default:
		logger.ErrorContext(ctx, "Pipeline failed", "error", err)
		otelhelper.SetError(span, err)
		e.finalize(ctx, logger, run, models.RunStatusFailed, nil, err.Error())
	}

	e.publishFinished(ctx, run)

	return run, err
}

func (e *Executor) finalize(ctx context.Context, logger *slog.Logger, run *models.WorkflowRun, status models.RunStatus, output map[string]any, errorMessage string) {
	err := e.ledger.FinalizeRun(ctx, run.ID, status, output, errorMessage)
	if err != nil {
		if persistence.IsRunAlreadyFinal(err) {
			// Another invocation completed this run first; keep its result.
			logger.WarnContext(ctx, "Run was finalized elsewhere", "status", status)

			return
		}

		logger.ErrorContext(ctx, "Failed to finalize run", "status", status, "error", err)

		return
	}

	now := time.Now().UTC()
	run.Status = status
	run.Output = output
	run.ErrorMessage = errorMessage
	run.FinishedAt = &now

	logger.InfoContext(ctx, "Run finalized", "status", status)
}

func (e *Executor) publishFinished(ctx context.Context, run *models.WorkflowRun) {
	if e.bus == nil || !run.Status.Terminal() {
		return
	}

	event := events.RunFinished{
		BaseEvent: events.NewBaseEvent(events.RunFinishedEvent, run.WorkflowName),
		RunID:     run.ID,
		Status:    run.Status,
		Duration:  time.Since(run.StartedAt),
	}

	err := e.bus.Publish(ctx, run.WorkflowName, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish run finished event", "run_id", run.ID, "error", err)
	}
}

func isSkip(err error) bool {
	_, ok := AsSkip(err)

	return ok
}

// Execution is the step-logging facade handed to pipelines. Steps execute
// strictly sequentially; each one appends a trace row and refreshes the
// run's lease heartbeat.
type Execution struct {
	run      *models.WorkflowRun
	executor *Executor
	logger   *slog.Logger
}

// Run returns the run under execution.
func (x *Execution) Run() *models.WorkflowRun {
	return x.run
}

// Step runs fn as a named step, tracing it and appending one row to the step
// trace. The step's status follows the returned error: nil is success, a
// SkipError is skipped, anything else is failed. The error is returned
// unwrapped so the pipeline decides whether it aborts the run.
func (x *Execution) Step(ctx context.Context, name string, request map[string]any, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error) {
	startedAt := time.Now().UTC()

	ctx, span := otelhelper.StartSpan(ctx, x.executor.tracer, "step."+name,
		attribute.String(otelhelper.RunIDKey, x.run.ID),
		attribute.String(otelhelper.StepNameKey, name),
	)
	defer span.End()

	response, err := fn(ctx)

	status := models.StepStatusSuccess

	switch {
	case err == nil:
	case isSkip(err):
		status = models.StepStatusSkipped
	default:
		status = models.StepStatusFailed
		otelhelper.SetError(span, err)
	}

	x.LogStep(ctx, name, status, request, response, err, startedAt)

	return response, err
}

// LogStep appends one row to the step trace. Trace-write problems are logged
// and swallowed: losing a trace row must not fail the run.
func (x *Execution) LogStep(ctx context.Context, name string, status models.StepStatus, request, response map[string]any, stepErr error, startedAt time.Time) {
	finishedAt := time.Now().UTC()

	step := &models.WorkflowRunStep{
		ID:         uuid.NewString(),
		RunID:      x.run.ID,
		StepName:   name,
		Status:     status,
		Request:    request,
		Response:   response,
		StartedAt:  startedAt,
		FinishedAt: &finishedAt,
	}

	if stepErr != nil {
		step.ErrorMessage = stepErr.Error()
	}

	err := x.executor.ledger.AppendStep(ctx, step)
	if err != nil {
		x.logger.ErrorContext(ctx, "Failed to append step trace", "step_name", name, "error", err)
	}

	err = x.executor.ledger.Heartbeat(ctx, x.run.ID, finishedAt)
	if err != nil {
		x.logger.ErrorContext(ctx, "Failed to heartbeat run", "error", err)
	}

	x.logger.DebugContext(ctx, "Step recorded", "step_name", name, "status", status)
}
