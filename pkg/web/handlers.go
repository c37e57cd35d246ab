// Package web provides the HTTP surface: the webhook entry point, the drain
// endpoint and read-side access to the run ledger.
package web

import (
	"encoding/json"
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/xeipuuv/gojsonschema"

	"github.com/luminacrm/copyflow/pkg/config"
	"github.com/luminacrm/copyflow/pkg/drainer"
	"github.com/luminacrm/copyflow/pkg/models"
	"github.com/luminacrm/copyflow/pkg/persistence"
	"github.com/luminacrm/copyflow/pkg/pipeline"
	"github.com/luminacrm/copyflow/pkg/runner"
)

// Handlers wires the HTTP endpoints to the run engine.
type Handlers struct {
	ledger        persistence.Persistence
	initiator     *runner.Initiator
	executor      *runner.Executor
	pipeline      runner.Pipeline
	drainer       *drainer.Drainer
	webhookSecret string
	triggerSchema *gojsonschema.Schema
	logger        *slog.Logger
}

// NewHandlers creates the HTTP handlers. triggerSchema may be nil, in which
// case payloads are only checked for well-formed JSON.
func NewHandlers(
	ledger persistence.Persistence,
	initiator *runner.Initiator,
	executor *runner.Executor,
	pipe runner.Pipeline,
	drain *drainer.Drainer,
	webhookSecret string,
	triggerSchema *gojsonschema.Schema,
	logger *slog.Logger,
) *Handlers {
	if webhookSecret == "" {
		logger.Warn("Webhook signature verification is disabled: no secret configured")
	}

	return &Handlers{
		ledger:        ledger,
		initiator:     initiator,
		executor:      executor,
		pipeline:      pipe,
		drainer:       drain,
		webhookSecret: webhookSecret,
		triggerSchema: triggerSchema,
		logger:        logger.With("module", "web"),
	}
}

// Register mounts all routes on the app.
func (h *Handlers) Register(app *fiber.App) {
	app.All("/webhooks/generate-copy", h.Webhook)
	app.All("/queue/drain", h.Drain)
	app.Get("/runs/:id", h.GetRun)
	app.Get("/runs/:id/steps", h.GetRunSteps)
	app.Get("/health", h.HealthCheck)
}

// Webhook receives a task-management notification and runs the pipeline
// synchronously.
func (h *Handlers) Webhook(c fiber.Ctx) error {
	if c.Method() != fiber.MethodPost {
		return methodNotAllowed(c)
	}

	body := c.Body()

	if h.webhookSecret != "" {
		signature := c.Get("X-Signature")
		if !ValidSignature(h.webhookSecret, body, signature) {
			return unauthorized(c, "signature verification failed")
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if h.triggerSchema != nil {
		result, err := h.triggerSchema.Validate(gojsonschema.NewGoLoader(payload))
		if err != nil {
			return badRequest(c, "payload validation failed: "+err.Error())
		}

		if !result.Valid() {
			return badRequest(c, "payload validation failed: "+result.Errors()[0].String())
		}
	}

	recordID, ok := pipeline.RecordIDFromPayload(payload)
	if !ok {
		return c.JSON(fiber.Map{"ok": true, "skipped": true})
	}

	disambiguator, _ := payload["instance_id"].(string)

	run, duplicate, err := h.initiator.StartOrResume(c.Context(), runner.Trigger{
		WorkflowName:  config.WorkflowName,
		ExternalID:    recordID,
		Disambiguator: disambiguator,
		TriggeredBy:   "webhook",
		Payload:       payload,
	})
	if err != nil {
		return internalError(c, err)
	}

	if duplicate {
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	finished, err := h.executor.Execute(c.Context(), run, h.pipeline)
	if err != nil {
		return internalError(c, err)
	}

	if finished.Status == models.RunStatusSkipped {
		return c.JSON(fiber.Map{"ok": true, "skipped": true, "reason": finished.ErrorMessage})
	}

	return c.JSON(fiber.Map{
		"ok":          true,
		"content_id":  finished.Output["content_id"],
		"duplicate":   false,
		"social_copy": finished.Output["social_copy"],
	})
}

// Drain executes one backlog pass.
func (h *Handlers) Drain(c fiber.Ctx) error {
	if c.Method() != fiber.MethodPost {
		return methodNotAllowed(c)
	}

	processed, remaining, err := h.drainer.Drain(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"ok": true, "processed": processed, "remaining": remaining})
}

// GetRun returns one run from the ledger.
func (h *Handlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.ledger.RunByID(c.Context(), id)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			return notFound(c, "Run not found")
		}

		return internalError(c, err)
	}

	return c.JSON(run)
}

// GetRunSteps returns the step trace for a run.
func (h *Handlers) GetRunSteps(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	if _, err := h.ledger.RunByID(c.Context(), id); err != nil {
		if persistence.IsRunNotFound(err) {
			return notFound(c, "Run not found")
		}

		return internalError(c, err)
	}

	steps, err := h.ledger.StepsByRun(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"run_id": id, "steps": steps})
}

// HealthCheck reports ledger health.
func (h *Handlers) HealthCheck(c fiber.Ctx) error {
	err := h.ledger.HealthCheck(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "unhealthy",
			"message": "run ledger is unreachable",
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}
