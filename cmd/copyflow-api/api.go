// Package main provides the Copyflow API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/luminacrm/copyflow/pkg/cmd"
	"github.com/luminacrm/copyflow/pkg/web"
)

type API struct {
	logger *slog.Logger
	engine *cmd.Engine
}

func NewAPI(logger *slog.Logger, engine *cmd.Engine) *API {
	return &API{logger: logger, engine: engine}
}

func (a *API) App() *fiber.App {
	handlers := web.NewHandlers(
		a.engine.Ledger,
		a.engine.Initiator,
		a.engine.Executor,
		a.engine.Pipeline,
		a.engine.Drainer,
		a.engine.Config.WebhookSecret,
		a.engine.Schema,
		a.logger,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Copyflow API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
