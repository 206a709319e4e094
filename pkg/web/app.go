package web

import (
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// NewApp mounts the control API routes. metricsHandler serves /metrics when set.
func NewApp(handlers *APIHandlers, metricsHandler http.Handler) *fiber.App {
	app := fiber.New(fiber.Config{AppName: "flowmedic"})
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return handlers.store.HealthCheck(c.Context()) == nil
		},
	}))
	app.Get("/health", handlers.HealthCheck)

	if metricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metricsHandler))
	}

	e := app.Group("/executions")
	e.Get("/", handlers.ListExecutions)
	e.Post("/", handlers.CreateExecution)
	e.Get("/:id", handlers.GetExecution)
	e.Delete("/:id", handlers.CancelExecution)

	app.Post("/classify", handlers.Classify)

	f := app.Group("/fixes")
	f.Post("/preview", handlers.PreviewFix)
	f.Post("/apply", handlers.ApplyFix)

	app.Get("/healing/history", handlers.HealingHistory)

	a := app.Group("/alerts/rules")
	a.Get("/", handlers.ListAlertRules)
	a.Put("/:id", handlers.UpdateAlertRule)

	return app
}
