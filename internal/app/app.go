// Package app assembles the fiber application
package app

import (
	"github.com/gofiber/fiber/v2"

	"github.com/affirmly/scribesync/internal/api/middleware"
	"github.com/affirmly/scribesync/internal/api/v1/handlers"
	v1 "github.com/affirmly/scribesync/internal/api/v1/routes"
	"github.com/affirmly/scribesync/internal/api/v1/services"
)

// New builds the fiber app with its middleware and routes
func New(jobService *services.JobService) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})

	app.Use(middleware.Logger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	jobHandler := handlers.NewJobHandler(jobService)
	syncHandler := handlers.NewSyncHandler(jobService)
	v1.Register(app, jobHandler, syncHandler)

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
