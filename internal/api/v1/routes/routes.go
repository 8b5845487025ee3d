// Package routes wires the v1 API routes
package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/affirmly/scribesync/internal/api/v1/handlers"
)

// SetupRoutes configures all the v1 routes
func SetupRoutes(router fiber.Router, jobs *handlers.JobHandler) {
	group := router.Group("/jobs")
	group.Post("/", jobs.CreateJob)
	group.Get("/", jobs.ListJobs)
	group.Get("/:id", jobs.GetJob)
	group.Delete("/:id", jobs.CancelJob)
}

// Register registers the v1 routes plus the sync webhook
func Register(app *fiber.App, jobs *handlers.JobHandler, sync *handlers.SyncHandler) {
	// The remote transcription service pushes updates here; it is not
	// part of the owner-scoped v1 surface
	app.Post("/updateTranscriptionJob", sync.UpdateTranscriptionJob)

	v1Group := app.Group("/api/v1")
	SetupRoutes(v1Group, jobs)
}
