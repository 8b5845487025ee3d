// Package handlers implements the HTTP handlers for the job registry
// API and the external sync endpoint.
package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/affirmly/scribesync/internal/api/v1/services"
	"github.com/affirmly/scribesync/internal/db/models"
	"github.com/affirmly/scribesync/internal/db/repos"
	"github.com/affirmly/scribesync/internal/types"
)

// OwnerHeader carries the requesting owner's identity. Every registry
// read and write is scoped to it.
const OwnerHeader = "X-Owner-ID"

// JobHandler handles HTTP requests for job registry operations
type JobHandler struct {
	service *services.JobService
}

// NewJobHandler creates a new job handler instance
func NewJobHandler(s *services.JobService) *JobHandler {
	return &JobHandler{service: s}
}

func ownerID(c *fiber.Ctx) string {
	return c.Get(OwnerHeader)
}

// CreateJob handles the request to register a submitted job
func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	owner := ownerID(c)
	if owner == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("missing " + OwnerHeader + " header"))
	}

	var req types.CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}
	if req.JobID == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("job_id is required"))
	}

	job, err := h.service.CreateJob(c.Context(), req.JobID, owner, req.FileName, req.FileSize)
	if err != nil {
		if errors.Is(err, repos.ErrJobExists) {
			return c.Status(fiber.StatusConflict).
				JSON(errConflict(err.Error()))
		}
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.Status(fiber.StatusCreated).JSON(Response{
		Slug: SuccessSlug,
		Data: job,
	})
}

// GetJob handles the request to fetch one of the owner's jobs. A job
// that does not exist and a job owned by someone else both come back as
// not-found.
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	owner := ownerID(c)
	if owner == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("missing " + OwnerHeader + " header"))
	}
	jobID := c.Params("id")
	if jobID == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid job id"))
	}

	job, err := h.service.GetJob(c.Context(), jobID, owner)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}
	if job == nil {
		return c.Status(fiber.StatusNotFound).
			JSON(errNotFound("job not found"))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: job,
	})
}

// ListJobs handles the request to list the owner's jobs. Supported
// query parameters: active=true for non-terminal jobs, status for a
// comma-separated status set, limit for the page size.
func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	owner := ownerID(c)
	if owner == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("missing " + OwnerHeader + " header"))
	}

	var (
		jobs []models.Job
		err  error
	)
	switch {
	case c.QueryBool("active"):
		jobs, err = h.service.ListActiveJobs(c.Context(), owner)
	case c.Query("status") != "":
		var statuses []models.JobStatus
		for _, raw := range strings.Split(c.Query("status"), ",") {
			status, parseErr := models.ParseJobStatus(strings.TrimSpace(raw))
			if parseErr != nil {
				return c.Status(fiber.StatusBadRequest).
					JSON(errInvalidInput("invalid job status: " + raw))
			}
			statuses = append(statuses, status)
		}
		jobs, err = h.service.ListJobsByStatus(c.Context(), owner, statuses)
	default:
		jobs, err = h.service.ListJobs(c.Context(), owner, c.QueryInt("limit", 50))
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: jobs,
	})
}

// CancelJob handles the request to cancel one of the owner's jobs
func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	owner := ownerID(c)
	if owner == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("missing " + OwnerHeader + " header"))
	}
	jobID := c.Params("id")
	if jobID == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid job id"))
	}

	var req types.CancelJobRequest
	// The body is optional; an empty reason gets a default downstream
	_ = c.BodyParser(&req)

	err := h.service.CancelJob(c.Context(), jobID, owner, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, repos.ErrNotFound):
			return c.Status(fiber.StatusNotFound).
				JSON(errNotFound("job not found"))
		case errors.Is(err, repos.ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).
				JSON(errConflict(err.Error()))
		default:
			return c.Status(fiber.StatusInternalServerError).
				JSON(errServer(err.Error()))
		}
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: "job cancelled",
	})
}
