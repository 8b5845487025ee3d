package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/affirmly/scribesync/internal/api/v1/services"
	"github.com/affirmly/scribesync/internal/db/repos"
	"github.com/affirmly/scribesync/internal/logger"
	"github.com/affirmly/scribesync/internal/types"
)

// SyncHandler implements the inbound webhook the remote transcription
// service uses to push job state out-of-band, independent of any open
// realtime channel.
type SyncHandler struct {
	service *services.JobService
}

// NewSyncHandler creates a new sync handler instance
func NewSyncHandler(s *services.JobService) *SyncHandler {
	return &SyncHandler{service: s}
}

// UpdateTranscriptionJob handles POST /updateTranscriptionJob. The body
// must carry jobId and a valid status; only the provided fields are
// merged, and writes to already-terminal jobs are benign no-ops exactly
// like the orchestrator's relay path.
func (h *SyncHandler) UpdateTranscriptionJob(c *fiber.Ctx) error {
	var req types.SyncRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.SyncResponse{
			Success: false,
			Error:   "malformed request body: " + err.Error(),
		})
	}

	if req.JobID == "" || req.Status == "" {
		return c.Status(fiber.StatusBadRequest).JSON(types.SyncResponse{
			Success: false,
			JobID:   req.JobID,
			Status:  req.Status,
			Error:   "jobId and status are required",
		})
	}

	update, err := req.ToUpdate()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.SyncResponse{
			Success: false,
			JobID:   req.JobID,
			Status:  req.Status,
			Error:   err.Error(),
		})
	}

	job, err := h.service.SyncJob(c.Context(), req.JobID, update)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(types.SyncResponse{
				Success: false,
				JobID:   req.JobID,
				Status:  req.Status,
				Error:   "unknown job id",
			})
		}
		logger.ErrorWithFields("sync update failed", map[string]interface{}{
			"job_id": req.JobID,
			"error":  err.Error(),
		})
		return c.Status(fiber.StatusInternalServerError).JSON(types.SyncResponse{
			Success: false,
			JobID:   req.JobID,
			Status:  req.Status,
			Error:   err.Error(),
		})
	}

	return c.JSON(types.SyncResponse{
		Success: true,
		JobID:   job.JobID,
		Status:  string(job.Status),
	})
}
