package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/affirmly/scribesync/internal/db/models"
	"github.com/affirmly/scribesync/internal/types"
)

// Store adapts the API client to the orchestrator's JobStore interface,
// letting an orchestrator mirror its updates into a registry served by
// a remote instance of this API instead of a local database.
type Store struct {
	client Client
}

// NewStore wraps an API client as a job store
func NewStore(c Client) *Store {
	return &Store{client: c}
}

// Create implements orchestrator.JobStore. The owner comes from the
// client's configured identity, not the argument.
func (s *Store) Create(ctx context.Context, jobID, _, fileName string, fileSize int64) (*models.Job, error) {
	return s.client.CreateJob(ctx, types.CreateJobRequest{
		JobID:    jobID,
		FileName: fileName,
		FileSize: fileSize,
	})
}

// ApplyUpdate implements orchestrator.JobStore by pushing the update
// through the sync endpoint
func (s *Store) ApplyUpdate(ctx context.Context, jobID string, update models.Update) error {
	req, err := updateToSyncRequest(jobID, update)
	if err != nil {
		return err
	}
	_, err = s.client.SyncJob(ctx, req)
	return err
}

// Cancel implements orchestrator.JobStore
func (s *Store) Cancel(ctx context.Context, jobID, _, reason string) error {
	return s.client.CancelJob(ctx, jobID, reason)
}

// Get implements orchestrator.JobStore
func (s *Store) Get(ctx context.Context, jobID, _ string) (*models.Job, error) {
	return s.client.GetJob(ctx, jobID)
}

func updateToSyncRequest(jobID string, update models.Update) (types.SyncRequest, error) {
	req := types.SyncRequest{JobID: jobID}

	switch u := update.(type) {
	case models.ProgressUpdate:
		req.Status = string(u.TargetStatus())
		progress := u.Progress
		req.Progress = &progress
		req.Message = u.Message
		if u.StartedAt != nil {
			req.Timestamps = &types.SyncTimestamps{StartedAt: u.StartedAt}
		}
	case models.CompletedUpdate:
		req.Status = string(models.JobStatusCompleted)
		req.Message = u.Message
		if len(u.Result) > 0 {
			var result types.TranscriptResult
			if err := json.Unmarshal(u.Result, &result); err != nil {
				return req, fmt.Errorf("failed to decode result payload: %w", err)
			}
			req.Result = &result
		}
		if u.CompletedAt != nil {
			req.Timestamps = &types.SyncTimestamps{CompletedAt: u.CompletedAt}
		}
	case models.FailedUpdate:
		req.Status = string(models.JobStatusFailed)
		req.Error = u.Error
		if u.CompletedAt != nil {
			req.Timestamps = &types.SyncTimestamps{CompletedAt: u.CompletedAt}
		}
	case models.CancelledUpdate:
		req.Status = string(models.JobStatusCancelled)
		req.Message = u.Reason
		if u.CompletedAt != nil {
			req.Timestamps = &types.SyncTimestamps{CompletedAt: u.CompletedAt}
		}
	default:
		return req, fmt.Errorf("unsupported update type %T", update)
	}

	return req, nil
}
