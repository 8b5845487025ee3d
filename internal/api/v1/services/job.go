// Package services provides business logic for the job registry API
package services

import (
	"context"
	"time"

	"github.com/affirmly/scribesync/internal/db/models"
	"github.com/affirmly/scribesync/internal/db/repos"
)

// JobService provides business logic for job registry operations
type JobService struct {
	repo *repos.JobRepository
}

// NewJobService creates a new job service instance
func NewJobService(repo *repos.JobRepository) *JobService {
	return &JobService{repo: repo}
}

// CreateJob registers a job record for an owner
func (s *JobService) CreateJob(ctx context.Context, jobID, ownerID, fileName string, fileSize int64) (*models.Job, error) {
	return s.repo.Create(ctx, jobID, ownerID, fileName, fileSize)
}

// GetJob retrieves an owner's job; (nil, nil) when it does not exist
// for that owner
func (s *JobService) GetJob(ctx context.Context, jobID, ownerID string) (*models.Job, error) {
	return s.repo.Get(ctx, jobID, ownerID)
}

// ListJobs returns the owner's jobs, newest first
func (s *JobService) ListJobs(ctx context.Context, ownerID string, limit int) ([]models.Job, error) {
	return s.repo.ListAll(ctx, ownerID, limit)
}

// ListActiveJobs returns the owner's non-terminal jobs
func (s *JobService) ListActiveJobs(ctx context.Context, ownerID string) ([]models.Job, error) {
	return s.repo.ListActive(ctx, ownerID)
}

// ListJobsByStatus returns the owner's jobs in the given status set
func (s *JobService) ListJobsByStatus(ctx context.Context, ownerID string, statuses []models.JobStatus) ([]models.Job, error) {
	return s.repo.ListByStatus(ctx, ownerID, statuses)
}

// CancelJob cancels an owner's pending or processing job
func (s *JobService) CancelJob(ctx context.Context, jobID, ownerID, reason string) error {
	return s.repo.Cancel(ctx, jobID, ownerID, reason)
}

// SyncJob applies an update pushed by the remote transcription service
// and returns the resulting record. The job is looked up by id alone;
// the remote service is a trusted collaborator, not an end user.
func (s *JobService) SyncJob(ctx context.Context, jobID string, update models.Update) (*models.Job, error) {
	if err := s.repo.ApplyUpdate(ctx, jobID, update); err != nil {
		return nil, err
	}
	return s.repo.GetByJobID(ctx, jobID)
}

// SweepStalePending removes jobs stuck in pending past the window
func (s *JobService) SweepStalePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.repo.SweepStalePending(ctx, olderThan)
}

// SweepOld removes jobs older than the retention window
func (s *JobService) SweepOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.repo.SweepOld(ctx, olderThan)
}
