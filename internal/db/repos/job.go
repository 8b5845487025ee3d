// Package repos provides access to job-related database operations
package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/affirmly/scribesync/internal/db/models"
)

// JobRepository is the durable, owner-scoped registry of transcription
// jobs. It may be written concurrently by the orchestrator's channel
// relay, its polling fallback, and the external sync endpoint; every
// write path goes through ApplyUpdate so the merge rules (field-level
// merge, non-decreasing progress, terminal idempotence) hold for all
// three writers.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job record with status pending. Creating the
// same job id again is a no-op for the original owner and fails with
// ErrJobExists for any other owner.
func (r *JobRepository) Create(ctx context.Context, jobID, ownerID, fileName string, fileSize int64) (*models.Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	var existing models.Job
	err := r.db.WithContext(ctx).Where(&models.Job{JobID: jobID}).First(&existing).Error
	if err == nil {
		if existing.OwnerID != ownerID {
			return nil, fmt.Errorf("%w: %s", ErrJobExists, jobID)
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up job: %w", err)
	}

	job := &models.Job{
		JobID:    jobID,
		OwnerID:  ownerID,
		Status:   models.JobStatusPending,
		FileName: fileName,
		FileSize: fileSize,
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// ApplyUpdate merges a single update into the stored record. Updates
// against a job that is already in a terminal state are a benign no-op,
// never an error: the same terminal frame may arrive once via the
// realtime channel and again via a late poll or the sync endpoint.
func (r *JobRepository) ApplyUpdate(ctx context.Context, jobID string, update models.Update) error {
	var current models.Job
	err := r.db.WithContext(ctx).Where(&models.Job{JobID: jobID}).First(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	if current.Status.IsTerminal() {
		return nil
	}

	fields := update.Fields(&current, time.Now().UTC())
	if len(fields) == 0 {
		return nil
	}
	return r.applyFields(ctx, jobID, fields)
}

// applyFields writes the merged columns. The write itself repeats the
// active-status predicate: a writer in another process may have moved
// the job terminal after our read, and its terminal state must survive.
// A write that matches no row is the same benign no-op as the early
// return above.
func (r *JobRepository) applyFields(ctx context.Context, jobID string, fields map[string]interface{}) error {
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where(&models.Job{JobID: jobID}).
		Where(models.JobStatusField+" IN ?", models.ActiveStatuses()).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// Get retrieves a job scoped to the requesting owner. A job that does
// not exist and a job owned by someone else are indistinguishable: both
// return (nil, nil) so callers cannot probe for foreign job ids.
func (r *JobRepository) Get(ctx context.Context, jobID, ownerID string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).
		Where(&models.Job{JobID: jobID, OwnerID: ownerID}).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetByJobID retrieves a job by id alone. This path is reserved for the
// external sync endpoint, where the caller is the remote transcription
// service rather than an end user.
func (r *JobRepository) GetByJobID(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where(&models.Job{JobID: jobID}).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListActive returns the owner's jobs that have not reached a terminal state
func (r *JobRepository) ListActive(ctx context.Context, ownerID string) ([]models.Job, error) {
	return r.ListByStatus(ctx, ownerID, models.ActiveStatuses())
}

// ListAll returns the owner's jobs, newest first, up to limit
func (r *JobRepository) ListAll(ctx context.Context, ownerID string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where(&models.Job{OwnerID: ownerID}).
		Order(models.JobCreatedAtField + " DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListByStatus returns the owner's jobs whose status is in the given set
func (r *JobRepository) ListByStatus(ctx context.Context, ownerID string, statuses []models.JobStatus) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where(&models.Job{OwnerID: ownerID}).
		Where(models.JobStatusField+" IN ?", statuses).
		Order(models.JobCreatedAtField + " DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Cancel moves an owner's job to cancelled. Only pending and processing
// jobs may be cancelled; any other status fails with ErrInvalidTransition.
func (r *JobRepository) Cancel(ctx context.Context, jobID, ownerID, reason string) error {
	job, err := r.Get(ctx, jobID, ownerID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	switch job.Status {
	case models.JobStatusPending, models.JobStatusProcessing:
		// cancellable
	default:
		return fmt.Errorf("%w: cannot cancel job in status %s", ErrInvalidTransition, job.Status)
	}

	return r.ApplyUpdate(ctx, jobID, models.CancelledUpdate{Reason: reason})
}

// SweepStalePending deletes jobs stuck in pending past the staleness
// window and returns the number removed. Jobs whose submission never
// produced a single remote update fall in this bucket.
func (r *JobRepository) SweepStalePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result := r.db.WithContext(ctx).Unscoped().
		Where(models.JobStatusField+" = ?", models.JobStatusPending).
		Where(models.JobCreatedAtField+" < ?", cutoff).
		Delete(&models.Job{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// SweepOld deletes any job older than the retention window regardless
// of status and returns the number removed
func (r *JobRepository) SweepOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result := r.db.WithContext(ctx).Unscoped().
		Where(models.JobCreatedAtField+" < ?", cutoff).
		Delete(&models.Job{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep old jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
