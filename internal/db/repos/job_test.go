package repos

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/affirmly/scribesync/internal/db/models"
)

type JobRepositoryTestSuite struct {
	DBRepositoryTestSuite
}

func TestJobRepository(t *testing.T) {
	suite.Run(t, new(JobRepositoryTestSuite))
}

func (s *JobRepositoryTestSuite) TestCreate() {
	job := s.createTestJob()

	s.NotZero(job.ID)
	s.Equal(models.JobStatusPending, job.Status)
	s.Equal("owner-a", job.OwnerID)
	s.Equal("meeting.wav", job.FileName)
	s.EqualValues(2048, job.FileSize)
	s.Zero(job.Progress)
}

func (s *JobRepositoryTestSuite) TestCreateIdempotentForSameOwner() {
	job := s.createTestJob()

	again, err := s.jobRepo.Create(s.ctx, job.JobID, job.OwnerID, "other-name.wav", 1)
	s.NoError(err)
	s.Equal(job.ID, again.ID)
	// Metadata from the original submission is kept
	s.Equal("meeting.wav", again.FileName)
}

func (s *JobRepositoryTestSuite) TestCreateFailsForDifferentOwner() {
	job := s.createTestJob()

	_, err := s.jobRepo.Create(s.ctx, job.JobID, "owner-b", "", 0)
	s.ErrorIs(err, ErrJobExists)
}

func (s *JobRepositoryTestSuite) TestApplyUpdateMergesFields() {
	job := s.createTestJob()

	eta := 42
	err := s.jobRepo.ApplyUpdate(s.ctx, job.JobID, models.ProgressUpdate{
		Status:                 models.JobStatusProcessing,
		Progress:               25,
		Message:                "transcribing segment 1",
		EstimatedTimeRemaining: &eta,
	})
	s.NoError(err)

	updated, err := s.jobRepo.Get(s.ctx, job.JobID, job.OwnerID)
	s.NoError(err)
	s.Equal(models.JobStatusProcessing, updated.Status)
	s.Equal(25, updated.Progress)
	s.Equal("transcribing segment 1", updated.Message)
	s.Require().NotNil(updated.EstimatedTimeRemaining)
	s.Equal(42, *updated.EstimatedTimeRemaining)
	// Moving into processing stamps StartedAt exactly once
	s.Require().NotNil(updated.StartedAt)

	firstStart := *updated.StartedAt
	err = s.jobRepo.ApplyUpdate(s.ctx, job.JobID, models.ProgressUpdate{
		Status:   models.JobStatusProcessing,
		Progress: 50,
	})
	s.NoError(err)

	updated, err = s.jobRepo.Get(s.ctx, job.JobID, job.OwnerID)
	s.NoError(err)
	s.Equal(50, updated.Progress)
	// The earlier message survives a partial update
	s.Equal("transcribing segment 1", updated.Message)
	s.Require().NotNil(updated.StartedAt)
	s.WithinDuration(firstStart, *updated.StartedAt, time.Millisecond)
}

func (s *JobRepositoryTestSuite) TestProgressNeverDecreases() {
	job := s.createTestJob()

	for _, progress := range []int{10, 60, 30, 59} {
		err := s.jobRepo.ApplyUpdate(s.ctx, job.JobID, models.ProgressUpdate{
			Status:   models.JobStatusProcessing,
			Progress: progress,
		})
		s.NoError(err)
	}

	updated, err := s.jobRepo.Get(s.ctx, job.JobID, job.OwnerID)
	s.NoError(err)
	s.Equal(60, updated.Progress)
}

func (s *JobRepositoryTestSuite) TestTerminalWritesAreIdempotent() {
	job := s.createTestJob()
	result := json.RawMessage(`{"text":"hello world","language":"en"}`)

	err := s.jobRepo.ApplyUpdate(s.ctx, job.JobID, models.CompletedUpdate{Result: result})
	s.NoError(err)

	first, err := s.jobRepo.Get(s.ctx, job.JobID, job.OwnerID)
	s.NoError(err)
	s.Equal(models.JobStatusCompleted, first.Status)
	s.Equal(100, first.Progress)
	s.Require().NotNil(first.CompletedAt)

	// The duplicate arrives again via a late poll, with a slightly
	// different payload; the stored record must not change
	other := json.RawMessage(`{"text":"different"}`)
	err = s.jobRepo.ApplyUpdate(s.ctx, job.JobID, models.CompletedUpdate{Result: other, Message: "done again"})
	s.NoError(err)

	second, err := s.jobRepo.Get(s.ctx, job.JobID, job.OwnerID)
	s.NoError(err)
	s.Equal(first.Status, second.Status)
	s.JSONEq(string(result), string(second.Result))
	s.Equal(first.Error, second.Error)
	s.Equal(first.Message, second.Message)
	s.WithinDuration(*first.CompletedAt, *second.CompletedAt, time.Millisecond)
}

func (s *JobRepositoryTestSuite) TestTerminalJobsCannotBeResurrected() {
	job := s.createTestJob()

	err := s.jobRepo.ApplyUpdate(s.ctx, job.JobID, models.FailedUpdate{Error: "decode error"})
	s.NoError(err)

	err = s.jobRepo.ApplyUpdate(s.ctx, job.JobID, models.ProgressUpdate{
		Status:   models.JobStatusProcessing,
		Progress: 99,
	})
	s.NoError(err)

	updated, err := s.jobRepo.Get(s.ctx, job.JobID, job.OwnerID)
	s.NoError(err)
	s.Equal(models.JobStatusFailed, updated.Status)
	s.Equal("decode error", updated.Error)
	s.Zero(updated.Progress)
}

func (s *JobRepositoryTestSuite) TestStaleWriteCannotResurrectTerminalJob() {
	// Two writers in different processes race on the same job: one
	// reads the row while it is still active, the other then finishes
	// the job. The stale writer's column write must match no row.
	job := s.createTestJob()

	stale, err := s.jobRepo.GetByJobID(s.ctx, job.JobID)
	s.Require().NoError(err)
	s.Require().True(stale.Status.IsActive())
	fields := models.ProgressUpdate{
		Status:   models.JobStatusProcessing,
		Progress: 75,
	}.Fields(stale, time.Now().UTC())

	err = s.jobRepo.ApplyUpdate(s.ctx, job.JobID, models.CompletedUpdate{
		Result: json.RawMessage(`{"text":"finished first"}`),
	})
	s.Require().NoError(err)

	// The write computed from the stale read lands after the job went
	// terminal
	s.NoError(s.jobRepo.applyFields(s.ctx, job.JobID, fields))

	updated, err := s.jobRepo.Get(s.ctx, job.JobID, job.OwnerID)
	s.NoError(err)
	s.Equal(models.JobStatusCompleted, updated.Status)
	s.Equal(100, updated.Progress)
	s.JSONEq(`{"text":"finished first"}`, string(updated.Result))
}

func (s *JobRepositoryTestSuite) TestFailedAlwaysCarriesError() {
	job := s.createTestJob()

	err := s.jobRepo.ApplyUpdate(s.ctx, job.JobID, models.FailedUpdate{})
	s.NoError(err)

	updated, err := s.jobRepo.Get(s.ctx, job.JobID, job.OwnerID)
	s.NoError(err)
	s.Equal(models.JobStatusFailed, updated.Status)
	s.NotEmpty(updated.Error)
}

func (s *JobRepositoryTestSuite) TestApplyUpdateUnknownJob() {
	err := s.jobRepo.ApplyUpdate(s.ctx, "no-such-job", models.ProgressUpdate{Progress: 10})
	s.ErrorIs(err, ErrNotFound)
}

func (s *JobRepositoryTestSuite) TestOwnerIsolation() {
	job := s.createTestJob()

	// A foreign owner sees nothing, not an error
	found, err := s.jobRepo.Get(s.ctx, job.JobID, "owner-b")
	s.NoError(err)
	s.Nil(found)

	// And cannot cancel
	err = s.jobRepo.Cancel(s.ctx, job.JobID, "owner-b", "")
	s.ErrorIs(err, ErrNotFound)

	// The rightful owner still can
	err = s.jobRepo.Cancel(s.ctx, job.JobID, job.OwnerID, "")
	s.NoError(err)
}

func (s *JobRepositoryTestSuite) TestCancelTransitions() {
	pending := s.createTestJob()
	s.NoError(s.jobRepo.Cancel(s.ctx, pending.JobID, pending.OwnerID, "changed my mind"))

	cancelled, err := s.jobRepo.Get(s.ctx, pending.JobID, pending.OwnerID)
	s.NoError(err)
	s.Equal(models.JobStatusCancelled, cancelled.Status)
	s.Equal("changed my mind", cancelled.Message)

	// Queued jobs are not cancellable
	queued := s.createTestJob()
	s.NoError(s.jobRepo.ApplyUpdate(s.ctx, queued.JobID, models.ProgressUpdate{Status: models.JobStatusQueued}))
	s.ErrorIs(s.jobRepo.Cancel(s.ctx, queued.JobID, queued.OwnerID, ""), ErrInvalidTransition)

	// Neither are completed ones
	completed := s.createTestJob()
	s.NoError(s.jobRepo.ApplyUpdate(s.ctx, completed.JobID, models.CompletedUpdate{}))
	s.ErrorIs(s.jobRepo.Cancel(s.ctx, completed.JobID, completed.OwnerID, ""), ErrInvalidTransition)

	// Processing jobs are
	processing := s.createTestJob()
	s.NoError(s.jobRepo.ApplyUpdate(s.ctx, processing.JobID, models.ProgressUpdate{Status: models.JobStatusProcessing}))
	s.NoError(s.jobRepo.Cancel(s.ctx, processing.JobID, processing.OwnerID, ""))
}

func (s *JobRepositoryTestSuite) TestCancelDefaultReason() {
	job := s.createTestJob()
	s.NoError(s.jobRepo.Cancel(s.ctx, job.JobID, job.OwnerID, ""))

	cancelled, err := s.jobRepo.Get(s.ctx, job.JobID, job.OwnerID)
	s.NoError(err)
	s.NotEmpty(cancelled.Message)
}

func (s *JobRepositoryTestSuite) TestLists() {
	first := s.createTestJob()
	second := s.createTestJob()
	third := s.createTestJob()

	s.NoError(s.jobRepo.ApplyUpdate(s.ctx, second.JobID, models.ProgressUpdate{Status: models.JobStatusProcessing}))
	s.NoError(s.jobRepo.ApplyUpdate(s.ctx, third.JobID, models.CompletedUpdate{}))

	// A different owner's job never shows up
	_, err := s.jobRepo.Create(s.ctx, s.newJobID(), "owner-b", "", 0)
	s.Require().NoError(err)

	active, err := s.jobRepo.ListActive(s.ctx, first.OwnerID)
	s.NoError(err)
	s.Len(active, 2)

	all, err := s.jobRepo.ListAll(s.ctx, first.OwnerID, 10)
	s.NoError(err)
	s.Len(all, 3)

	limited, err := s.jobRepo.ListAll(s.ctx, first.OwnerID, 2)
	s.NoError(err)
	s.Len(limited, 2)

	completed, err := s.jobRepo.ListByStatus(s.ctx, first.OwnerID, []models.JobStatus{models.JobStatusCompleted})
	s.NoError(err)
	s.Require().Len(completed, 1)
	s.Equal(third.JobID, completed[0].JobID)
}

func (s *JobRepositoryTestSuite) backdate(jobID string, age time.Duration) {
	err := s.db.Model(&models.Job{}).
		Where("job_id = ?", jobID).
		Update("created_at", time.Now().UTC().Add(-age)).Error
	s.Require().NoError(err)
}

func (s *JobRepositoryTestSuite) TestSweepStalePending() {
	stale := s.createTestJob()
	fresh := s.createTestJob()
	oldButRunning := s.createTestJob()
	s.NoError(s.jobRepo.ApplyUpdate(s.ctx, oldButRunning.JobID, models.ProgressUpdate{Status: models.JobStatusProcessing}))

	s.backdate(stale.JobID, 2*time.Hour)
	s.backdate(oldButRunning.JobID, 2*time.Hour)

	removed, err := s.jobRepo.SweepStalePending(s.ctx, time.Hour)
	s.NoError(err)
	s.EqualValues(1, removed)

	gone, err := s.jobRepo.Get(s.ctx, stale.JobID, stale.OwnerID)
	s.NoError(err)
	s.Nil(gone)

	kept, err := s.jobRepo.Get(s.ctx, fresh.JobID, fresh.OwnerID)
	s.NoError(err)
	s.NotNil(kept)

	running, err := s.jobRepo.Get(s.ctx, oldButRunning.JobID, oldButRunning.OwnerID)
	s.NoError(err)
	s.NotNil(running)
}

func (s *JobRepositoryTestSuite) TestSweepOld() {
	ancient := s.createTestJob()
	s.NoError(s.jobRepo.ApplyUpdate(s.ctx, ancient.JobID, models.CompletedUpdate{}))
	recent := s.createTestJob()

	s.backdate(ancient.JobID, 40*24*time.Hour)

	removed, err := s.jobRepo.SweepOld(s.ctx, 30*24*time.Hour)
	s.NoError(err)
	s.EqualValues(1, removed)

	gone, err := s.jobRepo.Get(s.ctx, ancient.JobID, ancient.OwnerID)
	s.NoError(err)
	s.Nil(gone)

	kept, err := s.jobRepo.Get(s.ctx, recent.JobID, recent.OwnerID)
	s.NoError(err)
	s.NotNil(kept)
}
