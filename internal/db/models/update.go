package models

import (
	"encoding/json"
	"time"
)

// Update is a single validated mutation of a job record. Each variant
// carries exactly the fields that are legal for the transition it
// represents, so callers cannot smuggle terminal fields into progress
// updates or vice versa.
type Update interface {
	// TargetStatus is the status this update drives the job toward.
	TargetStatus() JobStatus
	// Fields returns the column assignments to merge into the stored
	// record. current is the row as it exists before the update; only
	// the returned keys are written.
	Fields(current *Job, now time.Time) map[string]interface{}
}

// ProgressUpdate advances a job within its active states
// (pending, queued, processing).
type ProgressUpdate struct {
	Status                 JobStatus
	Progress               int
	Message                string
	EstimatedTimeRemaining *int
	StartedAt              *time.Time
}

// TargetStatus implements Update
func (u ProgressUpdate) TargetStatus() JobStatus {
	if u.Status == "" {
		return JobStatusProcessing
	}
	return u.Status
}

// Fields implements Update
func (u ProgressUpdate) Fields(current *Job, now time.Time) map[string]interface{} {
	fields := map[string]interface{}{
		"status": u.TargetStatus(),
	}

	// Progress is non-decreasing while the job is active
	if u.Progress > current.Progress {
		fields["progress"] = u.Progress
	}
	if u.Message != "" {
		fields["message"] = u.Message
	}
	if u.EstimatedTimeRemaining != nil {
		fields["estimated_time_remaining"] = *u.EstimatedTimeRemaining
	}

	// StartedAt is set at most once
	if current.StartedAt == nil {
		if u.StartedAt != nil {
			fields["started_at"] = *u.StartedAt
		} else if u.TargetStatus() == JobStatusProcessing {
			fields["started_at"] = now
		}
	}
	return fields
}

// CompletedUpdate finishes a job successfully and attaches its result
type CompletedUpdate struct {
	Result      json.RawMessage
	Message     string
	CompletedAt *time.Time
}

// TargetStatus implements Update
func (u CompletedUpdate) TargetStatus() JobStatus { return JobStatusCompleted }

// Fields implements Update
func (u CompletedUpdate) Fields(current *Job, now time.Time) map[string]interface{} {
	fields := map[string]interface{}{
		"status":   JobStatusCompleted,
		"progress": 100,
	}
	if len(u.Result) > 0 {
		fields["result"] = u.Result
	}
	if u.Message != "" {
		fields["message"] = u.Message
	}
	if current.CompletedAt == nil {
		completedAt := now
		if u.CompletedAt != nil {
			completedAt = *u.CompletedAt
		}
		fields["completed_at"] = completedAt
	}
	return fields
}

// FailedUpdate finishes a job with an error
type FailedUpdate struct {
	Error       string
	CompletedAt *time.Time
}

// TargetStatus implements Update
func (u FailedUpdate) TargetStatus() JobStatus { return JobStatusFailed }

// Fields implements Update
func (u FailedUpdate) Fields(current *Job, now time.Time) map[string]interface{} {
	// A failed job always carries a human-readable error string
	errMsg := u.Error
	if errMsg == "" {
		errMsg = "transcription failed"
	}
	fields := map[string]interface{}{
		"status": JobStatusFailed,
		"error":  errMsg,
	}
	if current.CompletedAt == nil {
		completedAt := now
		if u.CompletedAt != nil {
			completedAt = *u.CompletedAt
		}
		fields["completed_at"] = completedAt
	}
	return fields
}

// CancelledUpdate finishes a job as cancelled; the reason lands in the
// job's message
type CancelledUpdate struct {
	Reason      string
	CompletedAt *time.Time
}

// TargetStatus implements Update
func (u CancelledUpdate) TargetStatus() JobStatus { return JobStatusCancelled }

// Fields implements Update
func (u CancelledUpdate) Fields(current *Job, now time.Time) map[string]interface{} {
	reason := u.Reason
	if reason == "" {
		reason = "cancelled by user"
	}
	fields := map[string]interface{}{
		"status":  JobStatusCancelled,
		"message": reason,
	}
	if current.CompletedAt == nil {
		completedAt := now
		if u.CompletedAt != nil {
			completedAt = *u.CompletedAt
		}
		fields["completed_at"] = completedAt
	}
	return fields
}
