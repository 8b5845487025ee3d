package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	// JobCreatedAtField is the database field name for the job creation timestamp
	JobCreatedAtField = "created_at"
	// JobStatusField is the database field name for the job status
	JobStatusField = "status"
)

// JobStatus represents the current state of a transcription job
type JobStatus string

// Job status constants
const (
	// JobStatusPending indicates the job record exists but the remote
	// service has not yet acknowledged work on it
	JobStatusPending JobStatus = "pending"
	// JobStatusQueued indicates the job is waiting in the remote service's queue
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates the remote service is transcribing the audio
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates the job finished and carries a result
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job finished with an error
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled before completion
	JobStatusCancelled JobStatus = "cancelled"
)

// ParseJobStatus converts a string representation of a job status to JobStatus type
func ParseJobStatus(str string) (JobStatus, error) {
	switch JobStatus(str) {
	case JobStatusPending, JobStatusQueued, JobStatusProcessing,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return JobStatus(str), nil
	}
	return "", fmt.Errorf("invalid job status: %s", str)
}

// IsTerminal reports whether no further status transitions are permitted
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the job is still being worked on
func (s JobStatus) IsActive() bool {
	switch s {
	case JobStatusPending, JobStatusQueued, JobStatusProcessing:
		return true
	}
	return false
}

func (s JobStatus) String() string {
	return string(s)
}

// ActiveStatuses returns the set of non-terminal statuses
func ActiveStatuses() []JobStatus {
	return []JobStatus{JobStatusPending, JobStatusQueued, JobStatusProcessing}
}

// Job represents one submitted transcription request and its tracked lifecycle.
// The JobID is minted by the remote transcription service and is the
// correlation key across the realtime channel, the polling fallback and the
// external sync endpoint.
type Job struct {
	gorm.Model
	JobID                  string          `json:"job_id" gorm:"not null;uniqueIndex"`
	OwnerID                string          `json:"owner_id" gorm:"not null;index"`
	Status                 JobStatus       `json:"status" gorm:"not null;index"`
	Progress               int             `json:"progress" gorm:"not null;default:0"`
	Message                string          `json:"message,omitempty" gorm:"type:text"`
	Result                 json.RawMessage `json:"result,omitempty" gorm:"type:jsonb"`
	Error                  string          `json:"error,omitempty" gorm:"type:text"`
	FileName               string          `json:"file_name,omitempty"`
	FileSize               int64           `json:"file_size,omitempty"`
	EstimatedTimeRemaining *int            `json:"estimated_time_remaining,omitempty"`
	StartedAt              *time.Time      `json:"started_at,omitempty"`
	CompletedAt            *time.Time      `json:"completed_at,omitempty"`
	CreatedAt              time.Time       `json:"created_at" gorm:"index"`
}
