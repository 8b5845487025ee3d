package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/affirmly/scribesync/internal/db/models"
)

// SubmitOptions is the options bag for one transcription request. The
// zero value is not usable directly; call DefaultSubmitOptions for the
// service defaults.
type SubmitOptions struct {
	Language         string  `json:"language"`
	Model            string  `json:"model"`
	ReturnTimestamps bool    `json:"return_timestamps"`
	Temperature      float64 `json:"temperature"`
	InitialPrompt    string  `json:"initial_prompt,omitempty"`

	// Descriptive metadata captured at submission, immutable afterwards
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// DefaultSubmitOptions returns the submission defaults: automatic
// language detection, timestamped segments, deterministic decoding
func DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{
		Language:         "auto",
		Model:            "whisper-base",
		ReturnTimestamps: true,
		Temperature:      0.0,
	}
}

// SubmitResponse is the remote service's answer to a job submission
type SubmitResponse struct {
	JobID                   string   `json:"job_id"`
	Status                  string   `json:"status"`
	WebsocketURL            string   `json:"websocket_url"`
	EstimatedProcessingTime *float64 `json:"estimated_processing_time,omitempty"`
	QueuePosition           *int     `json:"queue_position,omitempty"`
}

// TranscriptSegment is one timed span of the transcript
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptResult is the payload of a completed job
type TranscriptResult struct {
	Text           string              `json:"text"`
	Segments       []TranscriptSegment `json:"segments,omitempty"`
	Language       string              `json:"language,omitempty"`
	ProcessingTime float64             `json:"processing_time,omitempty"`
}

// JobStatusPayload is the data shape shared by progress/completed/error
// frames and by the polling endpoint's GET /job/{id} response
type JobStatusPayload struct {
	JobID                  string            `json:"job_id,omitempty"`
	Status                 string            `json:"status"`
	Progress               *int              `json:"progress,omitempty"`
	Message                string            `json:"message,omitempty"`
	Error                  string            `json:"error,omitempty"`
	Result                 *TranscriptResult `json:"result,omitempty"`
	EstimatedTimeRemaining *int              `json:"estimated_time_remaining,omitempty"`
}

// UnmarshalData decodes a frame's raw data into the payload
func (p *JobStatusPayload) UnmarshalData(data json.RawMessage) error {
	return json.Unmarshal(data, p)
}

// ToUpdate converts the payload into the registry's tagged update form.
// Channel frames and poll responses go through this same path so both
// transports produce identical registry writes.
func (p *JobStatusPayload) ToUpdate() (models.Update, error) {
	status, err := models.ParseJobStatus(p.Status)
	if err != nil {
		return nil, err
	}

	switch status {
	case models.JobStatusCompleted:
		var result json.RawMessage
		if p.Result != nil {
			result, err = json.Marshal(p.Result)
			if err != nil {
				return nil, fmt.Errorf("failed to encode result: %w", err)
			}
		}
		return models.CompletedUpdate{Result: result, Message: p.Message}, nil
	case models.JobStatusFailed:
		return models.FailedUpdate{Error: p.Error}, nil
	case models.JobStatusCancelled:
		return models.CancelledUpdate{Reason: p.Message}, nil
	default:
		update := models.ProgressUpdate{
			Status:                 status,
			Message:                p.Message,
			EstimatedTimeRemaining: p.EstimatedTimeRemaining,
		}
		if p.Progress != nil {
			update.Progress = *p.Progress
		}
		return update, nil
	}
}

// SyncTimestamps carries the optional lifecycle timestamps the remote
// service may push through the sync endpoint
type SyncTimestamps struct {
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// SyncRequest is the body of the inbound POST /updateTranscriptionJob
// webhook. The remote service uses it to push state out-of-band, for
// example after recovering from a restart with no channel open.
type SyncRequest struct {
	JobID      string            `json:"jobId"`
	Status     string            `json:"status"`
	Progress   *int              `json:"progress,omitempty"`
	Message    string            `json:"message,omitempty"`
	Result     *TranscriptResult `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	Timestamps *SyncTimestamps   `json:"timestamps,omitempty"`
}

// ToUpdate converts the webhook body into a registry update with the
// same merge semantics as the orchestrator's relay path
func (r *SyncRequest) ToUpdate() (models.Update, error) {
	status, err := models.ParseJobStatus(r.Status)
	if err != nil {
		return nil, err
	}

	var startedAt, completedAt *time.Time
	if r.Timestamps != nil {
		startedAt = r.Timestamps.StartedAt
		completedAt = r.Timestamps.CompletedAt
	}

	switch status {
	case models.JobStatusCompleted:
		var result json.RawMessage
		if r.Result != nil {
			result, err = json.Marshal(r.Result)
			if err != nil {
				return nil, fmt.Errorf("failed to encode result: %w", err)
			}
		}
		return models.CompletedUpdate{Result: result, Message: r.Message, CompletedAt: completedAt}, nil
	case models.JobStatusFailed:
		return models.FailedUpdate{Error: r.Error, CompletedAt: completedAt}, nil
	case models.JobStatusCancelled:
		return models.CancelledUpdate{Reason: r.Message, CompletedAt: completedAt}, nil
	default:
		update := models.ProgressUpdate{
			Status:    status,
			Message:   r.Message,
			StartedAt: startedAt,
		}
		if r.Progress != nil {
			update.Progress = *r.Progress
		}
		return update, nil
	}
}

// CreateJobRequest registers a submitted job in the registry
type CreateJobRequest struct {
	JobID    string `json:"job_id"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// CancelJobRequest carries the optional cancellation reason
type CancelJobRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SyncResponse is the body returned by the sync endpoint
type SyncResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}
