// Package types holds the wire-level types shared between the remote
// transcription service client, the realtime channel and the HTTP
// handlers.
package types

import "encoding/json"

// FrameType classifies realtime channel frames
type FrameType string

// Frame types emitted by the remote transcription service. Unknown
// types must be ignored by consumers so the service can add frame kinds
// without breaking older clients.
const (
	// FrameConnected is sent by the service once the channel is bound to a job
	FrameConnected FrameType = "connected"
	// FrameProgress carries an incremental status/progress update
	FrameProgress FrameType = "progress"
	// FrameCompleted carries the final result payload
	FrameCompleted FrameType = "completed"
	// FrameError reports a failed job
	FrameError FrameType = "error"
	// FrameStatus carries a full status snapshot (also the polling payload shape)
	FrameStatus FrameType = "status"
	// FramePing is the outbound client heartbeat
	FramePing FrameType = "ping"
	// FramePong answers a ping
	FramePong FrameType = "pong"
)

// Frame is one realtime channel message in either direction
type Frame struct {
	Type      FrameType       `json:"type"`
	JobID     string          `json:"job_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp float64         `json:"timestamp,omitempty"`
}

// PingFrame builds the outbound heartbeat frame for a job
func PingFrame(jobID string) Frame {
	return Frame{Type: FramePing, JobID: jobID}
}
