// Package remote implements the HTTP client for the transcription
// service: job submission, the polling status fetch, and best-effort
// cancellation.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/affirmly/scribesync/internal/types"
)

// DefaultTimeout is the default timeout for requests to the
// transcription service. Submissions upload audio, so it is generous.
const DefaultTimeout = 60 * time.Second

// Config holds the client configuration. It is passed in explicitly at
// construction rather than read from a shared singleton so tests and
// concurrent consumers cannot couple through ambient state.
type Config struct {
	// BaseURL is the root of the transcription service API
	BaseURL string
	// Timeout bounds each request; zero means DefaultTimeout
	Timeout time.Duration
	// HTTPClient overrides the underlying client when set (tests)
	HTTPClient *http.Client
}

// Client talks to the remote transcription service. Submission is not
// retried automatically; retry policy belongs to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// SubmissionError is returned when the service rejects or cannot accept
// a job submission
type SubmissionError struct {
	StatusCode int
	Detail     string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission rejected: %s", e.Detail)
}

// CancelError is returned when the remote cancel request fails; callers
// must not claim the job cancelled when they see it
type CancelError struct {
	StatusCode int
	Detail     string
}

func (e *CancelError) Error() string {
	return fmt.Sprintf("remote cancel failed: %s", e.Detail)
}

// NewClient creates a transcription service client from the given config
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
	}, nil
}

// SubmitJob uploads the audio payload and submission options as one
// multipart POST. On success the service returns the job id and the
// websocket endpoint for its progress stream. The audio content is not
// validated client-side; size and format constraints are the service's
// to enforce.
func (c *Client) SubmitJob(ctx context.Context, audio io.Reader, opts types.SubmitOptions) (*types.SubmitResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fileName := opts.FileName
	if fileName == "" {
		fileName = "audio"
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("failed to write audio payload: %w", err)
	}

	fields := map[string]string{
		"language":          opts.Language,
		"model":             opts.Model,
		"return_timestamps": strconv.FormatBool(opts.ReturnTimestamps),
		"temperature":       strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
	}
	if opts.InitialPrompt != "" {
		fields["initial_prompt"] = opts.InitialPrompt
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe-job", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SubmissionError{Detail: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &SubmissionError{
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(resp),
		}
	}

	var submitResp types.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		return nil, fmt.Errorf("failed to decode submission response: %w", err)
	}
	if submitResp.JobID == "" {
		return nil, fmt.Errorf("submission response missing job id")
	}
	return &submitResp, nil
}

// GetJobStatus fetches the job's current state. This is the polling
// fallback's data source; the payload shape matches the channel frames.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*types.JobStatusPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/job/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status fetch failed: %s", errorDetail(resp))
	}

	var payload types.JobStatusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode job status: %w", err)
	}
	return &payload, nil
}

// CancelJob asks the service to cancel the job. A non-2xx answer comes
// back as a CancelError so callers can keep their local state honest.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/job/"+url.PathEscape(jobID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &CancelError{Detail: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &CancelError{
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(resp),
		}
	}
	return nil
}

// errorDetail extracts the service's {detail} error message, falling
// back to a generic "HTTP <status>" string
func errorDetail(resp *http.Response) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err == nil && json.Unmarshal(body, &payload) == nil && payload.Detail != "" {
		return payload.Detail
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}
