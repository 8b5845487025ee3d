// Package client provides a typed HTTP client for the registry API
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/affirmly/scribesync/internal/db/models"
	"github.com/affirmly/scribesync/internal/db/repos"
	"github.com/affirmly/scribesync/internal/types"
)

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// ListOptions filters a job listing
type ListOptions struct {
	// Active selects only non-terminal jobs
	Active bool
	// Statuses selects jobs in the given status set
	Statuses []models.JobStatus
	// Limit caps the number of returned jobs
	Limit int
}

// Client defines the interface for interacting with the registry API
type Client interface {
	CreateJob(ctx context.Context, req types.CreateJobRequest) (*models.Job, error)
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, opts ListOptions) ([]models.Job, error)
	CancelJob(ctx context.Context, jobID, reason string) error
	SyncJob(ctx context.Context, req types.SyncRequest) (*types.SyncResponse, error)
	HealthCheck(ctx context.Context) error
}

// Options contains configuration options for the API client
type Options struct {
	// BaseURL is the base URL of the registry API
	BaseURL string
	// OwnerID is sent as the owner header on every request
	OwnerID string
	// Timeout is the request timeout
	Timeout time.Duration
}

// APIClient implements the Client interface
type APIClient struct {
	baseURL string
	ownerID string
	timeout time.Duration
}

// New creates a new API client with the given options
func New(opts Options) (*APIClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	return &APIClient{
		baseURL: opts.BaseURL,
		ownerID: opts.OwnerID,
		timeout: opts.Timeout,
	}, nil
}

// envelope mirrors the handlers' Response wrapper
type envelope struct {
	Slug  string          `json:"slug"`
	Error string          `json:"error"`
	Data  json.RawMessage `json:"data"`
}

// createAgent creates a new fiber Agent for the given method and endpoint
func (c *APIClient) createAgent(ctx context.Context, method, endpoint string, body interface{}) (*fiber.Agent, error) {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	case http.MethodDelete:
		agent = fiber.Delete(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}

	agent.Set("Content-Type", "application/json")
	agent.Set("Accept", "application/json")
	if c.ownerID != "" {
		agent.Set("X-Owner-ID", c.ownerID)
	}

	if body != nil {
		agent.JSON(body)
	}

	return agent, nil
}

// do sends the request and decodes the envelope's data into out
func (c *APIClient) do(ctx context.Context, method, endpoint string, body, out interface{}) (int, error) {
	agent, err := c.createAgent(ctx, method, endpoint, body)
	if err != nil {
		return 0, err
	}

	statusCode, respBody, errs := agent.Bytes()
	if len(errs) > 0 {
		return 0, fmt.Errorf("error sending request: %w", errs[0])
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return statusCode, fmt.Errorf("failed to decode response: %w", err)
	}

	if statusCode < 200 || statusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", statusCode)
		}
		return statusCode, fmt.Errorf("%s", msg)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return statusCode, fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return statusCode, nil
}

// CreateJob registers a submitted job in the registry
func (c *APIClient) CreateJob(ctx context.Context, req types.CreateJobRequest) (*models.Job, error) {
	var job models.Job
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches one of the owner's jobs; (nil, nil) when the registry
// reports it not found
func (c *APIClient) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	status, err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, &job)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists the owner's jobs per the given options
func (c *APIClient) ListJobs(ctx context.Context, opts ListOptions) ([]models.Job, error) {
	query := url.Values{}
	if opts.Active {
		query.Set("active", "true")
	}
	if len(opts.Statuses) > 0 {
		statuses := ""
		for i, status := range opts.Statuses {
			if i > 0 {
				statuses += ","
			}
			statuses += string(status)
		}
		query.Set("status", statuses)
	}
	if opts.Limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	endpoint := "/api/v1/jobs"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var jobs []models.Job
	if _, err := c.do(ctx, http.MethodGet, endpoint, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CancelJob cancels one of the owner's jobs
func (c *APIClient) CancelJob(ctx context.Context, jobID, reason string) error {
	var body interface{}
	if reason != "" {
		body = types.CancelJobRequest{Reason: reason}
	}
	status, err := c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(jobID), body, nil)
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", repos.ErrNotFound, jobID)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", repos.ErrInvalidTransition, jobID)
	}
	return err
}

// SyncJob pushes a job update through the sync endpoint. The sync
// endpoint returns its own body shape rather than the envelope.
func (c *APIClient) SyncJob(ctx context.Context, req types.SyncRequest) (*types.SyncResponse, error) {
	agent, err := c.createAgent(ctx, http.MethodPost, "/updateTranscriptionJob", req)
	if err != nil {
		return nil, err
	}

	statusCode, respBody, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("error sending request: %w", errs[0])
	}

	var resp types.SyncResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}
	if statusCode == http.StatusNotFound {
		return &resp, fmt.Errorf("%w: %s", repos.ErrNotFound, req.JobID)
	}
	if statusCode < 200 || statusCode >= 300 {
		return &resp, fmt.Errorf("sync failed: %s", resp.Error)
	}
	return &resp, nil
}

// HealthCheck verifies the API server is reachable
func (c *APIClient) HealthCheck(ctx context.Context) error {
	agent, err := c.createAgent(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	statusCode, _, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("error sending request: %w", errs[0])
	}
	if statusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: HTTP %d", statusCode)
	}
	return nil
}
