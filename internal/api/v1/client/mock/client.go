// Package mock provides a test double for the registry API client
package mock

import (
	"context"

	"github.com/affirmly/scribesync/internal/api/v1/client"
	"github.com/affirmly/scribesync/internal/db/models"
	"github.com/affirmly/scribesync/internal/types"
)

// MockClient implements the Client interface for testing
type MockClient struct {
	// Function fields that can be set to mock behavior
	CreateJobFn   func(ctx context.Context, req types.CreateJobRequest) (*models.Job, error)
	GetJobFn      func(ctx context.Context, jobID string) (*models.Job, error)
	ListJobsFn    func(ctx context.Context, opts client.ListOptions) ([]models.Job, error)
	CancelJobFn   func(ctx context.Context, jobID, reason string) error
	SyncJobFn     func(ctx context.Context, req types.SyncRequest) (*types.SyncResponse, error)
	HealthCheckFn func(ctx context.Context) error

	// Call tracking for verification
	CreateJobCalls []struct {
		Ctx context.Context
		Req types.CreateJobRequest
	}
	GetJobCalls []struct {
		Ctx   context.Context
		JobID string
	}
	ListJobsCalls []struct {
		Ctx  context.Context
		Opts client.ListOptions
	}
	CancelJobCalls []struct {
		Ctx    context.Context
		JobID  string
		Reason string
	}
	SyncJobCalls []struct {
		Ctx context.Context
		Req types.SyncRequest
	}
	HealthCheckCalls []struct {
		Ctx context.Context
	}
}

// Ensure MockClient implements Client interface
var _ client.Client = (*MockClient)(nil)

// CreateJob mocks the CreateJob method
func (m *MockClient) CreateJob(ctx context.Context, req types.CreateJobRequest) (*models.Job, error) {
	m.CreateJobCalls = append(m.CreateJobCalls, struct {
		Ctx context.Context
		Req types.CreateJobRequest
	}{Ctx: ctx, Req: req})

	if m.CreateJobFn != nil {
		return m.CreateJobFn(ctx, req)
	}
	return &models.Job{JobID: req.JobID, Status: models.JobStatusPending}, nil
}

// GetJob mocks the GetJob method
func (m *MockClient) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	m.GetJobCalls = append(m.GetJobCalls, struct {
		Ctx   context.Context
		JobID string
	}{Ctx: ctx, JobID: jobID})

	if m.GetJobFn != nil {
		return m.GetJobFn(ctx, jobID)
	}
	return &models.Job{JobID: jobID, Status: models.JobStatusCompleted, Progress: 100}, nil
}

// ListJobs mocks the ListJobs method
func (m *MockClient) ListJobs(ctx context.Context, opts client.ListOptions) ([]models.Job, error) {
	m.ListJobsCalls = append(m.ListJobsCalls, struct {
		Ctx  context.Context
		Opts client.ListOptions
	}{Ctx: ctx, Opts: opts})

	if m.ListJobsFn != nil {
		return m.ListJobsFn(ctx, opts)
	}
	return []models.Job{}, nil
}

// CancelJob mocks the CancelJob method
func (m *MockClient) CancelJob(ctx context.Context, jobID, reason string) error {
	m.CancelJobCalls = append(m.CancelJobCalls, struct {
		Ctx    context.Context
		JobID  string
		Reason string
	}{Ctx: ctx, JobID: jobID, Reason: reason})

	if m.CancelJobFn != nil {
		return m.CancelJobFn(ctx, jobID, reason)
	}
	return nil
}

// SyncJob mocks the SyncJob method
func (m *MockClient) SyncJob(ctx context.Context, req types.SyncRequest) (*types.SyncResponse, error) {
	m.SyncJobCalls = append(m.SyncJobCalls, struct {
		Ctx context.Context
		Req types.SyncRequest
	}{Ctx: ctx, Req: req})

	if m.SyncJobFn != nil {
		return m.SyncJobFn(ctx, req)
	}
	return &types.SyncResponse{Success: true, JobID: req.JobID, Status: req.Status}, nil
}

// HealthCheck mocks the HealthCheck method
func (m *MockClient) HealthCheck(ctx context.Context) error {
	m.HealthCheckCalls = append(m.HealthCheckCalls, struct {
		Ctx context.Context
	}{Ctx: ctx})

	if m.HealthCheckFn != nil {
		return m.HealthCheckFn(ctx)
	}
	return nil
}
