package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affirmly/scribesync/internal/types"
)

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)

	c, err := NewClient(Config{BaseURL: "http://transcriber.local"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestSubmitJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transcribe-job", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "auto", r.FormValue("language"))
		assert.Equal(t, "whisper-base", r.FormValue("model"))
		assert.Equal(t, "true", r.FormValue("return_timestamps"))
		assert.Equal(t, "0", r.FormValue("temperature"))
		assert.Equal(t, "meeting notes", r.FormValue("initial_prompt"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		assert.Equal(t, "clip.wav", header.Filename)

		_ = json.NewEncoder(w).Encode(types.SubmitResponse{
			JobID:        "job-123",
			Status:       "queued",
			WebsocketURL: "ws://transcriber.local/ws/job-123",
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	opts := types.DefaultSubmitOptions()
	opts.InitialPrompt = "meeting notes"
	opts.FileName = "clip.wav"

	resp, err := client.SubmitJob(context.Background(), strings.NewReader("RIFF...audio"), opts)
	require.NoError(t, err)
	assert.Equal(t, "job-123", resp.JobID)
	assert.Equal(t, "ws://transcriber.local/ws/job-123", resp.WebsocketURL)
}

func TestSubmitJobRejectionCarriesDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"unsupported audio format"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.SubmitJob(context.Background(), strings.NewReader("x"), types.DefaultSubmitOptions())
	var submissionErr *SubmissionError
	require.ErrorAs(t, err, &submissionErr)
	assert.Equal(t, http.StatusUnprocessableEntity, submissionErr.StatusCode)
	assert.Contains(t, submissionErr.Error(), "unsupported audio format")
}

func TestSubmitJobRejectionWithoutDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.SubmitJob(context.Background(), strings.NewReader("x"), types.DefaultSubmitOptions())
	var submissionErr *SubmissionError
	require.ErrorAs(t, err, &submissionErr)
	assert.Contains(t, submissionErr.Error(), "HTTP 502")
}

func TestGetJobStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/job/job-123", r.URL.Path)
		progress := 60
		_ = json.NewEncoder(w).Encode(types.JobStatusPayload{
			JobID:    "job-123",
			Status:   "processing",
			Progress: &progress,
			Message:  "transcribing",
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	payload, err := client.GetJobStatus(context.Background(), "job-123")
	require.NoError(t, err)
	assert.Equal(t, "processing", payload.Status)
	require.NotNil(t, payload.Progress)
	assert.Equal(t, 60, *payload.Progress)
}

func TestCancelJob(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	require.NoError(t, client.CancelJob(context.Background(), "job-123"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/job/job-123", gotPath)
}

func TestCancelJobFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"job is finalizing"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	err = client.CancelJob(context.Background(), "job-123")
	var cancelErr *CancelError
	require.ErrorAs(t, err, &cancelErr)
	assert.Contains(t, cancelErr.Error(), "job is finalizing")
}
