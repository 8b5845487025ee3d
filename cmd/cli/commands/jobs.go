package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/affirmly/scribesync/config"
	"github.com/affirmly/scribesync/internal/api/v1/client"
	"github.com/affirmly/scribesync/internal/db/models"
	"github.com/affirmly/scribesync/internal/orchestrator"
	"github.com/affirmly/scribesync/internal/remote"
	"github.com/affirmly/scribesync/internal/types"
)

// jobOutput is the filtered output for a job
type jobOutput struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

func init() {
	registerRootFlags(jobsCmd)
	jobsCmd.PersistentPreRunE = initClient

	jobsCmd.AddCommand(listJobsCmd)
	jobsCmd.AddCommand(getJobCmd)
	jobsCmd.AddCommand(cancelJobCmd)
	jobsCmd.AddCommand(submitJobCmd)
	jobsCmd.AddCommand(watchJobCmd)

	listJobsCmd.Flags().IntP("limit", "l", 50, "Limit the number of jobs returned")
	listJobsCmd.Flags().StringP("status", "s", "", "Filter jobs by status")
	listJobsCmd.Flags().Bool("active", false, "Only list jobs that are still running")

	getJobCmd.Flags().StringP("id", "i", "", "Job ID to fetch")
	_ = getJobCmd.MarkFlagRequired("id")

	cancelJobCmd.Flags().StringP("id", "i", "", "Job ID to cancel")
	_ = cancelJobCmd.MarkFlagRequired("id")
	cancelJobCmd.Flags().String("reason", "", "Cancellation reason")

	submitJobCmd.Flags().StringP("file", "f", "", "Audio file to transcribe")
	_ = submitJobCmd.MarkFlagRequired("file")
	submitJobCmd.Flags().String("transcriber-url", "", "Transcription service base URL (default $TRANSCRIBER_URL)")
	submitJobCmd.Flags().String("language", "auto", "Audio language")
	submitJobCmd.Flags().String("model", "whisper-base", "Transcription model")
	submitJobCmd.Flags().String("prompt", "", "Initial prompt for the model")

	watchJobCmd.Flags().StringP("id", "i", "", "Job ID to watch")
	_ = watchJobCmd.MarkFlagRequired("id")
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage transcription jobs",
}

var listJobsCmd = &cobra.Command{
	Use:   "list",
	Short: "List your jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		statusStr, _ := cmd.Flags().GetString("status")
		active, _ := cmd.Flags().GetBool("active")

		opts := client.ListOptions{Limit: limit, Active: active}
		if statusStr != "" {
			status, err := models.ParseJobStatus(statusStr)
			if err != nil {
				return err
			}
			opts.Statuses = []models.JobStatus{status}
		}

		jobs, err := apiClient.ListJobs(context.Background(), opts)
		if err != nil {
			return fmt.Errorf("error fetching jobs: %w", err)
		}

		output := make([]jobOutput, len(jobs))
		for i, job := range jobs {
			output[i] = toOutput(&job)
		}
		return printJSON(cmd, output)
	},
}

var getJobCmd = &cobra.Command{
	Use:   "get",
	Short: "Get a specific job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetString("id")

		job, err := apiClient.GetJob(context.Background(), jobID)
		if err != nil {
			return fmt.Errorf("error fetching job: %w", err)
		}
		if job == nil {
			return fmt.Errorf("job %s not found", jobID)
		}
		return printJSON(cmd, toOutput(job))
	},
}

var cancelJobCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a pending or processing job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetString("id")
		reason, _ := cmd.Flags().GetString("reason")

		if err := apiClient.CancelJob(context.Background(), jobID, reason); err != nil {
			return fmt.Errorf("error cancelling job: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", jobID)
		return nil
	},
}

var submitJobCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an audio file and stream its progress",
	RunE: func(cmd *cobra.Command, _ []string) error {
		filePath, _ := cmd.Flags().GetString("file")
		transcriberURL, _ := cmd.Flags().GetString("transcriber-url")
		language, _ := cmd.Flags().GetString("language")
		model, _ := cmd.Flags().GetString("model")
		prompt, _ := cmd.Flags().GetString("prompt")

		if transcriberURL == "" {
			transcriberURL = config.GetEnv("TRANSCRIBER_URL", "")
		}
		if transcriberURL == "" {
			return fmt.Errorf("transcription service URL is required (--transcriber-url or $TRANSCRIBER_URL)")
		}

		file, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("failed to open audio file: %w", err)
		}
		defer func() { _ = file.Close() }()

		info, err := file.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat audio file: %w", err)
		}

		remoteClient, err := remote.NewClient(remote.Config{BaseURL: transcriberURL})
		if err != nil {
			return err
		}

		opts := types.DefaultSubmitOptions()
		opts.Language = language
		opts.Model = model
		opts.InitialPrompt = prompt
		opts.FileName = filepath.Base(filePath)
		opts.FileSize = info.Size()

		orch := orchestrator.New(remoteClient, client.NewStore(apiClient), ownerID, orchestrator.Config{})
		defer orch.Close()

		unsubscribe := orch.Subscribe(func(snap orchestrator.Snapshot) {
			fmt.Fprintf(cmd.OutOrStdout(), "[%3d%%] %s %s\n", snap.Progress, snap.Status, snap.Message)
		})
		defer unsubscribe()

		jobID, err := orch.Start(cmd.Context(), file, opts)
		if err != nil {
			return fmt.Errorf("submission failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s\n", jobID)

		select {
		case <-orch.Done():
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}

		snap := orch.Snapshot()
		switch snap.Status {
		case models.JobStatusCompleted:
			if snap.Result != nil {
				fmt.Fprintln(cmd.OutOrStdout(), snap.Result.Text)
			}
			return nil
		case models.JobStatusFailed:
			return fmt.Errorf("transcription failed: %s", snap.Error)
		default:
			return fmt.Errorf("job finished as %s", snap.Status)
		}
	},
}

var watchJobCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a job until it finishes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetString("id")

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for {
			job, err := apiClient.GetJob(cmd.Context(), jobID)
			if err != nil {
				return fmt.Errorf("error fetching job: %w", err)
			}
			if job == nil {
				return fmt.Errorf("job %s not found", jobID)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "[%3d%%] %s %s\n", job.Progress, job.Status, job.Message)
			if job.Status.IsTerminal() {
				return printJSON(cmd, toOutput(job))
			}

			select {
			case <-ticker.C:
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		}
	},
}

// GetJobsCmd returns the jobs command
func GetJobsCmd() *cobra.Command {
	return jobsCmd
}

func toOutput(job *models.Job) jobOutput {
	return jobOutput{
		JobID:    job.JobID,
		Status:   string(job.Status),
		Progress: job.Progress,
		Message:  job.Message,
		Error:    job.Error,
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
	return nil
}
