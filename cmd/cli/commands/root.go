// Package commands implements the CLI subcommands
package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/affirmly/scribesync/config"
	"github.com/affirmly/scribesync/internal/api/v1/client"
)

var (
	apiURL    string
	ownerFlag string

	// apiClient is shared by every subcommand; set up in initClient
	apiClient client.Client
	ownerID   string
)

func registerRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Registry API base URL (default $SCRIBESYNC_API_URL or http://localhost:8080)")
	cmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "Owner identity (default $SCRIBESYNC_OWNER_ID)")
}

// initClient builds the shared API client from flags and environment.
// A client that is already set (tests inject a mock here) is kept.
func initClient(*cobra.Command, []string) error {
	if apiClient != nil {
		return nil
	}

	// Values may come from a .env file in the working directory
	_ = godotenv.Load()

	baseURL := apiURL
	if baseURL == "" {
		baseURL = config.GetEnv("SCRIBESYNC_API_URL", "http://localhost:8080")
	}

	ownerID = ownerFlag
	if ownerID == "" {
		ownerID = config.GetEnv("SCRIBESYNC_OWNER_ID", "")
	}
	if ownerID == "" {
		// Ephemeral identity; fine for submit-and-watch, useless for
		// finding the job again later, so say so
		ownerID = uuid.NewString()
		fmt.Printf("No owner configured, using ephemeral owner %s\n", ownerID)
	}

	c, err := client.New(client.Options{
		BaseURL: baseURL,
		OwnerID: ownerID,
	})
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}
	apiClient = c
	return nil
}
