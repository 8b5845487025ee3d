package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/affirmly/scribesync/cmd/cli/commands"
)

var rootCmd = &cobra.Command{
	Use:   "scribesync",
	Short: "scribesync CLI - manage transcription jobs",
	Long: `scribesync is a command line tool for submitting audio transcription
jobs and tracking their progress through the job registry.`,
}

func init() {
	rootCmd.AddCommand(commands.GetJobsCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
