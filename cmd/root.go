package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sessionrt",
	Short: "Session Runtime server for a hosted coding agent",
	Long:  `sessionrt hosts per-user coding-agent sessions: sandboxed bash execution, a workspace filesystem, and a streamed agent event feed over websockets.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
