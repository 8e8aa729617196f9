package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	rootProjectPath string
	rootModel       string
	rootNoChief     bool
)

var rootCmd = &cobra.Command{
	Use:   "attache",
	Short: "Remote hands for your codebase",
	Long: `Attache runs long-lived Claude agents against a project and keeps you
informed while they work.

With no arguments it opens an interactive console where you can type tasks
and watch agents execute them. Each user-visible agent has a status line
that updates in place as the agent reports progress.

Core capabilities:
- Spawns concurrent agents with a per-user ceiling
- Streams rate-limited progress updates into editable status messages
- Follows up on finished agents in the same session (/agent <id> <message>)
- Git-backed review flow: inspect, approve (commit+push) or reject changes
- Optional webhook listener that turns GitHub events into notifications`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsole()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&rootProjectPath, "project", "", "Project directory agents work in (default: configured or current directory)")
	rootCmd.Flags().StringVar(&rootModel, "model", "", "Claude model override")
	rootCmd.Flags().BoolVar(&rootNoChief, "no-chief", false, "Disable the chief-of-staff interpreter for free-form input")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(projectsCmd)
}
