// Package cli implements the agentpipe command-line surface: run, validate,
// status, logs, viz, create, edit, export. Grounded on the teacher's
// internal/cli (cobra root + one file per subcommand, configPath persistent
// flag, findGitRoot/loadAndValidateConfig helpers).
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "agentpipe",
	Short: "Orchestrate coding agents through a declarative pipeline",
	Long: `agentpipe runs a chain of coding-agent stages over a Git repository.
Each stage is one unit of agent work; stages can depend on one another,
run in parallel groups, and hand their output to the next stage through a
per-run handover directory, with Git commits recording the audit trail.`,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agentpipe %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
