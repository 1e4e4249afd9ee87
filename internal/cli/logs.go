package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/re-cinq/agentpipe/internal/statestore"
)

var (
	logsFollow bool
	logsTail   int
)

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow output (like tail -f)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show")
	rootCmd.AddCommand(logsCmd)
}

var logsCmd = &cobra.Command{
	Use:   "logs <pipeline-file> <stage>",
	Short: "Show a stage's recorded output from the most recent run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := resolveRepo(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadAndValidateConfig(args[0], repoDir)
		if err != nil {
			return err
		}
		stageName := args[1]
		if _, ok := cfg.FindStage(stageName); !ok {
			return fmt.Errorf("unknown stage %q", stageName)
		}

		store := statestore.New(repoDir)
		runs, err := store.GetAllRuns()
		if err != nil {
			return err
		}
		var runID string
		for i := range runs {
			if runs[i].Config != nil && runs[i].Config.Name == cfg.Name {
				runID = runs[i].RunID
			}
		}
		if runID == "" {
			return fmt.Errorf("no runs recorded for pipeline %q", cfg.Name)
		}

		logPath := filepath.Join(store.HandoverDir(runID), stageName+".md")
		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			return fmt.Errorf("no output recorded for stage %q (expected at %s)", stageName, logPath)
		}

		tailArgs := []string{"-n", fmt.Sprintf("%d", logsTail)}
		if logsFollow {
			tailArgs = append(tailArgs, "-f")
		}
		tailArgs = append(tailArgs, logPath)

		tailCmd := exec.Command("tail", tailArgs...)
		tailCmd.Stdout = os.Stdout
		tailCmd.Stderr = os.Stderr
		return tailCmd.Run()
	},
}
