package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/re-cinq/agentpipe/internal/runstate"
	"github.com/re-cinq/agentpipe/internal/statestore"
)

var (
	statusFollow   bool
	statusInterval float64
)

func init() {
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "Live-update status (like watch)")
	statusCmd.Flags().Float64VarP(&statusInterval, "interval", "n", 2.0, "Seconds between updates (with --follow)")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <pipeline-file>",
	Short: "Show the status of the most recent run of a pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := resolveRepo(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadAndValidateConfig(args[0], repoDir)
		if err != nil {
			return err
		}
		store := statestore.New(repoDir)

		if statusFollow {
			return followStatus(store, cfg.Name)
		}
		return renderStatus(os.Stdout, store, cfg.Name)
	},
}

func followStatus(store *statestore.Store, pipelineName string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	interval := time.Duration(statusInterval * float64(time.Second))
	var lastOutput string

	for {
		var buf bytes.Buffer
		if err := renderStatus(&buf, store, pipelineName); err != nil {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		output := buf.String()

		if output != lastOutput {
			fmt.Print("\033[H\033[2J")
			fmt.Printf("Every %.1fs: agentpipe status\n\n", statusInterval)
			fmt.Print(output)
			lastOutput = output
		}

		select {
		case <-sigCh:
			fmt.Println()
			return nil
		case <-time.After(interval):
		}
	}
}

func renderStatus(w io.Writer, store *statestore.Store, pipelineName string) error {
	runs, err := store.GetAllRuns()
	if err != nil {
		return err
	}

	var latest *runstate.PipelineState
	for i := range runs {
		if runs[i].Config != nil && runs[i].Config.Name == pipelineName {
			latest = &runs[i]
		}
	}

	fmt.Fprintf(w, "Pipeline: %s\n", pipelineName)
	fmt.Fprintln(w, "──────────────────────────────────────")

	if latest == nil {
		fmt.Fprintln(w, "  (no runs recorded yet)")
		return nil
	}

	fmt.Fprintf(w, "  run %s — %s (started %s)\n\n", latest.RunID, latest.Status, latest.Trigger.StartedAt.Format(time.RFC3339))
	for _, s := range latest.Stages {
		symbol, color := stateDisplay(s.Status)
		line := fmt.Sprintf("  %s  %-20s  %s", symbol, s.StageName, s.Status)
		if s.Error != nil {
			line += fmt.Sprintf("  — %s", s.Error.Message)
		}
		fmt.Fprintf(w, "%s%s%s\n", color, line, ansiReset)
	}
	return nil
}
