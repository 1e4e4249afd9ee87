package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	charmlog "github.com/charmbracelet/log"

	"github.com/re-cinq/agentpipe/internal/config"
	"github.com/re-cinq/agentpipe/internal/loop"
	"github.com/re-cinq/agentpipe/internal/runner"
	"github.com/re-cinq/agentpipe/internal/runstate"
	"github.com/re-cinq/agentpipe/internal/runtime"
	"github.com/re-cinq/agentpipe/internal/runtime/mock"
	ptyruntime "github.com/re-cinq/agentpipe/internal/runtime/pty"
	"github.com/re-cinq/agentpipe/internal/statestore"
)

var (
	runOnce          bool
	runLoop          bool
	runMaxIterations int
	runMock          bool
)

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run the pipeline a single time and exit")
	runCmd.Flags().BoolVar(&runLoop, "loop", false, "Run under the loop scheduler, draining queued pipelines")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "Override the loop scheduler's iteration ceiling")
	runCmd.Flags().BoolVar(&runMock, "mock", false, "Use the mock agent runtime instead of invoking real agent binaries")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <pipeline-file>",
	Short: "Run a pipeline once, or under the loop scheduler",
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

		log := charmlog.New(os.Stderr)
		store := statestore.New(repoDir)
		registry := buildRuntimeRegistry(cfg)

		run := runner.New(store, registry, runner.LoadAgentFromDir(store.AgentsDir()), log)
		run.PRCreator = ghPRCreator{}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			if _, ok := <-sigCh; ok {
				fmt.Fprintln(os.Stderr, "\nreceived interrupt, cancelling run...")
				cancel()
			}
		}()

		onChange := func(state runstate.PipelineState) {
			log.Info("stage update", "run", state.RunID, "status", state.Status, "stages", len(state.Stages))
		}

		if runLoop {
			scheduler := loop.New(store, func(ctx context.Context, cfg *config.PipelineConfig, loopCtx runstate.LoopContext) (*runstate.PipelineState, error) {
				opts := runner.Options{RepoDir: repoDir, TriggerKind: cfg.Trigger, LoopCtx: &loopCtx, OnChange: onChange}
				return run.Run(ctx, cfg, opts)
			})
			session, err := scheduler.Run(ctx, cfg, runMaxIterations)
			if err != nil {
				return err
			}
			fmt.Printf("loop session %s finished: %s (%d iteration(s))\n", session.SessionID, session.Status, session.TotalIterations)
			if session.Status == runstate.LoopFailed {
				return fmt.Errorf("loop session ended in failure")
			}
			return nil
		}

		opts := runner.Options{RepoDir: repoDir, TriggerKind: cfg.Trigger, OnChange: onChange, PushOnly: runOnce}
		state, err := run.Run(ctx, cfg, opts)
		if err != nil {
			return err
		}
		fmt.Printf("run %s finished: %s\n", state.RunID, state.Status)
		if state.Status == runstate.StatusFailed || state.Status == runstate.StatusAborted {
			return fmt.Errorf("pipeline run %s", state.Status)
		}
		return nil
	},
}

// buildRuntimeRegistry maps every distinct agent name declared in cfg to a
// runtime: the mock runtime under --mock, otherwise a PTY-backed runtime
// invoking the agent name as a command on PATH.
func buildRuntimeRegistry(cfg *config.PipelineConfig) *runtime.Registry {
	runtimes := make(map[string]runtime.Runtime)
	for _, stage := range cfg.Agents {
		if _, ok := runtimes[stage.Agent]; ok {
			continue
		}
		if runMock {
			runtimes[stage.Agent] = mock.New(mock.WithOutput(fmt.Sprintf("mock output for %s", stage.Agent)))
		} else {
			runtimes[stage.Agent] = ptyruntime.New(stage.Agent, nil, os.Stderr)
		}
	}
	return runtime.NewRegistry(runtimes)
}

// ghPRCreator opens pull requests via the gh CLI.
type ghPRCreator struct{}

func (ghPRCreator) CreatePR(ctx context.Context, repoDir, branch, base, title string) (string, error) {
	args := []string{"pr", "create", "--head", branch, "--title", title, "--body", "Opened by agentpipe."}
	if base != "" {
		args = append(args, "--base", base)
	}
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("gh pr create: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}
