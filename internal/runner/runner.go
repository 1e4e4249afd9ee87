// Package runner implements the Pipeline Runner: the top-level entry point
// that plans a pipeline's DAG, sets up its branch/worktree, drives the Group
// Orchestrator level by level, and finalizes (push, PR, worktree teardown).
// Grounded on the teacher's engine.Run/RunOnceWithLogs outer loop, which
// plans stations, walks levels, and persists status after each one.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/re-cinq/agentpipe/internal/agentpipeerr"
	"github.com/re-cinq/agentpipe/internal/branch"
	"github.com/re-cinq/agentpipe/internal/config"
	"github.com/re-cinq/agentpipe/internal/dag"
	"github.com/re-cinq/agentpipe/internal/gitrepo"
	"github.com/re-cinq/agentpipe/internal/handover"
	"github.com/re-cinq/agentpipe/internal/notify"
	"github.com/re-cinq/agentpipe/internal/orchestrator"
	"github.com/re-cinq/agentpipe/internal/runstate"
	"github.com/re-cinq/agentpipe/internal/runtime"
	"github.com/re-cinq/agentpipe/internal/stage"
	"github.com/re-cinq/agentpipe/internal/statestore"

	charmlog "github.com/charmbracelet/log"
)

// Options carries the per-invocation knobs the CLI surface sets.
type Options struct {
	RepoDir     string
	TriggerKind config.TriggerKind
	LoopCtx     *runstate.LoopContext
	OnChange    runstate.StateChangeFunc
	PushOnly    bool // finalize only pushes, never creates a PR (used by --once)
}

// PRCreator opens a pull request for branch against base, returning its URL.
// Left as an interface so the CLI can inject a gh-CLI-backed implementation
// without this package importing os/exec for PR creation itself.
type PRCreator interface {
	CreatePR(ctx context.Context, repoDir, branch, base, title string) (string, error)
}

// Runner wires every component built under internal/ into one pipeline run.
type Runner struct {
	Store     *statestore.Store
	Runtimes  *runtime.Registry
	LoadAgent stage.AgentFileLoader
	PRCreator PRCreator
	Log       *charmlog.Logger
}

// New creates a Runner.
func New(store *statestore.Store, runtimes *runtime.Registry, loadAgent stage.AgentFileLoader, log *charmlog.Logger) *Runner {
	return &Runner{Store: store, Runtimes: runtimes, LoadAgent: loadAgent, Log: log}
}

// Run executes cfg to completion: initialize, plan, execute every level,
// finalize. It always returns a non-nil PipelineState, even when setup fails
// before a single stage runs — a synthetic "initialize" StageExecution
// records that failure so the CLI has something to show.
func (r *Runner) Run(ctx context.Context, cfg *config.PipelineConfig, opts Options) (*runstate.PipelineState, error) {
	runID := uuid.NewString()
	repo := gitrepo.New(opts.RepoDir)
	repo.EnsureIdentity()

	state := &runstate.PipelineState{
		RunID:  runID,
		Config: cfg,
		Status: runstate.StatusRunning,
		Trigger: runstate.TriggerRecord{
			Kind:      opts.TriggerKind,
			StartedAt: time.Now().UTC(),
		},
		LoopContext: opts.LoopCtx,
	}

	initialCommit, err := repo.CurrentCommit()
	if err != nil {
		return r.failInit(state, "reading initial commit", err), nil
	}
	state.Trigger.InitialCommit = initialCommit
	state.Artifacts.InitialCommit = initialCommit
	// The branch checked out when the run started; finalize returns to it.
	originalBranch, _ := repo.CurrentBranch()

	notifier := notify.NewFacility(cfg.Notifications)
	r.notify(ctx, notifier, runstate.NotifyPipelineStarted, state)

	bm := branch.New(repo, opts.RepoDir)
	setup, err := bm.SetupPipelineBranch(cfg.Name, runID, cfg.Git)
	if err != nil {
		state.Fail()
		r.notify(ctx, notifier, runstate.NotifyPipelineFailed, state)
		return r.failInit(state, "setting up branch", err), nil
	}
	state.Artifacts.WorktreePath = setup.WorktreePath

	execDir := opts.RepoDir
	execRepo := repo
	if setup.WorktreePath != "" {
		execDir = setup.WorktreePath
		execRepo = gitrepo.New(execDir)
	}

	handoverDir := r.Store.HandoverDir(runID)
	hm, err := handover.New(handoverDir)
	if err != nil {
		state.Fail()
		r.notify(ctx, notifier, runstate.NotifyPipelineFailed, state)
		return r.failInit(state, "creating handover directory", err), nil
	}
	state.Artifacts.HandoverDir = handoverDir

	graph, warnings, planErr := dag.Plan(cfg.Agents)
	for _, w := range warnings {
		if r.Log != nil {
			r.Log.Warn(w.Message, "stage", w.Stage)
		}
	}
	if planErr != nil {
		state.Fail()
		r.notify(ctx, notifier, runstate.NotifyPipelineFailed, state)
		return r.failInit(state, "planning execution graph", planErr), nil
	}

	executor := &stage.Executor{
		Repo:              execRepo,
		Dir:               execDir,
		Handover:          hm,
		Runtimes:          r.Runtimes,
		LoadAgent:         r.LoadAgent,
		RunID:             runID,
		AutoCommit:        cfg.Settings.Commit.AutoCommit,
		CommitPrefix:      cfg.Settings.Commit.Prefix,
		IgnorePatterns:    cfg.Settings.ContextReduction.IgnorePatterns,
		DefaultTimeoutSec: cfg.Settings.DefaultTimeout,
	}
	orch := &orchestrator.Orchestrator{
		Executor: executor,
		Handover: hm,
		Store:    r.Store,
		Notifier: notifier,
		OnChange: opts.OnChange,
		Config:   cfg,
		Log:      r.Log,
	}

	tctx := stage.TemplateContext{
		PipelineName:  cfg.Name,
		RunID:         runID,
		Trigger:       string(opts.TriggerKind),
		Timestamp:     time.Now().UTC(),
		BaseBranch:    setup.Branch,
		Branch:        setup.Branch,
		InitialCommit: initialCommit,
	}
	condBuilder := r.makeCondBuilder()

	r.emit(opts.OnChange, state)

groups:
	for _, group := range graph.Groups {
		select {
		case <-ctx.Done():
			state.Stages = append(state.Stages, runstate.StageExecution{
				StageName: "initialize",
				Status:    runstate.StageFailed,
				StartedAt: time.Now().UTC(),
				EndedAt:   time.Now().UTC(),
				Error:     &runstate.StageError{Message: "run cancelled before group dispatch", Code: string(agentpipeerr.CodeAborted)},
			})
			state.Status = runstate.StatusAborted
			break groups
		default:
		}

		result := orch.RunGroup(ctx, group, state, tctx, condBuilder)
		if result.ShouldStopPipeline {
			break groups
		}
	}

	if state.Status == runstate.StatusRunning {
		state.Status = runstate.StatusCompleted
	}
	state.Artifacts.TotalDuration = time.Since(state.Trigger.StartedAt)

	finalCommit, err := execRepo.CurrentCommit()
	if err == nil {
		state.Artifacts.FinalCommit = finalCommit
		if changed, cErr := execRepo.ChangedFiles(finalCommit); cErr == nil {
			state.Artifacts.ChangedFiles = changed
		}
	}

	r.finalize(ctx, execRepo, setup, cfg, state, opts, originalBranch)

	if err := r.Store.SaveState(*state); err != nil && r.Log != nil {
		r.Log.Warn("saving final state failed", "error", err)
	}

	kind := runstate.NotifyPipelineCompleted
	if state.Status == runstate.StatusFailed || state.Status == runstate.StatusAborted {
		kind = runstate.NotifyPipelineFailed
	}
	r.notify(ctx, notifier, kind, state)

	r.emit(opts.OnChange, state)
	return state, nil
}

func (r *Runner) finalize(ctx context.Context, repo *gitrepo.Repo, setup branch.Setup, cfg *config.PipelineConfig, state *runstate.PipelineState, opts Options, originalBranch string) {
	// Teardown and restore act on the main checkout, not on a worktree that
	// Teardown removes.
	bm := branch.New(gitrepo.New(opts.RepoDir), opts.RepoDir)

	if cfg.Git.Push && setup.Branch != "" && state.Status != runstate.StatusFailed && state.Status != runstate.StatusAborted {
		if err := repo.Push(setup.Branch); err != nil && r.Log != nil {
			r.Log.Warn("pushing branch failed", "branch", setup.Branch, "error", err)
		} else if cfg.Git.CreatePR && !opts.PushOnly && r.PRCreator != nil {
			title := fmt.Sprintf("[agentpipe] %s", cfg.Name)
			if url, err := r.PRCreator.CreatePR(ctx, opts.RepoDir, setup.Branch, cfg.Git.Base, title); err != nil {
				if r.Log != nil {
					r.Log.Warn("creating PR failed", "error", err)
				}
			} else if r.Log != nil {
				r.Log.Info("opened pull request", "url", url)
			}
		}
	}

	if err := bm.Teardown(setup, cfg.Git); err != nil && r.Log != nil {
		r.Log.Warn("tearing down worktree failed", "error", err)
	}
	if err := bm.RestoreWorkingTree(originalBranch, cfg.Git); err != nil && r.Log != nil {
		r.Log.Warn("restoring working tree failed", "error", err)
	}
}

// makeCondBuilder returns a CondContextBuilder exposing each stage's
// terminal status under stages.<name>.outputs.status. A stage's textual
// output is not parsed into structured keys, so a condition referencing
// anything but "status" (e.g. stages.review.outputs.passed) always sees an
// absent value.
func (r *Runner) makeCondBuilder() orchestrator.CondContextBuilder {
	return func(state *runstate.PipelineState) map[string]map[string]any {
		ctx := make(map[string]map[string]any, len(state.Stages))
		for _, s := range state.Stages {
			ctx[s.StageName] = map[string]any{
				"status": string(s.Status),
			}
		}
		return ctx
	}
}

func (r *Runner) notify(ctx context.Context, facility *notify.Facility, kind runstate.NotificationKind, state *runstate.PipelineState) {
	if facility == nil {
		return
	}
	event := runstate.NotificationEvent{Kind: kind, State: runstate.Summarize(*state)}
	for _, err := range facility.Notify(ctx, event) {
		if r.Log != nil {
			r.Log.Warn("notify failed", "error", err)
		}
	}
}

func (r *Runner) emit(fn runstate.StateChangeFunc, state *runstate.PipelineState) {
	if fn != nil {
		fn(state.Snapshot())
	}
}

// failInit records a synthetic "initialize" StageExecution for a setup
// failure that occurs before any stage can be dispatched, per the
// specification's requirement that every run produce at least one
// StageExecution even when it never reaches the execution graph.
func (r *Runner) failInit(state *runstate.PipelineState, msg string, err error) *runstate.PipelineState {
	now := time.Now().UTC()
	classified := agentpipeerr.Initialization(msg, err)
	state.Stages = append(state.Stages, runstate.StageExecution{
		StageName: "initialize",
		Status:    runstate.StageFailed,
		StartedAt: now,
		EndedAt:   now,
		Error:     &runstate.StageError{Message: classified.Error(), Code: string(classified.Code)},
	})
	state.Status = runstate.StatusFailed
	return state
}

// LoadAgentFromDir builds an AgentFileLoader reading agent prompt files from
// dir (typically the statestore's AgentsDir()).
func LoadAgentFromDir(dir string) stage.AgentFileLoader {
	return func(agentName string) (string, error) {
		data, err := os.ReadFile(filepath.Join(dir, agentName))
		if err != nil {
			return "", fmt.Errorf("loading agent %q: %w", agentName, err)
		}
		return string(data), nil
	}
}
