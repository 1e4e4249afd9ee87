// Package stage implements the Stage Executor (run one agent stage) and the
// Parallel Executor (run a group of stages all at once, one goroutine per
// stage, or in strict sequence). Grounded on the teacher's processConcern + invokeAgent
// for the executor, and on RunOnceWithLogs's per-level fan-out for the
// parallel path.
package stage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/re-cinq/agentpipe/internal/agentpipeerr"
	"github.com/re-cinq/agentpipe/internal/condition"
	"github.com/re-cinq/agentpipe/internal/config"
	"github.com/re-cinq/agentpipe/internal/gitrepo"
	"github.com/re-cinq/agentpipe/internal/handover"
	"github.com/re-cinq/agentpipe/internal/runstate"
	"github.com/re-cinq/agentpipe/internal/runtime"
)

// TemplateContext is the small set of values available to an agent prompt
// in addition to the handover context and the agent file contents.
type TemplateContext struct {
	PipelineName  string
	RunID         string
	Trigger       string
	Timestamp     time.Time
	BaseBranch    string
	Branch        string
	InitialCommit string
}

// UpdateToolActivityFunc streams one tool-activity event for a stage; the
// Orchestrator is responsible for truncating to the last 3 entries.
type UpdateToolActivityFunc func(stageName string, activity runtime.ToolActivity)

// AgentFileLoader resolves a stage's agent name to prompt text.
type AgentFileLoader func(agentName string) (string, error)

// ConditionContextFunc builds the stages.<name>.outputs context available
// to condition evaluation at the moment a stage is about to run.
type ConditionContextFunc func() condition.Context

// Executor runs individual stages. It is instantiated once per Runner
// invocation, bound to that run's git repo, handover manager, and runtime
// registry.
type Executor struct {
	Repo              *gitrepo.Repo
	Dir               string // working directory (repo root or worktree path) agents run in
	Handover          *handover.Manager
	Runtimes          *runtime.Registry
	LoadAgent         AgentFileLoader
	RunID             string
	AutoCommit        bool
	CommitPrefix      string
	IgnorePatterns    []string // Settings.ContextReduction.IgnorePatterns, applied to the changed-files view
	DefaultTimeoutSec int      // Settings.DefaultTimeout, used when a stage declares no timeout of its own
}

// ExecuteStage runs one agent stage to completion. It never returns a Go
// error for a stage-local failure; failures are recorded on the returned
// StageExecution instead.
func (e *Executor) ExecuteStage(
	ctx context.Context,
	stageCfg config.AgentStageConfig,
	tctx TemplateContext,
	condCtx condition.Context,
	updateActivity UpdateToolActivityFunc,
) runstate.StageExecution {
	exec := runstate.StageExecution{
		StageName: stageCfg.Name,
		Status:    runstate.StageRunning,
		StartedAt: time.Now().UTC(),
	}

	if stageCfg.Condition != "" {
		result, err := condition.Evaluate(stageCfg.Condition, condCtx)
		if err != nil {
			return e.fail(exec, agentpipeerr.New(agentpipeerr.CodeValidation, "evaluating condition", err))
		}
		exec.ConditionEvaluated = true
		exec.ConditionResult = result.Value
		if !result.Value {
			exec.Status = runstate.StageSkipped
			exec.EndedAt = time.Now().UTC()
			exec.Duration = exec.EndedAt.Sub(exec.StartedAt)
			return exec
		}
	}

	select {
	case <-ctx.Done():
		return e.fail(exec, agentpipeerr.Aborted(stageCfg.Name))
	default:
	}

	prompt, err := e.buildPrompt(stageCfg, tctx)
	if err != nil {
		return e.fail(exec, agentpipeerr.New(agentpipeerr.CodeInitialization, "assembling prompt", err))
	}

	rt, ok := e.Runtimes.Get(stageCfg.Agent)
	if !ok {
		return e.fail(exec, agentpipeerr.Environment(fmt.Sprintf("no runtime registered for agent %q", stageCfg.Agent)))
	}

	result, runErr := e.invokeWithRetry(ctx, rt, stageCfg, prompt, updateActivity)
	if runErr != nil {
		if ctx.Err() != nil {
			return e.fail(exec, agentpipeerr.Aborted(stageCfg.Name))
		}
		if isDeadlineErr(runErr) {
			return e.fail(exec, agentpipeerr.Timeout(stageCfg.Name))
		}
		return e.fail(exec, agentpipeerr.Runtime(stageCfg.Name, runErr))
	}

	if e.Handover != nil {
		if err := e.Handover.WriteStageOutput(stageCfg.Name, result.TextOutput); err != nil {
			exec.Error = &runstate.StageError{Message: "handover write failed: " + err.Error(), Code: string(agentpipeerr.CodeHandoverWarn)}
		}
	}

	if e.AutoCommit && e.Repo != nil {
		sha, err := e.Repo.PipelineCommit(stageCfg.Name, e.RunID, "", e.CommitPrefix)
		if err != nil {
			return e.fail(exec, agentpipeerr.New(agentpipeerr.CodeRuntime, "committing stage output", err))
		}
		exec.CommitSHA = sha
	}

	if result.TokenUsage != nil {
		exec.TokenUsage = &runstate.TokenUsage{
			EstimatedInput: result.TokenUsage.EstimatedInput,
			ActualInput:    result.TokenUsage.ActualInput,
			Output:         result.TokenUsage.Output,
			CacheRead:      result.TokenUsage.CacheRead,
		}
	}

	exec.Status = runstate.StageSuccess
	exec.EndedAt = time.Now().UTC()
	exec.Duration = exec.EndedAt.Sub(exec.StartedAt)
	return exec
}

func (e *Executor) fail(exec runstate.StageExecution, err *agentpipeerr.Error) runstate.StageExecution {
	exec.Status = runstate.StageFailed
	exec.EndedAt = time.Now().UTC()
	exec.Duration = exec.EndedAt.Sub(exec.StartedAt)
	exec.Error = &runstate.StageError{Message: err.Error(), Code: string(err.Code), Suggestion: err.Suggestion}
	return exec
}

func (e *Executor) buildPrompt(stageCfg config.AgentStageConfig, tctx TemplateContext) (string, error) {
	var b strings.Builder
	if e.Handover != nil {
		changedFiles := e.changedFilesForContext(tctx)
		handoverCtx, err := e.Handover.BuildContextMessage(changedFiles)
		if err != nil {
			return "", err
		}
		if handoverCtx != "" {
			b.WriteString(handoverCtx)
			b.WriteString("\n\n")
		}
	}

	if e.LoadAgent != nil {
		agentPrompt, err := e.LoadAgent(stageCfg.Agent)
		if err != nil {
			return "", err
		}
		b.WriteString(agentPrompt)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "pipelineName: %s\nrunId: %s\ntrigger: %s\ntimestamp: %s\nbaseBranch: %s\nbranch: %s\ninitialCommit: %s\n",
		tctx.PipelineName, tctx.RunID, tctx.Trigger, tctx.Timestamp.Format(time.RFC3339),
		tctx.BaseBranch, tctx.Branch, tctx.InitialCommit)

	return b.String(), nil
}

// changedFilesForContext lists the files changed since the run's initial
// commit, reduced through an IgnoreFilter built from the stage's configured
// ignore patterns so vendor/generated files never bloat a stage prompt.
func (e *Executor) changedFilesForContext(tctx TemplateContext) []string {
	if e.Repo == nil || tctx.InitialCommit == "" {
		return nil
	}
	files, err := e.Repo.ChangedFilesSince(tctx.InitialCommit)
	if err != nil || len(files) == 0 {
		return nil
	}
	return gitrepo.NewIgnoreFilter(e.IgnorePatterns).Apply(files)
}

type deadlineErr struct{ err error }

func (d deadlineErr) Error() string { return d.err.Error() }
func (d deadlineErr) Unwrap() error { return d.err }

func isDeadlineErr(err error) bool {
	_, ok := err.(deadlineErr)
	return ok
}

// invokeWithRetry calls the runtime, retrying only on non-terminal
// (transport/runtime) failures per the stage's retry policy, sleeping the
// same fixed retry delay between counted attempts.
func (e *Executor) invokeWithRetry(
	ctx context.Context,
	rt runtime.Runtime,
	stageCfg config.AgentStageConfig,
	prompt string,
	updateActivity UpdateToolActivityFunc,
) (runtime.Result, error) {
	maxAttempts := 1
	delay := time.Duration(0)
	if stageCfg.Retry != nil && stageCfg.Retry.MaxAttempts > 1 {
		maxAttempts = stageCfg.Retry.MaxAttempts
		delay = time.Duration(stageCfg.Retry.DelaySec) * time.Second
	}

	timeoutSec := stageCfg.TimeoutSec
	if timeoutSec == 0 {
		timeoutSec = e.DefaultTimeoutSec
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeoutSec > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		defer cancel()
	}

	req := runtime.Request{
		Prompt: prompt,
		Dir:    e.Dir,
		OnToolActivity: func(a runtime.ToolActivity) {
			if updateActivity != nil {
				updateActivity(stageCfg.Name, a)
			}
		},
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return runtime.Result{}, ctx.Err()
		default:
		}

		result, err := rt.Execute(attemptCtx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attemptCtx.Err() != nil {
			return runtime.Result{}, deadlineErr{err: attemptCtx.Err()}
		}
		if attempt < maxAttempts && delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return runtime.Result{}, ctx.Err()
			}
		}
	}
	return runtime.Result{}, lastErr
}

// GroupResult is the outcome of running one ExecutionGroup's stages.
type GroupResult struct {
	Executions   []runstate.StageExecution
	AllSucceeded bool
	AnyFailed    bool
	Duration     time.Duration
}

// AggregateResults renders a human-readable summary like "k/n stages succeeded".
func AggregateResults(r GroupResult) string {
	succeeded := 0
	for _, e := range r.Executions {
		if e.Status == runstate.StageSuccess {
			succeeded++
		}
	}
	return fmt.Sprintf("%d/%d stages succeeded", succeeded, len(r.Executions))
}

// StageRunner executes one stage; both group-execution entry points take
// this as a parameter so the Orchestrator can inject per-stage condition
// context without the Parallel Executor needing to know about conditions.
type StageRunner func(ctx context.Context, stageCfg config.AgentStageConfig) runstate.StageExecution

// ExecuteSequentialGroup runs stages one-by-one in declared order. Even
// inside an otherwise-parallel group, a single-stage group uses this path.
func ExecuteSequentialGroup(ctx context.Context, stages []config.AgentStageConfig, run StageRunner) GroupResult {
	start := time.Now()
	result := GroupResult{AllSucceeded: true}
	for _, s := range stages {
		exec := run(ctx, s)
		result.Executions = append(result.Executions, exec)
		if exec.Status == runstate.StageFailed {
			result.AllSucceeded = false
			result.AnyFailed = true
		}
	}
	result.Duration = time.Since(start)
	return result
}

// ExecuteParallelGroup launches all stages concurrently, awaits every one
// (even after a failure within the group) and returns. No stage inside a
// parallel group cancels its siblings on failure; declaration order of the
// input list is preserved in the returned executions, not completion order.
func ExecuteParallelGroup(ctx context.Context, stages []config.AgentStageConfig, run StageRunner) GroupResult {
	start := time.Now()
	executions := make([]runstate.StageExecution, len(stages))

	var wg sync.WaitGroup
	for i, s := range stages {
		wg.Add(1)
		go func(i int, s config.AgentStageConfig) {
			defer wg.Done()
			executions[i] = run(ctx, s)
		}(i, s)
	}
	wg.Wait()

	result := GroupResult{Executions: executions, AllSucceeded: true, Duration: time.Since(start)}
	for _, e := range executions {
		if e.Status == runstate.StageFailed {
			result.AllSucceeded = false
			result.AnyFailed = true
		}
	}
	return result
}
