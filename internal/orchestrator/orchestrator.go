// Package orchestrator implements the Group Orchestrator: it filters a
// group's stages, dispatches to the Parallel Executor, merges results into
// PipelineState, updates the handover, persists, notifies, and resolves the
// group's failure strategy. Grounded on the teacher's per-level loop body
// in RunOnceWithLogs (skip-if-upstream-failed, write status, dispatch).
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/re-cinq/agentpipe/internal/condition"
	"github.com/re-cinq/agentpipe/internal/config"
	"github.com/re-cinq/agentpipe/internal/dag"
	"github.com/re-cinq/agentpipe/internal/handover"
	"github.com/re-cinq/agentpipe/internal/runstate"
	"github.com/re-cinq/agentpipe/internal/runtime"
	"github.com/re-cinq/agentpipe/internal/stage"

	charmlog "github.com/charmbracelet/log"
)

// Notifier is the external notification facility the Orchestrator reports
// group-level lifecycle events to. Errors are logged, never fatal.
type Notifier interface {
	Notify(ctx context.Context, event runstate.NotificationEvent) []error
}

// StateSaver persists a PipelineState snapshot.
type StateSaver interface {
	SaveState(state runstate.PipelineState) error
}

// Orchestrator dispatches one ExecutionGroup at a time against a live
// PipelineState, owned exclusively by the Pipeline Runner that constructs it.
type Orchestrator struct {
	Executor *stage.Executor
	Handover *handover.Manager
	Store    StateSaver
	Notifier Notifier
	OnChange runstate.StateChangeFunc
	Config   *config.PipelineConfig
	Log      *charmlog.Logger
}

// Result is what RunGroup reports back to the Runner.
type Result struct {
	ShouldStopPipeline bool
}

// CondContextBuilder builds the condition-evaluation context from a
// state's already-dispatched stages. Exposed as a func so the Runner can
// own how stage outputs become condition inputs (e.g. parsing structured
// output from a stage's text result).
type CondContextBuilder func(state *runstate.PipelineState) map[string]map[string]any

// RunGroup executes one ExecutionGroup's steps 1-9 against state.
func (o *Orchestrator) RunGroup(
	ctx context.Context,
	group dag.ExecutionGroup,
	state *runstate.PipelineState,
	tctx stage.TemplateContext,
	condBuilder CondContextBuilder,
) Result {
	var enabled, disabled []config.AgentStageConfig
	for _, s := range group.Stages {
		if s.IsEnabled() {
			enabled = append(enabled, s)
		} else {
			disabled = append(disabled, s)
		}
	}

	for _, s := range disabled {
		exec := runstate.StageExecution{
			StageName: s.Name,
			Status:    runstate.StageSkipped,
			StartedAt: time.Now().UTC(),
			EndedAt:   time.Now().UTC(),
		}
		state.Stages = append(state.Stages, exec)
		o.emitChange(state)
	}

	if len(enabled) == 0 {
		return Result{ShouldStopPipeline: false}
	}

	mode := o.Config.EffectiveExecutionMode()
	runner := func(ctx context.Context, s config.AgentStageConfig) runstate.StageExecution {
		condCtx := buildCondCtx(condBuilder, state)
		return o.Executor.ExecuteStage(ctx, s, tctx, condCtx, o.makeUpdateActivity(state))
	}

	var groupResult stage.GroupResult
	if mode == config.ExecutionParallel && len(enabled) >= 2 {
		groupResult = stage.ExecuteParallelGroup(ctx, enabled, runner)
	} else {
		groupResult = stage.ExecuteSequentialGroup(ctx, enabled, runner)
	}

	state.Stages = append(state.Stages, groupResult.Executions...)
	o.emitChange(state)

	o.updateHandover(mode, enabled, groupResult)

	if o.Store != nil {
		if err := o.Store.SaveState(*state); err != nil && o.Log != nil {
			o.Log.Warn("saving state failed", "error", err)
		}
	}
	o.emitChange(state)

	if o.Notifier != nil {
		event := runstate.NotificationEvent{
			Kind:       runstate.NotifyGroupCompleted,
			State:      runstate.Summarize(*state),
			Executions: groupResult.Executions,
		}
		for _, err := range o.Notifier.Notify(ctx, event) {
			if o.Log != nil {
				o.Log.Warn(fmt.Sprintf("   notify: %v", err))
			}
		}
	}

	return Result{ShouldStopPipeline: o.resolveFailureStrategy(enabled, groupResult.Executions, state)}
}

func buildCondCtx(builder CondContextBuilder, state *runstate.PipelineState) condition.Context {
	if builder == nil {
		return condition.Context{}
	}
	raw := builder(state)
	stages := make(map[string]condition.StageOutputs, len(raw))
	for name, outputs := range raw {
		stages[name] = condition.StageOutputs{Outputs: outputs}
	}
	return condition.Context{Stages: stages}
}

func (o *Orchestrator) makeUpdateActivity(state *runstate.PipelineState) stage.UpdateToolActivityFunc {
	return func(stageName string, activity runtime.ToolActivity) {
		exec := state.FindStage(stageName)
		if exec == nil {
			return // missing stage names are silently tolerated
		}
		exec.ToolActivity = append(exec.ToolActivity, activity.Summary)
		if len(exec.ToolActivity) > 3 {
			exec.ToolActivity = exec.ToolActivity[len(exec.ToolActivity)-3:]
		}
		o.emitChange(state)
	}
}

func (o *Orchestrator) updateHandover(mode config.ExecutionMode, enabled []config.AgentStageConfig, result stage.GroupResult) {
	if o.Handover == nil {
		return
	}
	var succeededNames []string
	for _, e := range result.Executions {
		if e.Status == runstate.StageSuccess {
			succeededNames = append(succeededNames, e.StageName)
		}
	}
	if len(succeededNames) == 0 {
		return
	}

	isParallel := mode == config.ExecutionParallel && len(enabled) >= 2
	var err error
	if isParallel {
		err = o.Handover.MergeParallelOutputs(succeededNames)
	} else {
		for _, name := range succeededNames {
			if copyErr := o.Handover.CopyStageToHandover(name); copyErr != nil {
				err = copyErr
			}
		}
	}
	if err != nil && o.Log != nil {
		o.Log.Warn("handover update failed", "error", err)
	}
}

// resolveFailureStrategy applies step 9: for every failed stage in this
// group, compute its effective strategy and tie-break toward the most
// restrictive (stop > warn = continue).
func (o *Orchestrator) resolveFailureStrategy(enabled []config.AgentStageConfig, executions []runstate.StageExecution, state *runstate.PipelineState) bool {
	stop := false
	demote := false

	byName := make(map[string]config.AgentStageConfig, len(enabled))
	for _, s := range enabled {
		byName[s.Name] = s
	}

	for _, e := range executions {
		if e.Status != runstate.StageFailed {
			continue
		}
		stageCfg, ok := byName[e.StageName]
		if !ok {
			stageCfg, _ = o.Config.FindStage(e.StageName)
		}
		strategy := o.Config.StageStrategy(stageCfg)

		switch strategy {
		case config.OnFailStop:
			stop = true
		case config.OnFailContinue, config.OnFailWarn:
			demote = true
		default:
			if o.Log != nil {
				o.Log.Warn("unrecognized onFail strategy, treating as stop", "strategy", strategy, "stage", e.StageName)
			}
			stop = true
		}
	}

	if stop {
		state.Fail()
		return true
	}
	if demote {
		state.DemoteToPartial()
	}
	return false
}

func (o *Orchestrator) emitChange(state *runstate.PipelineState) {
	if o.OnChange != nil {
		o.OnChange(state.Snapshot())
	}
}
