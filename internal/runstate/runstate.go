// Package runstate defines the in-memory data model for a single pipeline
// run and for the outer loop session that may schedule many runs. Values
// here are owned by a single writer (the Runner for PipelineState, the Loop
// Scheduler for LoopSession); everyone else observes snapshots.
package runstate

import (
	"time"

	"github.com/re-cinq/agentpipe/internal/config"
)

// Status is the terminal/non-terminal lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPartial   Status = "partial"
	StatusAborted   Status = "aborted"
)

// StageStatus is the lifecycle state of one stage execution.
type StageStatus string

const (
	StageRunning StageStatus = "running"
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// StageError is the classified error recorded on a failed StageExecution.
type StageError struct {
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// TokenUsage records what the runtime reported for one stage attempt.
type TokenUsage struct {
	EstimatedInput int `json:"estimated_input,omitempty"`
	ActualInput    int `json:"actual_input,omitempty"`
	Output         int `json:"output,omitempty"`
	CacheRead      int `json:"cache_read,omitempty"`
}

// StageExecution is the record of one stage's attempt within a run. Created
// by the Group Orchestrator before dispatch, mutated only by the Stage
// Executor during execution, frozen once it reaches a terminal status.
type StageExecution struct {
	StageName          string        `json:"stageName"`
	Status             StageStatus   `json:"status"`
	StartedAt          time.Time     `json:"startedAt"`
	EndedAt            time.Time     `json:"endedAt,omitempty"`
	Duration           time.Duration `json:"duration,omitempty"`
	CommitSHA          string        `json:"commitSha,omitempty"`
	Error              *StageError   `json:"error,omitempty"`
	ConditionEvaluated bool          `json:"conditionEvaluated,omitempty"`
	ConditionResult    bool          `json:"conditionResult,omitempty"`
	ToolActivity       []string      `json:"toolActivity,omitempty"`
	TokenUsage         *TokenUsage   `json:"tokenUsage,omitempty"`
}

// Clone returns a deep-enough copy safe to hand to an observer.
func (s StageExecution) Clone() StageExecution {
	c := s
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	if s.ToolActivity != nil {
		c.ToolActivity = append([]string(nil), s.ToolActivity...)
	}
	if s.TokenUsage != nil {
		t := *s.TokenUsage
		c.TokenUsage = &t
	}
	return c
}

// TriggerRecord captures how and when a run began.
type TriggerRecord struct {
	Kind          config.TriggerKind `json:"kind"`
	InitialCommit string             `json:"initialCommit"`
	StartedAt     time.Time          `json:"startedAt"`
}

// Artifacts captures the outputs of a completed or terminated run.
type Artifacts struct {
	InitialCommit string        `json:"initialCommit"`
	FinalCommit   string        `json:"finalCommit,omitempty"`
	ChangedFiles  []string      `json:"changedFiles,omitempty"`
	TotalDuration time.Duration `json:"totalDuration,omitempty"`
	HandoverDir   string        `json:"handoverDir,omitempty"`
	WorktreePath  string        `json:"worktreePath,omitempty"`
}

// LoopContext is attached to a PipelineState when the run was dispatched by
// the Loop Scheduler rather than invoked directly.
type LoopContext struct {
	SessionID       string `json:"sessionId"`
	IterationNumber int    `json:"iterationNumber"`
	SourceType      string `json:"sourceType"` // "library" | "loop-pending"
}

// PipelineState is everything known about one run of a pipeline.
type PipelineState struct {
	RunID       string                 `json:"runId"`
	Config      *config.PipelineConfig `json:"-"`
	Trigger     TriggerRecord          `json:"trigger"`
	Stages      []StageExecution       `json:"stages"`
	Status      Status                 `json:"status"`
	Artifacts   Artifacts              `json:"artifacts"`
	LoopContext *LoopContext           `json:"loopContext,omitempty"`
}

// Snapshot returns a shallow-cloned copy safe for a reactive observer: the
// stages slice is rebuilt so callers can never see subsequent in-place
// mutation of the engine's live state through an old reference.
func (p *PipelineState) Snapshot() PipelineState {
	cp := *p
	cp.Stages = make([]StageExecution, len(p.Stages))
	for i, s := range p.Stages {
		cp.Stages[i] = s.Clone()
	}
	cp.Artifacts.ChangedFiles = append([]string(nil), p.Artifacts.ChangedFiles...)
	if p.LoopContext != nil {
		lc := *p.LoopContext
		cp.LoopContext = &lc
	}
	return cp
}

// FindStage returns a pointer to the StageExecution with the given name, if present.
func (p *PipelineState) FindStage(name string) *StageExecution {
	for i := range p.Stages {
		if p.Stages[i].StageName == name {
			return &p.Stages[i]
		}
	}
	return nil
}

// DemoteToPartial applies the only allowed non-terminal demotion:
// running -> partial. It never downgrades an already-terminal status.
func (p *PipelineState) DemoteToPartial() {
	if p.Status == StatusRunning {
		p.Status = StatusPartial
	}
}

// Fail sets status to failed; allowed from running or partial, per the
// running -> partial -> failed demotion chain.
func (p *PipelineState) Fail() {
	if p.Status == StatusRunning || p.Status == StatusPartial {
		p.Status = StatusFailed
	}
}

// StateChangeFunc is invoked with a fresh snapshot whenever PipelineState
// changes. Implementations must not mutate the snapshot they receive.
type StateChangeFunc func(PipelineState)

// RunSummary is a read-only projection of PipelineState for the CLI surface
// (status/logs/viz), so CLI code never reaches into the engine's live state.
type RunSummary struct {
	RunID         string           `json:"runId"`
	PipelineName  string           `json:"pipelineName"`
	Status        Status           `json:"status"`
	StartedAt     time.Time        `json:"startedAt"`
	Stages        []StageExecution `json:"stages"`
	TotalDuration time.Duration    `json:"totalDuration,omitempty"`
}

// Summarize projects a PipelineState into a RunSummary.
func Summarize(p PipelineState) RunSummary {
	name := ""
	if p.Config != nil {
		name = p.Config.Name
	}
	return RunSummary{
		RunID:         p.RunID,
		PipelineName:  name,
		Status:        p.Status,
		StartedAt:     p.Trigger.StartedAt,
		Stages:        p.Stages,
		TotalDuration: p.Artifacts.TotalDuration,
	}
}

// NotificationKind enumerates the lifecycle events the Runner and
// Orchestrator report to the notification facility.
type NotificationKind string

const (
	NotifyPipelineStarted   NotificationKind = "pipeline.started"
	NotifyPipelineCompleted NotificationKind = "pipeline.completed"
	NotifyPipelineFailed    NotificationKind = "pipeline.failed"
	NotifyGroupCompleted    NotificationKind = "group.completed"
)

// NotificationEvent is the payload delivered to the notification facility.
type NotificationEvent struct {
	Kind       NotificationKind
	State      RunSummary
	Executions []StageExecution
}
