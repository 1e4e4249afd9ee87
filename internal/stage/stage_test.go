package stage

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/re-cinq/agentpipe/internal/condition"
	"github.com/re-cinq/agentpipe/internal/config"
	"github.com/re-cinq/agentpipe/internal/gitrepo"
	"github.com/re-cinq/agentpipe/internal/handover"
	"github.com/re-cinq/agentpipe/internal/runstate"
	"github.com/re-cinq/agentpipe/internal/runtime"
	"github.com/re-cinq/agentpipe/internal/runtime/mock"
	"github.com/stretchr/testify/require"
)

func newExecutor(t *testing.T, mockRT *mock.Runtime) *Executor {
	t.Helper()
	h, err := handover.New(t.TempDir())
	require.NoError(t, err)
	registry := runtime.NewRegistry(map[string]runtime.Runtime{"claude": mockRT})
	return &Executor{
		Dir:       t.TempDir(),
		Handover:  h,
		Runtimes:  registry,
		LoadAgent: func(name string) (string, error) { return "agent prompt for " + name, nil },
		RunID:     "run-1",
	}
}

func TestExecuteStage_Success(t *testing.T) {
	e := newExecutor(t, mock.New(mock.WithOutput("did the work")))
	stageCfg := config.AgentStageConfig{Name: "review", Agent: "claude"}

	exec := e.ExecuteStage(context.Background(), stageCfg, TemplateContext{}, condition.Context{}, nil)
	require.Equal(t, runstate.StageSuccess, exec.Status)
	require.Empty(t, exec.CommitSHA) // AutoCommit off

	output, err := e.Handover.ReadStageOutput("review")
	require.NoError(t, err)
	require.Equal(t, "did the work", output)
}

func TestExecuteStage_ConditionFalseSkipsRuntime(t *testing.T) {
	mockRT := mock.New()
	e := newExecutor(t, mockRT)
	stageCfg := config.AgentStageConfig{Name: "deploy", Agent: "claude", Condition: "{{ stages.review.outputs.passed }}"}

	condCtx := condition.Context{Stages: map[string]condition.StageOutputs{
		"review": {Outputs: map[string]any{"passed": false}},
	}}

	exec := e.ExecuteStage(context.Background(), stageCfg, TemplateContext{}, condCtx, nil)
	require.Equal(t, runstate.StageSkipped, exec.Status)
	require.True(t, exec.ConditionEvaluated)
	require.False(t, exec.ConditionResult)
	require.Empty(t, mockRT.Calls())
}

func TestExecuteStage_RuntimeErrorIsFailed(t *testing.T) {
	e := newExecutor(t, mock.New(mock.WithFailure(errSentinel)))
	stageCfg := config.AgentStageConfig{Name: "review", Agent: "claude"}

	exec := e.ExecuteStage(context.Background(), stageCfg, TemplateContext{}, condition.Context{}, nil)
	require.Equal(t, runstate.StageFailed, exec.Status)
	require.Equal(t, "RUNTIME", exec.Error.Code)
}

func TestExecuteParallelGroup_PreservesDeclarationOrder(t *testing.T) {
	stages := []config.AgentStageConfig{{Name: "x"}, {Name: "y"}}
	run := func(ctx context.Context, s config.AgentStageConfig) runstate.StageExecution {
		return runstate.StageExecution{StageName: s.Name, Status: runstate.StageSuccess}
	}
	result := ExecuteParallelGroup(context.Background(), stages, run)
	require.Equal(t, "x", result.Executions[0].StageName)
	require.Equal(t, "y", result.Executions[1].StageName)
}

func TestExecuteStage_DefaultTimeoutFiresWhenStageDeclaresNone(t *testing.T) {
	h, err := handover.New(t.TempDir())
	require.NoError(t, err)
	mockRT := mock.New(mock.WithSimulatedDelay(1200 * time.Millisecond))
	e := &Executor{
		Dir:               t.TempDir(),
		Handover:          h,
		Runtimes:          runtime.NewRegistry(map[string]runtime.Runtime{"claude": mockRT}),
		LoadAgent:         func(name string) (string, error) { return "prompt", nil },
		RunID:             "run-1",
		DefaultTimeoutSec: 1,
	}
	stageCfg := config.AgentStageConfig{Name: "review", Agent: "claude"}

	exec := e.ExecuteStage(context.Background(), stageCfg, TemplateContext{}, condition.Context{}, nil)
	require.Equal(t, runstate.StageFailed, exec.Status)
	require.Equal(t, "TIMEOUT", exec.Error.Code)
}

func TestExecuteStage_StageTimeoutOverridesDefault(t *testing.T) {
	h, err := handover.New(t.TempDir())
	require.NoError(t, err)
	mockRT := mock.New(mock.WithSimulatedDelay(100 * time.Millisecond))
	e := &Executor{
		Dir:               t.TempDir(),
		Handover:          h,
		Runtimes:          runtime.NewRegistry(map[string]runtime.Runtime{"claude": mockRT}),
		LoadAgent:         func(name string) (string, error) { return "prompt", nil },
		RunID:             "run-1",
		DefaultTimeoutSec: 1,
	}
	stageCfg := config.AgentStageConfig{Name: "review", Agent: "claude", TimeoutSec: 5}

	exec := e.ExecuteStage(context.Background(), stageCfg, TemplateContext{}, condition.Context{}, nil)
	require.Equal(t, runstate.StageSuccess, exec.Status)
}

func newTestRepo(t *testing.T) *gitrepo.Repo {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init")
	run("config", "user.name", "test")
	run("config", "user.email", "test@example.com")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial commit")
	return gitrepo.New(dir)
}

func TestExecuteStage_ChangedFilesAreReducedByIgnorePatterns(t *testing.T) {
	repo := newTestRepo(t)
	initialCommit, err := repo.CurrentCommit()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "out.txt"), []byte("work\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "debug.log"), []byte("noise\n"), 0o644))

	h, err := handover.New(t.TempDir())
	require.NoError(t, err)
	e := &Executor{
		Repo:           repo,
		Dir:            repo.Dir,
		Handover:       h,
		Runtimes:       runtime.NewRegistry(map[string]runtime.Runtime{"claude": mock.New(mock.WithOutput("ok"))}),
		LoadAgent:      func(name string) (string, error) { return "prompt", nil },
		RunID:          "run-1",
		IgnorePatterns: []string{"*.log"},
	}
	stageCfg := config.AgentStageConfig{Name: "review", Agent: "claude"}
	tctx := TemplateContext{InitialCommit: initialCommit}

	files := e.changedFilesForContext(tctx)
	require.Contains(t, files, "out.txt")
	require.NotContains(t, files, "debug.log")

	exec := e.ExecuteStage(context.Background(), stageCfg, tctx, condition.Context{}, nil)
	require.Equal(t, runstate.StageSuccess, exec.Status)
}

var errSentinel = sentinelErr("boom")

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }
