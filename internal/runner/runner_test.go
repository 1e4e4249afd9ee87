package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/re-cinq/agentpipe/internal/config"
	"github.com/re-cinq/agentpipe/internal/runstate"
	"github.com/re-cinq/agentpipe/internal/runtime"
	"github.com/re-cinq/agentpipe/internal/runtime/mock"
	"github.com/re-cinq/agentpipe/internal/statestore"
	"github.com/stretchr/testify/require"
)

func newTestRepoDir(t *testing.T) string {
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
	return dir
}

func newTestRunner(t *testing.T, repoDir string, rt runtime.Runtime) *Runner {
	t.Helper()
	store := statestore.New(repoDir)
	registry := runtime.NewRegistry(map[string]runtime.Runtime{"claude": rt})
	loadAgent := func(name string) (string, error) { return "prompt for " + name, nil }
	return New(store, registry, loadAgent, nil)
}

func TestRun_SingleStageCompletesSuccessfully(t *testing.T) {
	repoDir := newTestRepoDir(t)
	r := newTestRunner(t, repoDir, mock.New(mock.WithOutput("looks good")))

	cfg := &config.PipelineConfig{
		Name:    "review",
		Trigger: config.TriggerManual,
		Agents: []config.AgentStageConfig{
			{Name: "review-stage", Agent: "claude"},
		},
	}

	state, err := r.Run(context.Background(), cfg, Options{RepoDir: repoDir, TriggerKind: config.TriggerManual})
	require.NoError(t, err)
	require.Equal(t, runstate.StatusCompleted, state.Status)
	require.Len(t, state.Stages, 1)
	require.Equal(t, runstate.StageSuccess, state.Stages[0].Status)
}

func TestRun_RuntimeFailureMarksPipelineFailed(t *testing.T) {
	repoDir := newTestRepoDir(t)
	r := newTestRunner(t, repoDir, mock.New(mock.WithFailure(errBoom)))

	cfg := &config.PipelineConfig{
		Name:    "review",
		Trigger: config.TriggerManual,
		Agents: []config.AgentStageConfig{
			{Name: "review-stage", Agent: "claude", OnFail: config.OnFailStop},
		},
	}

	state, err := r.Run(context.Background(), cfg, Options{RepoDir: repoDir, TriggerKind: config.TriggerManual})
	require.NoError(t, err)
	require.Equal(t, runstate.StatusFailed, state.Status)
}

func TestRun_CreatesReusableBranch(t *testing.T) {
	repoDir := newTestRepoDir(t)
	r := newTestRunner(t, repoDir, mock.New())

	cfg := &config.PipelineConfig{
		Name:    "review",
		Trigger: config.TriggerManual,
		Agents: []config.AgentStageConfig{
			{Name: "review-stage", Agent: "claude"},
		},
		Git: config.BranchPolicy{Strategy: config.BranchReusable, BranchPrefix: "agentpipe/"},
	}

	state, err := r.Run(context.Background(), cfg, Options{RepoDir: repoDir, TriggerKind: config.TriggerManual})
	require.NoError(t, err)
	require.Equal(t, runstate.StatusCompleted, state.Status)

	out, err := exec.Command("git", "-C", repoDir, "branch", "--list", "agentpipe/review").CombinedOutput()
	require.NoError(t, err)
	require.Contains(t, string(out), "agentpipe/review")
}

func TestRun_PersistsStateToStore(t *testing.T) {
	repoDir := newTestRepoDir(t)
	r := newTestRunner(t, repoDir, mock.New())

	cfg := &config.PipelineConfig{
		Name:    "review",
		Trigger: config.TriggerManual,
		Agents: []config.AgentStageConfig{
			{Name: "review-stage", Agent: "claude"},
		},
	}

	state, err := r.Run(context.Background(), cfg, Options{RepoDir: repoDir, TriggerKind: config.TriggerManual})
	require.NoError(t, err)

	loaded, err := r.Store.LoadState(state.RunID)
	require.NoError(t, err)
	require.Equal(t, state.Status, loaded.Status)
}

type boomErr string

func (e boomErr) Error() string { return string(e) }

var errBoom = boomErr("agent crashed")
