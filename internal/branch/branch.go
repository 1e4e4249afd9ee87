// Package branch implements the Branch/Worktree Manager: choosing a branch
// strategy, creating/destroying worktrees, and preserving or resetting the
// working tree. Grounded on the teacher's processConcern worktree+branch
// block (BranchExists/CreateBranch/CreateWorktree/Rebase), generalized to
// the three named strategies of the specification.
package branch

import (
	"fmt"
	"path/filepath"

	"github.com/re-cinq/agentpipe/internal/config"
	"github.com/re-cinq/agentpipe/internal/gitrepo"
)

// Manager sets up and tears down the branch/worktree a run executes in.
type Manager struct {
	Repo    *gitrepo.Repo
	RepoDir string
}

// New creates a Manager for repo.
func New(repo *gitrepo.Repo, repoDir string) *Manager {
	return &Manager{Repo: repo, RepoDir: repoDir}
}

// Setup is the outcome of SetupPipelineBranch: the branch name the run
// executes on and, if isolation is enabled, the worktree path to use.
type Setup struct {
	Branch       string
	WorktreePath string
}

// SetupPipelineBranch resolves the run's branch per policy.Strategy and, if
// the strategy is not "none" and isolation is enabled, creates a worktree
// for it. It returns the created branch name.
func (m *Manager) SetupPipelineBranch(name, runID string, policy config.BranchPolicy) (Setup, error) {
	base := policy.Base
	if base == "" {
		var err error
		base, err = m.Repo.CurrentBranch()
		if err != nil {
			return Setup{}, fmt.Errorf("resolving base branch: %w", err)
		}
	}

	var branchName string
	switch policy.Strategy {
	case config.BranchReusable:
		branchName = policy.BranchPrefix + name
	case config.BranchEphemeral:
		branchName = policy.BranchPrefix + runID
	case config.BranchNone, "":
		return Setup{Branch: base}, nil
	default:
		return Setup{}, fmt.Errorf("unknown branch strategy %q", policy.Strategy)
	}

	if !m.Repo.BranchExists(branchName) {
		if err := m.Repo.CreateBranch(branchName, base); err != nil {
			return Setup{}, fmt.Errorf("creating branch %q: %w", branchName, err)
		}
	}

	setup := Setup{Branch: branchName}
	if policy.Isolate {
		path := filepath.Join(m.RepoDir, ".agent-pipeline", "worktrees", branchName)
		if err := m.Repo.CreateWorktree(path, branchName, base); err != nil {
			return Setup{}, fmt.Errorf("creating worktree for %q: %w", branchName, err)
		}
		setup.WorktreePath = path
	}
	return setup, nil
}

// Teardown removes the run's worktree, if one was created, on finalize,
// whatever the strategy. It deletes no branch: reusable and ephemeral
// branches alike remain in the repository afterwards.
func (m *Manager) Teardown(setup Setup, policy config.BranchPolicy) error {
	if setup.WorktreePath != "" {
		if err := m.Repo.RemoveWorktree(setup.WorktreePath, true); err != nil {
			return fmt.Errorf("removing worktree %s: %w", setup.WorktreePath, err)
		}
	}
	if policy.Strategy == config.BranchEphemeral {
		// The ephemeral branch is not deleted; only the worktree removal
		// above happens.
		return nil
	}
	return nil
}

// RestoreWorkingTree checks out the original branch, honoring
// preserveWorkingTree: when true with strategy "none", an in-place run's
// working tree is left exactly as the agent left it. Preserve is false
// unless the pipeline sets preserveWorkingTree; no strategy turns it on by
// default.
func (m *Manager) RestoreWorkingTree(originalBranch string, policy config.BranchPolicy) error {
	if policy.Strategy == config.BranchNone && policy.Preserve {
		return nil
	}
	if originalBranch == "" {
		return nil
	}
	return m.Repo.Checkout(originalBranch)
}
