// Package statestore durably persists PipelineState and LoopSession as
// JSON under .agent-pipeline/. Grounded on the teacher's
// internal/engine/state.go WriteStatus/ReadStatus atomic-write idiom,
// generalized from a single-file-per-station status to the full run and
// session documents of the specification's data model.
package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/re-cinq/agentpipe/internal/fileutil"
	"github.com/re-cinq/agentpipe/internal/runstate"
)

// Store roots all persistence under a repository's .agent-pipeline directory.
type Store struct {
	RepoDir string
}

// New creates a Store rooted at repoDir.
func New(repoDir string) *Store {
	return &Store{RepoDir: repoDir}
}

func (s *Store) root() string {
	return fileutil.AgentPipelineSubdir(s.RepoDir, "")
}

func (s *Store) runsDir() string {
	return filepath.Join(fileutil.AgentPipelineSubdir(s.RepoDir, "state"), "runs")
}

func (s *Store) loopsDir() string {
	return fileutil.AgentPipelineSubdir(s.RepoDir, "loops")
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runsDir(), runID+".json")
}

func (s *Store) sessionPath(sessionID string) string {
	return filepath.Join(s.loopsDir(), sessionID+".json")
}

// atomicWriteJSON marshals v and writes it to path via a write-temp-then-
// rename sequence, so readers never observe a half-written document.
func atomicWriteJSON(path string, v any) error {
	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveState persists a PipelineState snapshot.
func (s *Store) SaveState(state runstate.PipelineState) error {
	return atomicWriteJSON(s.runPath(state.RunID), state)
}

// LoadState loads a PipelineState by runId.
func (s *Store) LoadState(runID string) (*runstate.PipelineState, error) {
	data, err := os.ReadFile(s.runPath(runID))
	if err != nil {
		return nil, err
	}
	var state runstate.PipelineState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetAllRuns enumerates persisted runs, skipping files that fail to parse.
func (s *Store) GetAllRuns() ([]runstate.PipelineState, error) {
	entries, err := os.ReadDir(s.runsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var runs []runstate.PipelineState
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.runsDir(), e.Name()))
		if err != nil {
			continue
		}
		var state runstate.PipelineState
		if err := json.Unmarshal(data, &state); err != nil {
			continue // corrupt file, skipped
		}
		runs = append(runs, state)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Trigger.StartedAt.Before(runs[j].Trigger.StartedAt)
	})
	return runs, nil
}

// StartSession persists a freshly created LoopSession.
func (s *Store) StartSession(session runstate.LoopSession) error {
	return atomicWriteJSON(s.sessionPath(session.SessionID), session)
}

// SaveSession persists any update to a LoopSession (appended/updated
// iteration, or a terminal completion).
func (s *Store) SaveSession(session runstate.LoopSession) error {
	return atomicWriteJSON(s.sessionPath(session.SessionID), session)
}

// LoadSession loads a LoopSession by sessionId.
func (s *Store) LoadSession(sessionID string) (*runstate.LoopSession, error) {
	data, err := os.ReadFile(s.sessionPath(sessionID))
	if err != nil {
		return nil, err
	}
	var session runstate.LoopSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetAllSessions enumerates persisted loop sessions, skipping corrupt files.
func (s *Store) GetAllSessions() ([]runstate.LoopSession, error) {
	entries, err := os.ReadDir(s.loopsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sessions []runstate.LoopSession
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.loopsDir(), e.Name()))
		if err != nil {
			continue
		}
		var session runstate.LoopSession
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions, nil
}

// SessionDirs are the four queue directories a LoopSession drains.
type SessionDirs struct {
	Pending  string
	Running  string
	Finished string
	Failed   string
}

// CreateSessionDirectories ensures pending/running/finished/failed exist
// under .agent-pipeline/loops/<sessionId>/ for the given repo root.
func (s *Store) CreateSessionDirectories(sessionID string) (SessionDirs, error) {
	base := filepath.Join(s.loopsDir(), sessionID)
	dirs := SessionDirs{
		Pending:  filepath.Join(base, "pending"),
		Running:  filepath.Join(base, "running"),
		Finished: filepath.Join(base, "finished"),
		Failed:   filepath.Join(base, "failed"),
	}
	for _, d := range []string{dirs.Pending, dirs.Running, dirs.Finished, dirs.Failed} {
		if err := fileutil.EnsureDir(d); err != nil {
			return SessionDirs{}, err
		}
	}
	return dirs, nil
}

// HandoverDir returns the per-run handover directory path for runID.
func (s *Store) HandoverDir(runID string) string {
	return filepath.Join(s.root(), "runs", runID)
}

// PipelinesDir returns the directory pipeline YAML files live under.
func (s *Store) PipelinesDir() string {
	return filepath.Join(s.root(), "pipelines")
}

// AgentsDir returns the directory agent prompt files live under.
func (s *Store) AgentsDir() string {
	return filepath.Join(s.root(), "agents")
}
