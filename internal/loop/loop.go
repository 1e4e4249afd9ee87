// Package loop implements the Loop Scheduler: it drains a pending directory
// of queued pipeline files, recording iterations in a durable LoopSession
// and enforcing a maximum iteration count. Grounded on the teacher's
// RunnerLoop self-retiring daemon loop, generalized from "poll until idle"
// to "drain a pending/running/finished/failed queue". It does not poll: a
// session ends as soon as the pending directory is empty, and nothing
// guards against two schedulers draining the same directories at once.
package loop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/re-cinq/agentpipe/internal/config"
	"github.com/re-cinq/agentpipe/internal/runstate"
	"github.com/re-cinq/agentpipe/internal/statestore"
)

const defaultMaxIterations = 100

// RunFunc executes one full Runner invocation for cfg and returns the
// resulting PipelineState.
type RunFunc func(ctx context.Context, cfg *config.PipelineConfig, loopCtx runstate.LoopContext) (*runstate.PipelineState, error)

// Scheduler drains a queue of pipeline files across many Runner invocations.
type Scheduler struct {
	Store   *statestore.Store
	RunOnce RunFunc
}

// New creates a Scheduler.
func New(store *statestore.Store, run RunFunc) *Scheduler {
	return &Scheduler{Store: store, RunOnce: run}
}

func newSessionID() string {
	return ulid.Make().String()
}

// Run starts a LoopSession for seedCfg and drains the pending queue until
// the session reaches a terminal status.
func (s *Scheduler) Run(ctx context.Context, seedCfg *config.PipelineConfig, cliMaxIterations int) (*runstate.LoopSession, error) {
	maxIterations := defaultMaxIterations
	if seedCfg.Looping != nil && seedCfg.Looping.MaxIterations > 0 {
		maxIterations = seedCfg.Looping.MaxIterations
	}
	if cliMaxIterations > 0 {
		maxIterations = cliMaxIterations
	}

	sessionID := newSessionID()
	session := &runstate.LoopSession{
		SessionID:     sessionID,
		StartTime:     time.Now().UTC(),
		Status:        runstate.LoopInProgress,
		MaxIterations: maxIterations,
	}
	if err := s.Store.StartSession(*session); err != nil {
		return nil, fmt.Errorf("starting loop session: %w", err)
	}

	dirs, err := s.Store.CreateSessionDirectories(sessionID)
	if err != nil {
		return nil, fmt.Errorf("creating loop session directories: %w", err)
	}

	iterationNumber := 1
	cfg := seedCfg
	loopCtx := runstate.LoopContext{SessionID: sessionID, IterationNumber: iterationNumber, SourceType: "library"}
	var currentPendingPath string

	for {
		session.AppendIteration(runstate.LoopIteration{
			IterationNumber: iterationNumber,
			PipelineName:    cfg.Name,
			Status:          runstate.IterationInProgress,
		})
		iterStart := time.Now()

		state, runErr := s.RunOnce(ctx, cfg, loopCtx)
		duration := time.Since(iterStart)

		if runErr != nil || state == nil {
			session.UpdateLastIteration(runstate.IterationFailed, duration, false)
			session.Complete(runstate.LoopFailed, time.Now().UTC())
			_ = s.Store.SaveSession(*session)
			return session, fmt.Errorf("loop iteration %d failed: %w", iterationNumber, runErr)
		}
		session.Iterations[len(session.Iterations)-1].RunID = state.RunID

		switch state.Status {
		case runstate.StatusAborted:
			session.UpdateLastIteration(runstate.IterationFailed, duration, false)
			session.Complete(runstate.LoopAborted, time.Now().UTC())
			s.moveLoopFile(currentPendingPath, "", loopCtx.SourceType)
			_ = s.Store.SaveSession(*session)
			return session, nil

		case runstate.StatusFailed:
			session.UpdateLastIteration(runstate.IterationFailed, duration, false)
			if cfg.EffectiveFailureStrategy() == config.OnFailStop {
				session.Complete(runstate.LoopFailed, time.Now().UTC())
				s.moveLoopFile(currentPendingPath, dirs.Failed, loopCtx.SourceType)
				_ = s.Store.SaveSession(*session)
				return session, nil
			}
			s.moveLoopFile(currentPendingPath, dirs.Failed, loopCtx.SourceType)

		default:
			session.UpdateLastIteration(runstate.IterationCompleted, duration, false)
			s.moveLoopFile(currentPendingPath, dirs.Finished, loopCtx.SourceType)
		}

		nextPath, ok, err := s.nextPending(dirs)
		if err != nil {
			session.Complete(runstate.LoopFailed, time.Now().UTC())
			_ = s.Store.SaveSession(*session)
			return session, fmt.Errorf("selecting next pending pipeline: %w", err)
		}
		if !ok {
			session.Complete(runstate.LoopCompleted, time.Now().UTC())
			_ = s.Store.SaveSession(*session)
			return session, nil
		}

		runningPath := filepath.Join(dirs.Running, filepath.Base(nextPath))
		if err := os.Rename(nextPath, runningPath); err != nil {
			session.Complete(runstate.LoopFailed, time.Now().UTC())
			_ = s.Store.SaveSession(*session)
			return session, fmt.Errorf("moving %s to running: %w", nextPath, err)
		}
		currentPendingPath = runningPath

		loaded, err := config.Load(runningPath)
		if err != nil {
			_ = os.Rename(runningPath, filepath.Join(dirs.Failed, filepath.Base(runningPath)))
			session.Complete(runstate.LoopFailed, time.Now().UTC())
			_ = s.Store.SaveSession(*session)
			return session, fmt.Errorf("loading %s: %w", runningPath, err)
		}

		iterationNumber++
		if iterationNumber > maxIterations {
			session.Complete(runstate.LoopLimitReached, time.Now().UTC())
			_ = s.Store.SaveSession(*session)
			return session, nil
		}

		session.Iterations[len(session.Iterations)-1].TriggeredNext = true
		cfg = loaded
		loopCtx = runstate.LoopContext{SessionID: sessionID, IterationNumber: iterationNumber, SourceType: "loop-pending"}
		_ = s.Store.SaveSession(*session)
	}
}

// nextPending selects the oldest-by-mtime file in the pending directory.
func (s *Scheduler) nextPending(dirs statestore.SessionDirs) (string, bool, error) {
	entries, err := os.ReadDir(dirs.Pending)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}

	type candidate struct {
		path  string
		mtime time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(dirs.Pending, e.Name()), mtime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return "", false, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mtime.Before(candidates[j].mtime) })
	return candidates[0].path, true, nil
}

// moveLoopFile moves a loop-pending file from running/ into its terminal
// directory, resolving filename collisions by appending -<unix-ms>.
// Seed pipelines (sourceType != "loop-pending") are never moved.
func (s *Scheduler) moveLoopFile(runningPath, destDir, sourceType string) {
	if runningPath == "" || destDir == "" || sourceType != "loop-pending" {
		return
	}
	dest := filepath.Join(destDir, filepath.Base(runningPath))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		base := dest[:len(dest)-len(ext)]
		dest = fmt.Sprintf("%s-%d%s", base, time.Now().UnixMilli(), ext)
	}
	_ = os.Rename(runningPath, dest)
}
