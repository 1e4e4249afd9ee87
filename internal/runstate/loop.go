package runstate

import "time"

// LoopStatus is the lifecycle state of a LoopSession.
type LoopStatus string

const (
	LoopInProgress  LoopStatus = "in-progress"
	LoopCompleted   LoopStatus = "completed"
	LoopFailed      LoopStatus = "failed"
	LoopLimitReached LoopStatus = "limit-reached"
	LoopAborted     LoopStatus = "aborted"
)

// IterationStatus is the lifecycle state of one LoopIteration.
type IterationStatus string

const (
	IterationInProgress IterationStatus = "in-progress"
	IterationCompleted  IterationStatus = "completed"
	IterationFailed     IterationStatus = "failed"
)

// LoopIteration is one Runner invocation within a LoopSession.
type LoopIteration struct {
	IterationNumber int             `json:"iterationNumber"`
	PipelineName    string          `json:"pipelineName"`
	RunID           string          `json:"runId"`
	Status          IterationStatus `json:"status"`
	Duration        time.Duration   `json:"duration,omitempty"`
	TriggeredNext   bool            `json:"triggeredNext"`
}

// LoopSession is a scheduled sequence of Runner invocations draining a
// queue of pipeline files, owned exclusively by the Loop Scheduler.
type LoopSession struct {
	SessionID       string          `json:"sessionId"`
	StartTime       time.Time       `json:"startTime"`
	EndTime         *time.Time      `json:"endTime,omitempty"`
	Status          LoopStatus      `json:"status"`
	MaxIterations   int             `json:"maxIterations"`
	TotalIterations int             `json:"totalIterations"`
	Iterations      []LoopIteration `json:"iterations"`
}

// AppendIteration adds a new in-progress iteration and keeps TotalIterations
// in sync with len(Iterations), per the universal invariant.
func (s *LoopSession) AppendIteration(it LoopIteration) {
	s.Iterations = append(s.Iterations, it)
	s.TotalIterations = len(s.Iterations)
}

// UpdateLastIteration mutates the most recently appended iteration in place.
func (s *LoopSession) UpdateLastIteration(status IterationStatus, dur time.Duration, triggeredNext bool) {
	if len(s.Iterations) == 0 {
		return
	}
	last := &s.Iterations[len(s.Iterations)-1]
	last.Status = status
	last.Duration = dur
	last.TriggeredNext = triggeredNext
}

// Complete finalizes the session with a terminal status and end time.
func (s *LoopSession) Complete(status LoopStatus, end time.Time) {
	s.Status = status
	s.EndTime = &end
}
