// Package mock is a test-only agent runtime used by acceptance tests and by
// the CLI's --mock flag, grounded on the re-cinq-wave reference adapter's
// NewMockAdapter/WithSimulatedDelay pattern.
package mock

import (
	"context"
	"time"

	"github.com/re-cinq/agentpipe/internal/runtime"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithSimulatedDelay makes Execute sleep for d before returning, to exercise
// progress rendering without a real agent binary.
func WithSimulatedDelay(d time.Duration) Option {
	return func(r *Runtime) { r.delay = d }
}

// WithOutput fixes the text the runtime returns for every invocation.
func WithOutput(output string) Option {
	return func(r *Runtime) { r.output = output }
}

// WithFailure makes every Execute call return err.
func WithFailure(err error) Option {
	return func(r *Runtime) { r.failWith = err }
}

// WithTokenUsage fixes the token usage the runtime reports.
func WithTokenUsage(usage runtime.TokenUsage) Option {
	return func(r *Runtime) { r.tokenUsage = &usage }
}

// Runtime is an in-process stand-in agent runtime for tests and demos.
type Runtime struct {
	delay      time.Duration
	output     string
	failWith   error
	tokenUsage *runtime.TokenUsage
	calls      []runtime.Request
}

// New builds a mock Runtime with the given options applied.
func New(opts ...Option) *Runtime {
	r := &Runtime{output: "mock stage output"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute records the request and, after any configured delay, returns the
// configured output or failure. It honors ctx cancellation during the delay.
func (r *Runtime) Execute(ctx context.Context, req runtime.Request) (runtime.Result, error) {
	r.calls = append(r.calls, req)

	if req.OnToolActivity != nil {
		req.OnToolActivity(runtime.ToolActivity{Tool: "mock", Summary: "simulating work"})
	}

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return runtime.Result{}, ctx.Err()
		}
	}

	if r.failWith != nil {
		return runtime.Result{}, r.failWith
	}

	return runtime.Result{TextOutput: r.output, TokenUsage: r.tokenUsage}, nil
}

// Calls returns every request this runtime has received, for test assertions.
func (r *Runtime) Calls() []runtime.Request {
	return r.calls
}

// GetCapabilities reports full capability support, for exercising every
// optional code path in tests.
func (r *Runtime) GetCapabilities() runtime.Capabilities {
	return runtime.Capabilities{Streaming: true, TokenTracking: true, PermissionModes: []string{"default", "acceptEdits", "bypassPermissions"}}
}

// Validate always succeeds.
func (r *Runtime) Validate() error { return nil }
