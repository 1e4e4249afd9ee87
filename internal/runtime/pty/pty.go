// Package pty is the real agent runtime: it shells out to a configured
// command, allocating a pseudo-terminal for stdout/stderr so the agent sees
// a terminal and line-buffers (enabling real-time log tailing), while
// stdin stays a regular pipe so the agent gets a proper EOF. Grounded on
// the teacher's engine.invokeAgent.
package pty

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/creack/pty"

	"github.com/re-cinq/agentpipe/internal/runtime"
)

// Runtime invokes an external command as the agent, streaming its combined
// stdout/stderr through a PTY to a log writer.
type Runtime struct {
	Command string
	Args    []string
	LogFile io.Writer
}

// New creates a PTY-backed runtime for command/args, tee-ing output to log.
func New(command string, args []string, log io.Writer) *Runtime {
	return &Runtime{Command: command, Args: args, LogFile: log}
}

// Execute runs the configured command with req.Prompt piped to stdin and
// req.Dir as its working directory. Cancellation of ctx kills the process.
func (r *Runtime) Execute(ctx context.Context, req runtime.Request) (runtime.Result, error) {
	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	cmd.Dir = req.Dir
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }

	ptmx, pts, err := pty.Open()
	if err != nil {
		return runtime.Result{}, fmt.Errorf("opening pty: %w", err)
	}
	defer ptmx.Close()

	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Stdout = pts
	cmd.Stderr = pts

	if err := cmd.Start(); err != nil {
		pts.Close()
		return runtime.Result{}, fmt.Errorf("starting agent: %w", err)
	}
	pts.Close()

	var captured bytes.Buffer
	out := io.Writer(&captured)
	if r.LogFile != nil {
		out = io.MultiWriter(r.LogFile, &captured)
	}
	if _, err := io.Copy(out, ptmx); err != nil {
		var pathErr *os.PathError
		if !(errors.As(err, &pathErr) && pathErr.Err == syscall.EIO) {
			return runtime.Result{}, fmt.Errorf("reading agent output: %w", err)
		}
	}

	if err := cmd.Wait(); err != nil {
		return runtime.Result{}, fmt.Errorf("agent exited: %w", err)
	}
	return runtime.Result{TextOutput: captured.String()}, nil
}

// GetCapabilities reports what this runtime supports: streaming via PTY,
// no native token accounting, default permission mode only.
func (r *Runtime) GetCapabilities() runtime.Capabilities {
	return runtime.Capabilities{Streaming: true, TokenTracking: false, PermissionModes: []string{"default"}}
}

// Validate checks that the configured command exists on PATH.
func (r *Runtime) Validate() error {
	if r.Command == "" {
		return fmt.Errorf("pty runtime: no command configured")
	}
	if _, err := exec.LookPath(r.Command); err != nil {
		return fmt.Errorf("pty runtime: command %q not found: %w", r.Command, err)
	}
	return nil
}
