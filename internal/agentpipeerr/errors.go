// Package agentpipeerr defines the stable error taxonomy shared across the
// engine. Codes are part of the on-disk StageExecution.error contract, so
// they must not change spelling once released.
package agentpipeerr

import "fmt"

// Code is a stable error classification string, persisted in StageExecution.
type Code string

const (
	CodeValidation     Code = "VALIDATION"
	CodeEnvironment    Code = "ENVIRONMENT"
	CodeInitialization Code = "INITIALIZATION"
	CodeTimeout        Code = "TIMEOUT"
	CodeRuntime        Code = "RUNTIME"
	CodeAborted        Code = "ABORTED"
	CodeHandoverWarn   Code = "HANDOVER_WARN"
	CodeNotifyWarn     Code = "NOTIFY_WARN"
)

// Error is a coded, suggestion-carrying error used anywhere the engine needs
// to surface a classified failure to a StageExecution or CLI exit path.
type Error struct {
	Code       Code
	Message    string
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error without a suggestion.
func New(code Code, msg string, wrapped error) *Error {
	return &Error{Code: code, Message: msg, Err: wrapped}
}

// WithSuggestion attaches a remediation hint, returning a new Error.
func (e *Error) WithSuggestion(s string) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: e.Err, Suggestion: s}
}

// Timeout builds a CodeTimeout error for a stage attempt that exceeded its deadline.
func Timeout(stage string) *Error {
	return New(CodeTimeout, fmt.Sprintf("stage %q timed out", stage), nil)
}

// Aborted builds a CodeAborted error for a stage cut short by cancellation.
func Aborted(stage string) *Error {
	return New(CodeAborted, fmt.Sprintf("stage %q aborted", stage), nil)
}

// Runtime builds a CodeRuntime error for a transient agent-runtime failure.
func Runtime(stage string, err error) *Error {
	return New(CodeRuntime, fmt.Sprintf("stage %q runtime error", stage), err)
}

// Initialization builds a CodeInitialization error for worktree/branch setup failures.
func Initialization(msg string, err error) *Error {
	return New(CodeInitialization, msg, err)
}

// Environment builds a CodeEnvironment error for missing preconditions (API keys, gh CLI, etc).
func Environment(msg string) *Error {
	return New(CodeEnvironment, msg, nil)
}
