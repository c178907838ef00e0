// Package errors provides centralized error definitions and error handling
// utilities for the Conductor codebase. It defines domain-specific errors for
// the subprocess, git, stage, and storage subsystems, error constructors with
// context wrapping, and classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - ProcessExitError: a child process exited non-zero or was signaled
//   - GitError: a git invocation failed
//   - StageError: a pipeline stage failed (invalid root, unparseable output)
//   - StoreError: a state-store write or read failed
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewGitError("merge", 1, stdout, stderr)
//	err := errors.NewStageError("plan", errors.ErrStageParseFailed)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrMergeUnresolved) { ... }
//
//	var exitErr *errors.ProcessExitError
//	if errors.As(err, &exitErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Process-related sentinel errors
var (
	// ErrWorkerNotFound indicates the worker CLI binary is not on PATH.
	ErrWorkerNotFound = New("worker binary not found")
	// ErrProcessCanceled indicates the child was terminated by cancellation.
	ErrProcessCanceled = New("process canceled")
)

// Stage-related sentinel errors
var (
	// ErrStageInvalidRoot indicates the resolved repository root does not exist.
	ErrStageInvalidRoot = New("stage root does not exist")
	// ErrStageParseFailed indicates no JSON object could be recovered from
	// the worker output.
	ErrStageParseFailed = New("no parseable stage output")
	// ErrNoJSONFound indicates the extractor found no balanced JSON object.
	ErrNoJSONFound = New("no JSON object found")
)

// Merge-related sentinel errors
var (
	// ErrMergeUnresolved indicates conflicted files remained after the
	// worker's resolution pass.
	ErrMergeUnresolved = New("merge conflicts unresolved")
	// ErrMergePointerTampered indicates the .git worktree pointer file was
	// modified while the worker ran.
	ErrMergePointerTampered = New("worktree .git pointer modified during conflict resolution")
)

// Git-related sentinel errors
var (
	// ErrNotGitRepository indicates the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrBranchNotFound indicates a branch could not be resolved.
	ErrBranchNotFound = New("branch not found")
)

// -----------------------------------------------------------------------------
// ProcessExitError
// -----------------------------------------------------------------------------

// ProcessExitError reports a child process that exited non-zero or was
// terminated by a signal. The captured stdout/stderr buffers are preserved so
// callers can still attempt to parse an embedded JSON object.
type ProcessExitError struct {
	Command string
	Code    int    // exit code, -1 when signaled
	Signal  string // signal name when terminated by signal, else ""
	Stdout  string
	Stderr  string
}

// Error returns the error message.
func (e *ProcessExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("%s terminated by signal %s", e.Command, e.Signal)
	}
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

// NewProcessExitError creates a ProcessExitError.
func NewProcessExitError(command string, code int, signal, stdout, stderr string) *ProcessExitError {
	return &ProcessExitError{
		Command: command,
		Code:    code,
		Signal:  signal,
		Stdout:  stdout,
		Stderr:  stderr,
	}
}

// -----------------------------------------------------------------------------
// GitError
// -----------------------------------------------------------------------------

// GitError reports a failed git invocation with its captured output.
type GitError struct {
	Op       string // the git subcommand, e.g. "merge", "worktree add"
	ExitCode int
	Stdout   string
	Stderr   string
}

// Error returns the error message.
func (e *GitError) Error() string {
	out := strings.TrimSpace(e.Stderr)
	if out == "" {
		out = strings.TrimSpace(e.Stdout)
	}
	if out != "" {
		return fmt.Sprintf("git %s failed with exit code %d: %s", e.Op, e.ExitCode, out)
	}
	return fmt.Sprintf("git %s failed with exit code %d", e.Op, e.ExitCode)
}

// NewGitError creates a GitError.
func NewGitError(op string, exitCode int, stdout, stderr string) *GitError {
	return &GitError{Op: op, ExitCode: exitCode, Stdout: stdout, Stderr: stderr}
}

// -----------------------------------------------------------------------------
// StageError
// -----------------------------------------------------------------------------

// StageError wraps an error with the name of the pipeline stage it occurred in.
type StageError struct {
	Stage string // "analyze", "refactor", "plan", "subtask", "merge"
	Cause error
}

// Error returns the error message.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Cause
}

// NewStageError creates a StageError wrapping cause.
func NewStageError(stage string, cause error) *StageError {
	return &StageError{Stage: stage, Cause: cause}
}

// -----------------------------------------------------------------------------
// StoreError
// -----------------------------------------------------------------------------

// StoreError reports a state-store failure. Store failures are swallowed at
// the call site and logged; this type exists so the diagnostic log line can
// carry the failing operation.
type StoreError struct {
	Op    string
	Cause error
}

// Error returns the error message.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a StoreError wrapping cause.
func NewStoreError(op string, cause error) *StoreError {
	return &StoreError{Op: op, Cause: cause}
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsFatalMerge reports whether err is one of the errors that abort the whole
// merge stage rather than a single branch.
func IsFatalMerge(err error) bool {
	return Is(err, ErrMergePointerTampered) || Is(err, ErrMergeUnresolved)
}

// IsParseFailure reports whether err means the worker output carried no
// recoverable JSON object.
func IsParseFailure(err error) bool {
	return Is(err, ErrStageParseFailed) || Is(err, ErrNoJSONFound)
}
