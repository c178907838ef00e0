// Package procrunner spawns and supervises child processes for the pipeline.
//
// Each invocation captures stdout and stderr as separate streams, splits
// them into lines for the job log and live-progress callbacks, and retains a
// bounded in-memory tail of each stream. The tail bound matters because the
// worker CLI can be extremely verbose: the final JSON object always appears
// near the end of output, so the oldest bytes are the ones discarded.
package procrunner

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/logging"
)

// Request describes one child process invocation.
type Request struct {
	Command string
	Args    []string
	Dir     string
	// Label identifies the invocation in the job log, e.g. "plan" or
	// "task-auth-model".
	Label string
	// CaptureLimit bounds the retained stdout/stderr tails in bytes.
	// Zero means config.DefaultCaptureLimit.
	CaptureLimit int
	// OnStdoutLine and OnStderrLine receive each completed line. Used by
	// stages to harvest recent worker reasoning for progress artifacts.
	OnStdoutLine func(line string)
	OnStderrLine func(line string)
}

// Result carries the captured output of a finished child.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs child processes. The pipeline engine receives a Runner and
// threads it through every stage; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// ExecRunner is the os/exec-backed Runner. Sink, when non-nil, receives
// every completed output line (the job log fan-out).
type ExecRunner struct {
	Sink logging.LineSink
}

// Run spawns the child with stdin closed and waits for it to exit.
//
// On non-zero exit or signal termination the captured buffers are still
// returned inside a *errors.ProcessExitError so callers can attempt JSON
// extraction from partial output. Context cancellation sends SIGTERM to the
// child and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, req Request) (Result, error) {
	if _, err := exec.LookPath(req.Command); err != nil {
		return Result{}, errors.Join(errors.ErrWorkerNotFound, err)
	}

	limit := req.CaptureLimit
	if limit <= 0 {
		limit = config.DefaultCaptureLimit
	}

	cmd := exec.CommandContext(ctx, req.Command, req.Args...)
	cmd.Dir = req.Dir
	cmd.Stdin = nil
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, err
	}

	stdout := newTailBuffer(limit)
	stderr := newTailBuffer(limit)

	if err := cmd.Start(); err != nil {
		return Result{}, err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.consume(stdoutPipe, stdout, req.Label, req.OnStdoutLine)
	}()
	go func() {
		defer wg.Done()
		r.consume(stderrPipe, stderr, req.Label, req.OnStderrLine)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	if waitErr == nil {
		return res, nil
	}

	if ctx.Err() != nil {
		return res, errors.Join(errors.ErrProcessCanceled, ctx.Err())
	}

	signal := ""
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		signal = ws.Signal().String()
	}
	return res, errors.NewProcessExitError(req.Command, res.ExitCode, signal, res.Stdout, res.Stderr)
}

// consume splits a stream into lines, feeding the tail buffer, the job log
// sink, and the optional per-line callback. A trailing unterminated line is
// still captured and forwarded when the stream ends.
func (r *ExecRunner) consume(stream io.Reader, tail *tailBuffer, label string, onLine func(string)) {
	reader := bufio.NewReader(stream)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			tail.WriteString(line)
			trimmed := strings.TrimRight(line, "\n")
			if r.Sink != nil {
				r.Sink.WriteLine(label, trimmed)
			}
			if onLine != nil {
				onLine(trimmed)
			}
		}
		if err != nil {
			return
		}
	}
}
