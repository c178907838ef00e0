package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/gitop"
	"github.com/Iron-Ham/conductor/internal/jsonx"
	"github.com/Iron-Ham/conductor/internal/procrunner"
	"github.com/Iron-Ham/conductor/internal/store"
	"github.com/Iron-Ham/conductor/internal/util"
)

// errOutputCap bounds child output embedded in error messages.
const errOutputCap = 2000

// progressWindow is how many recent worker lines a progress artifact carries.
const progressWindow = 12

// progressTracker collects recent worker output lines and flushes them as a
// progress artifact at most once per second.
type progressTracker struct {
	mu    sync.Mutex
	lines []string
	last  time.Time
	flush func(lines []string)
}

func newProgressTracker(flush func(lines []string)) *progressTracker {
	return &progressTracker{flush: flush}
}

// Add records one line and flushes the window if at least a second has
// passed since the previous flush.
func (p *progressTracker) Add(line string) {
	p.mu.Lock()
	p.lines = append(p.lines, line)
	if n := len(p.lines) - progressWindow; n > 0 {
		p.lines = p.lines[n:]
	}
	shouldFlush := time.Since(p.last) >= time.Second
	var snapshot []string
	if shouldFlush {
		p.last = time.Now()
		snapshot = append([]string(nil), p.lines...)
	}
	p.mu.Unlock()

	if shouldFlush {
		p.flush(snapshot)
	}
}

// Tail returns the current line window.
func (p *progressTracker) Tail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...)
}

// workerArgs builds the worker CLI invocation for a prompt.
func workerArgs(t Tools, prompt string) []string {
	args := []string{"exec", "--full-auto"}
	if t.Worker.ReasoningEffort != "" {
		args = append(args, "--config", fmt.Sprintf("model_reasoning_effort=%q", t.Worker.ReasoningEffort))
	}
	return append(args, prompt)
}

// runWorker invokes the worker CLI in dir and decodes the JSON object from
// its output into out.
//
// A non-zero exit is not immediately fatal: the worker sometimes reports a
// structured failure and exits 1, so extraction is attempted from the
// captured stdout and then stderr before giving up. With no recoverable
// JSON at all the stage fails with ErrStageParseFailed carrying truncated
// output for the final report.
func runWorker(ctx context.Context, t Tools, dir, stageName string, progressType store.ArtifactType, subtaskID, prompt string, out any) error {
	// Subtask runs stream through the subtask row's lastReasoning instead
	// of progress artifacts; there is no subtask progress artifact type.
	progress := newProgressTracker(func(lines []string) {
		if progressType != "" {
			t.Writer.RecordProgress(ctx, progressType, subtaskID, lines)
		}
		if subtaskID != "" && len(lines) > 0 {
			t.Writer.RecordSubtaskReasoning(ctx, subtaskID, lines[len(lines)-1])
		}
	})

	label := stageName
	if subtaskID != "" {
		label = subtaskID
	}

	res, runErr := t.Runner.Run(ctx, procrunner.Request{
		Command:      t.Worker.Bin,
		Args:         workerArgs(t, prompt),
		Dir:          dir,
		Label:        label,
		CaptureLimit: t.Worker.CaptureLimit,
		OnStdoutLine: progress.Add,
		OnStderrLine: progress.Add,
	})

	if runErr != nil {
		if errors.Is(runErr, errors.ErrWorkerNotFound) || errors.Is(runErr, errors.ErrProcessCanceled) {
			return errors.NewStageError(stageName, runErr)
		}
		var exitErr *errors.ProcessExitError
		if !errors.As(runErr, &exitErr) {
			return errors.NewStageError(stageName, runErr)
		}
		// Fall through: the captured buffers may still carry the JSON.
		res.Stdout = exitErr.Stdout
		res.Stderr = exitErr.Stderr
	}

	if err := jsonx.ExtractInto(res.Stdout, out); err == nil {
		return nil
	}
	if err := jsonx.ExtractInto(res.Stderr, out); err == nil {
		return nil
	}

	return errors.NewStageError(stageName, fmt.Errorf("%w (stdout: %s) (stderr: %s)",
		errors.ErrStageParseFailed,
		util.TruncateBytes(res.Stdout, errOutputCap),
		util.TruncateBytes(res.Stderr, errOutputCap)))
}

// ensureWorktree prepares the stage's working directory: the branch is
// created from base if missing, and the worktree is added if the directory
// does not exist yet. An existing directory is reused as-is.
func ensureWorktree(ctx context.Context, repo *gitop.Git, path, branch, base string) error {
	if !repo.BranchExists(ctx, base) {
		return fmt.Errorf("base branch %q: %w", base, errors.ErrBranchNotFound)
	}

	wt := gitop.New(path)
	if _, err := wt.CurrentBranch(ctx); err == nil {
		// Directory already is a checkout; reuse it.
		return nil
	}

	if repo.BranchExists(ctx, branch) {
		return repo.WorktreeAdd(ctx, path, branch)
	}
	return repo.WorktreeAddNewBranch(ctx, path, branch, base)
}

// commitIfDirty stages and commits any uncommitted edits the worker left
// behind, using the orchestrator author identity. Stages that must not
// leave dangling edits call this after parsing the worker's output.
func commitIfDirty(ctx context.Context, t Tools, dir, message string) error {
	g := gitop.New(dir)
	dirty, err := g.IsDirty(ctx)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	if err := g.AddAll(ctx); err != nil {
		return err
	}
	return g.CommitWithAuthor(ctx, message, t.Author.AuthorName, t.Author.AuthorEmail)
}
