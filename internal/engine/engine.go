// Package engine drives one job through the pipeline: optional
// analyze/refactor, planning, batched parallel subtask execution, and the
// final merge into the job's result branch. It is a deterministic state
// machine over the stage tools; every transition and artifact lands in the
// state store.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/procrunner"
	"github.com/Iron-Ham/conductor/internal/stage"
	"github.com/Iron-Ham/conductor/internal/store"
	"github.com/Iron-Ham/conductor/internal/util"
)

// Options configure one job run.
type Options struct {
	// RepoRoot overrides repository detection.
	RepoRoot string
	// BaseBranch overrides base branch detection.
	BaseBranch string
	// JobID overrides auto-generation.
	JobID string
	// PushResult pushes the result branch to origin after a clean merge.
	PushResult bool
	// EnablePrefactor runs the analyze stage and, when it recommends one,
	// the refactor stage before planning.
	EnablePrefactor bool
	// VerboseLog tees worker output to the controlling terminal.
	VerboseLog bool
}

// FinalReport summarises a finished job for the caller.
type FinalReport struct {
	JobID  string             `json:"jobId"`
	Status store.JobStatus    `json:"status"`
	Merge  *store.MergeResult `json:"merge,omitempty"`
	// FailedStage and Error describe the failure when Status is failed.
	FailedStage string `json:"failedStage,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Engine runs jobs. A single Engine processes one job at a time; concurrent
// jobs belong in separate processes with distinct job ids.
type Engine struct {
	store  *store.Store
	cfg    *config.Config
	log    *logging.Logger
	runner procrunner.Runner // set by SetRunner; nil means each job builds an exec runner
}

// New creates an Engine over the given store and configuration.
func New(s *store.Store, cfg *config.Config, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Engine{store: s, cfg: cfg, log: log}
}

// SetRunner injects a process runner, replacing the per-job exec runner.
// Tests use this to substitute a fake worker.
func (e *Engine) SetRunner(r procrunner.Runner) {
	e.runner = r
}

// RunJob drives one user task through the full pipeline and returns the
// final report. The job's status is guaranteed terminal on return, even on
// crashes partway through: a deferred EnsureTerminalStatus promotes any
// live job to done.
func (e *Engine) RunJob(ctx context.Context, userTask string, opts Options) (*FinalReport, error) {
	jc, err := resolveJobContext(ctx, e.cfg, opts)
	if err != nil {
		return nil, err
	}

	log := e.log.WithJob(jc.JobID)

	// Re-running a finished job is a no-op: no new stages, no new
	// artifacts, status untouched.
	if status, found, err := e.store.JobStatus(ctx, jc.JobID); err == nil && found && status.Terminal() {
		log.Info("job already terminal, skipping", "status", string(status))
		return &FinalReport{JobID: jc.JobID, Status: status}, nil
	}

	writer := e.store.ForJob(store.JobMeta{
		ID:          jc.JobID,
		RepoRoot:    jc.RepoRoot,
		BaseBranch:  jc.BaseBranch,
		Description: util.TruncateString(userTask, 200),
		UserTask:    userTask,
		PushResult:  opts.PushResult,
	})

	jobLog, err := logging.OpenJobLog(filepath.Join(jc.JobsRoot, "orchestrator.log"))
	if err != nil {
		return nil, err
	}
	defer jobLog.Close()

	// Tee policy: with a job log active the terminal stays quiet unless
	// the caller asked for it; the env override forces it either way.
	tee := opts.VerboseLog
	if e.cfg.Worker.TeeSet {
		tee = e.cfg.Worker.Tee
	}
	jobLog.SetTee(tee)

	runner := e.runner
	if runner == nil {
		runner = &procrunner.ExecRunner{Sink: jobLog}
	}

	tools := stage.Tools{
		Runner: runner,
		Writer: writer,
		Log:    log,
		Worker: e.cfg.Worker,
		Author: e.cfg.Git,
	}

	// No live-but-finished jobs, whatever happens below. The background
	// context matters: the job's own ctx may already be canceled here.
	defer writer.EnsureTerminalStatus(context.Background(), store.StatusDone)

	report, err := e.runStages(ctx, tools, jc, userTask, opts)
	if err != nil {
		writer.MarkStatus(context.Background(), store.StatusFailed)
		return failureReport(jc.JobID, err), nil
	}
	return report, nil
}

// runStages executes the pipeline stages in order.
func (e *Engine) runStages(ctx context.Context, tools stage.Tools, jc *jobContext, userTask string, opts Options) (*FinalReport, error) {
	log := tools.Log
	planDir := jc.RepoRoot

	if opts.EnablePrefactor {
		log.Info("running analyze stage")
		analysis, err := stage.Analyze(ctx, tools, jc.RepoRoot, userTask)
		if err != nil {
			return nil, err
		}
		e.writeStageFile(jc, "analysis-output.json", analysis)

		if analysis.ShouldRefactor {
			log.Info("analysis recommends refactor", "reasons", analysis.Reasons)
			refactor, err := stage.Refactor(ctx, tools, stage.RefactorParams{
				RepoRoot:      jc.RepoRoot,
				BaseBranch:    jc.BaseBranch,
				JobID:         jc.JobID,
				Task:          userTask,
				Reasons:       analysis.Reasons,
				WorktreesRoot: jc.WorktreesRoot,
			})
			if err != nil {
				return nil, err
			}
			if refactor.Status == "ok" {
				planDir = refactor.WorktreePath
			}
		}
	}

	log.Info("running plan stage")
	plan, err := stage.Plan(ctx, tools, planDir, userTask)
	if err != nil {
		return nil, err
	}
	e.writeStageFile(jc, "planner-output.json", plan)

	if len(plan.Subtasks) == 0 {
		log.Info("plan is empty, job complete")
		result := stage.NoOpMergeResult(ctx, tools)
		return &FinalReport{JobID: jc.JobID, Status: store.StatusDone, Merge: result}, nil
	}

	names := assignWorktreeNames(plan.Subtasks)
	batches := buildBatches(plan)

	results := make(map[string]*stage.SubtaskResult, len(plan.Subtasks))
	var resultsMu sync.Mutex

	for i, batch := range batches {
		log.Info("running batch", "batch", i+1, "of", len(batches), "size", len(batch))

		// The zero errgroup runs every subtask to completion and reports
		// the first failure afterwards: one broken subtask never cancels
		// its batch mates, but it does stop later batches.
		var g errgroup.Group
		for _, sub := range batch {
			sub := sub
			g.Go(func() error {
				res, err := stage.RunSubtask(ctx, tools, stage.SubtaskParams{
					RepoRoot:      jc.RepoRoot,
					BaseBranch:    jc.BaseBranch,
					JobID:         jc.JobID,
					Task:          userTask,
					Subtask:       sub,
					WorktreeName:  names[sub.ID],
					WorktreesRoot: jc.WorktreesRoot,
				})
				if err != nil {
					return err
				}
				if res.Status != "ok" {
					return fmt.Errorf("subtask %s reported failure: %s", sub.ID, res.Summary)
				}
				resultsMu.Lock()
				results[sub.ID] = res
				resultsMu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	inputs := make([]stage.MergeInput, 0, len(plan.Subtasks))
	for _, sub := range plan.Subtasks {
		res := results[sub.ID]
		inputs = append(inputs, stage.MergeInput{
			SubtaskID: sub.ID,
			Branch:    res.Branch,
			Worktree:  res.Worktree,
			Summary:   res.Summary,
		})
	}

	log.Info("running merge stage", "branches", len(inputs))
	mergeResult, err := stage.Merge(ctx, tools, stage.MergeParams{
		RepoRoot:      jc.RepoRoot,
		BaseBranch:    jc.BaseBranch,
		JobID:         jc.JobID,
		ResultBranch:  jc.ResultBranch,
		WorktreesRoot: jc.WorktreesRoot,
		Inputs:        inputs,
		Push:          opts.PushResult,
	})
	if err != nil {
		return nil, err
	}

	status := store.StatusDone
	if mergeResult.Status == string(store.StatusNeedsManualReview) {
		status = store.StatusNeedsManualReview
	}
	return &FinalReport{JobID: jc.JobID, Status: status, Merge: mergeResult}, nil
}

// writeStageFile persists a stage's normalized output as a JSON file beside
// the job log. Failures are logged and ignored; the store rows are the
// durable record.
func (e *Engine) writeStageFile(jc *jobContext, name string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(jc.JobsRoot, name)
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		e.log.Warn("failed to write stage file", "path", path, "error", err.Error())
	}
}

// failureReport shapes a stage failure into the final report, with the
// offending stage named and child output already truncated by the stage
// error itself.
func failureReport(jobID string, err error) *FinalReport {
	report := &FinalReport{
		JobID:  jobID,
		Status: store.StatusFailed,
		Error:  err.Error(),
	}
	var stageErr *errors.StageError
	if errors.As(err, &stageErr) {
		report.FailedStage = stageErr.Stage
	}
	return report
}
