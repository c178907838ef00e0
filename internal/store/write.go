package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/Iron-Ham/conductor/internal/errors"
)

// JobWriter records state for one job. All methods swallow storage errors:
// a failed write is logged and forgotten so the engine never stalls on the
// store. Each method runs in a single transaction.
type JobWriter struct {
	store *Store
	meta  JobMeta
}

// JobID returns the job this writer is scoped to.
func (w *JobWriter) JobID() string {
	return w.meta.ID
}

// swallow logs a failed store write and drops the error.
func (w *JobWriter) swallow(op string, err error) {
	if err != nil {
		w.store.log.Warn("store write failed", "error", errors.NewStoreError(op, err).Error(), "job_id", w.meta.ID)
	}
}

// ensureJob upserts the job row inside tx, enforcing monotonic status.
// The row is created on first write with the given status; later writes
// only raise the status priority and never thaw a terminal job.
func (w *JobWriter) ensureJob(tx *sql.Tx, status JobStatus) error {
	ts := now()

	var current string
	err := tx.QueryRow(`SELECT status FROM jobs WHERE job_id = ?`, w.meta.ID).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO jobs (job_id, repo_root, base_branch, description, user_task, push_result, status, started_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			w.meta.ID, w.meta.RepoRoot, w.meta.BaseBranch, w.meta.Description, w.meta.UserTask,
			boolInt(w.meta.PushResult), string(status), ts, ts)
		return err
	case err != nil:
		return err
	}

	cur := JobStatus(current)
	if cur.Terminal() || status.Priority() < cur.Priority() {
		// Lower-priority writes are ignored; terminal jobs are frozen.
		return nil
	}

	_, err = tx.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE job_id = ?`,
		string(status), ts, w.meta.ID)
	return err
}

// appendArtifact inserts one immutable artifact row inside tx.
func (w *JobWriter) appendArtifact(tx *sql.Tx, typ ArtifactType, label, subtaskID string, data json.RawMessage) error {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	var sub any
	if subtaskID != "" {
		sub = subtaskID
	}
	_, err := tx.Exec(`
		INSERT INTO artifacts (artifact_id, job_id, type, label, subtask_id, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), w.meta.ID, string(typ), label, sub, now(), string(data))
	return err
}

// MarkStatus transitions the job's status, subject to monotonicity.
func (w *JobWriter) MarkStatus(ctx context.Context, status JobStatus) {
	w.swallow("markJobStatus", w.store.withTx(ctx, func(tx *sql.Tx) error {
		return w.ensureJob(tx, status)
	}))
}

// RecordAnalysisOutput appends the analysis artifact and moves the job to
// analyzing.
func (w *JobWriter) RecordAnalysisOutput(ctx context.Context, data json.RawMessage) {
	w.recordStageArtifact(ctx, "recordAnalysisOutput", ArtifactAnalysis, StatusAnalyzing, data)
}

// RecordRefactorOutput appends the refactor artifact and moves the job to
// refactoring.
func (w *JobWriter) RecordRefactorOutput(ctx context.Context, data json.RawMessage) {
	w.recordStageArtifact(ctx, "recordRefactorOutput", ArtifactRefactor, StatusRefactoring, data)
}

// RecordPlannerOutput appends the plan artifact and moves the job to
// planning.
func (w *JobWriter) RecordPlannerOutput(ctx context.Context, data json.RawMessage) {
	w.recordStageArtifact(ctx, "recordPlannerOutput", ArtifactPlan, StatusPlanning, data)
}

// RecordMergeStart appends the merge_input artifact and moves the job to
// merging.
func (w *JobWriter) RecordMergeStart(ctx context.Context, data json.RawMessage) {
	w.recordStageArtifact(ctx, "recordMergeStart", ArtifactMergeInput, StatusMerging, data)
}

func (w *JobWriter) recordStageArtifact(ctx context.Context, op string, typ ArtifactType, status JobStatus, data json.RawMessage) {
	w.swallow(op, w.store.withTx(ctx, func(tx *sql.Tx) error {
		if err := w.ensureJob(tx, status); err != nil {
			return err
		}
		return w.appendArtifact(tx, typ, "", "", data)
	}))
}

// RecordMergeResult appends the merge_result artifact and moves the job to
// its final status: needs_manual_review when the result says so, done for
// any other status.
func (w *JobWriter) RecordMergeResult(ctx context.Context, result MergeResult) {
	status := StatusDone
	if result.Status == string(StatusNeedsManualReview) {
		status = StatusNeedsManualReview
	}
	data, _ := json.Marshal(result)

	w.swallow("recordMergeResult", w.store.withTx(ctx, func(tx *sql.Tx) error {
		if err := w.ensureJob(tx, status); err != nil {
			return err
		}
		return w.appendArtifact(tx, ArtifactMergeResult, "", "", data)
	}))
}

// RecordMergeFailure appends a merge_error artifact and fails the job.
func (w *JobWriter) RecordMergeFailure(ctx context.Context, message string) {
	data, _ := json.Marshal(map[string]string{"error": message})

	w.swallow("recordMergeFailure", w.store.withTx(ctx, func(tx *sql.Tx) error {
		if err := w.ensureJob(tx, StatusFailed); err != nil {
			return err
		}
		return w.appendArtifact(tx, ArtifactMergeError, "", "", data)
	}))
}

// RecordSubtaskStart upserts the subtask as running, setting startedAt only
// if previously unset, and moves the job to running.
func (w *JobWriter) RecordSubtaskStart(ctx context.Context, seed SubtaskSeed) {
	w.swallow("recordSubtaskStart", w.store.withTx(ctx, func(tx *sql.Tx) error {
		if err := w.ensureJob(tx, StatusRunning); err != nil {
			return err
		}
		ts := now()
		_, err := tx.Exec(`
			INSERT INTO subtasks (job_id, subtask_id, title, description, parallel_group, worktree, branch, status, started_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(job_id, subtask_id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				parallel_group = excluded.parallel_group,
				worktree = excluded.worktree,
				branch = excluded.branch,
				status = excluded.status,
				started_at = COALESCE(subtasks.started_at, excluded.started_at),
				updated_at = excluded.updated_at`,
			w.meta.ID, seed.ID, seed.Title, seed.Description, seed.ParallelGroup,
			seed.Worktree, seed.Branch, string(SubtaskRunning), ts, ts)
		return err
	}))
}

// RecordSubtaskResult finalizes the subtask, appends a subtask_result
// artifact, and transitions the job: running on success (promotion happens
// at merge time), failed on failure.
func (w *JobWriter) RecordSubtaskResult(ctx context.Context, subtaskID string, outcome SubtaskOutcome) {
	jobStatus := StatusRunning
	if outcome.Status == SubtaskFailed {
		jobStatus = StatusFailed
	}

	files := outcome.ImportantFiles
	if files == nil {
		files = []string{}
	}
	filesJSON, _ := json.Marshal(files)

	artifact, _ := json.Marshal(map[string]any{
		"subtaskId":      subtaskID,
		"status":         string(outcome.Status),
		"summary":        outcome.Summary,
		"importantFiles": files,
		"error":          outcome.Error,
	})

	w.swallow("recordSubtaskResult", w.store.withTx(ctx, func(tx *sql.Tx) error {
		if err := w.ensureJob(tx, jobStatus); err != nil {
			return err
		}
		ts := now()
		if _, err := tx.Exec(`
			INSERT INTO subtasks (job_id, subtask_id, status, summary, important_files, error, finished_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(job_id, subtask_id) DO UPDATE SET
				status = excluded.status,
				summary = excluded.summary,
				important_files = excluded.important_files,
				error = excluded.error,
				finished_at = excluded.finished_at,
				updated_at = excluded.updated_at`,
			w.meta.ID, subtaskID, string(outcome.Status), outcome.Summary,
			string(filesJSON), outcome.Error, ts, ts); err != nil {
			return err
		}
		return w.appendArtifact(tx, ArtifactSubtaskResult, "", subtaskID, artifact)
	}))
}

// RecordSubtaskReasoning updates the subtask's lastReasoning tail for live
// streaming.
func (w *JobWriter) RecordSubtaskReasoning(ctx context.Context, subtaskID, reasoning string) {
	w.swallow("recordSubtaskReasoning", w.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE subtasks SET last_reasoning = ?, updated_at = ?
			WHERE job_id = ? AND subtask_id = ?`,
			reasoning, now(), w.meta.ID, subtaskID)
		return err
	}))
}

// RecordProgress appends a short progress artifact of the given kind.
// Progress artifacts carry the most recent worker output lines so the
// stream API can show live reasoning.
func (w *JobWriter) RecordProgress(ctx context.Context, typ ArtifactType, subtaskID string, lines []string) {
	if lines == nil {
		lines = []string{}
	}
	data, _ := json.Marshal(map[string]any{"lines": lines})

	w.swallow("recordProgress", w.store.withTx(ctx, func(tx *sql.Tx) error {
		// Progress may arrive before the first stage artifact; make sure
		// the job row exists without disturbing its status.
		if err := w.ensureJob(tx, StatusAnalyzing); err != nil {
			return err
		}
		return w.appendArtifact(tx, typ, "", subtaskID, data)
	}))
}

// EnsureTerminalStatus promotes a live job to fallback if it has not
// already reached a terminal status. A no-op for terminal or absent jobs.
func (w *JobWriter) EnsureTerminalStatus(ctx context.Context, fallback JobStatus) {
	if !fallback.Terminal() {
		fallback = StatusDone
	}

	w.swallow("ensureTerminalJobStatus", w.store.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRow(`SELECT status FROM jobs WHERE job_id = ?`, w.meta.ID).Scan(&current)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if JobStatus(current).Terminal() {
			return nil
		}
		_, err = tx.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE job_id = ?`,
			string(fallback), now(), w.meta.ID)
		return err
	}))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
