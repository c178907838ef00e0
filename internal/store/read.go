package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DashboardData returns every job with its subtasks and artifacts in one
// consistent snapshot. Jobs are ordered by startedAt descending; artifacts
// by createdAt descending (ties broken by insertion order). The derived
// Plan and MergeResult come from the latest artifact of the matching type.
func (s *Store) DashboardData(ctx context.Context) (*DashboardData, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, repo_root, base_branch, description, user_task, push_result, status, started_at, updated_at
		FROM jobs ORDER BY started_at DESC, job_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}
	defer rows.Close()

	data := &DashboardData{Jobs: []Job{}}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		data.Jobs = append(data.Jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range data.Jobs {
		if err := s.fillJob(ctx, &data.Jobs[i]); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// ActiveJob returns the most recently started job whose status is not
// terminal, with its subtasks and artifacts, or nil when every job has
// finished.
func (s *Store) ActiveJob(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, repo_root, base_branch, description, user_task, push_result, status, started_at, updated_at
		FROM jobs
		WHERE status NOT IN (?, ?, ?)
		ORDER BY started_at DESC, job_id DESC
		LIMIT 1`,
		string(StatusDone), string(StatusFailed), string(StatusNeedsManualReview))

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.fillJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// JobStatus returns the stored status of a job, with found=false when the
// job has never been written.
func (s *Store) JobStatus(ctx context.Context, jobID string) (JobStatus, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = ?`, jobID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return JobStatus(status), true, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var job Job
	var push int
	var status, startedAt, updatedAt string
	if err := r.Scan(&job.ID, &job.RepoRoot, &job.BaseBranch, &job.Description,
		&job.UserTask, &push, &status, &startedAt, &updatedAt); err != nil {
		return nil, err
	}
	job.PushResult = push != 0
	job.Status = JobStatus(status)
	job.StartedAt = parseTime(startedAt)
	job.UpdatedAt = parseTime(updatedAt)
	job.Subtasks = []Subtask{}
	job.Artifacts = []Artifact{}
	return &job, nil
}

// fillJob loads the job's subtasks and artifacts and derives the latest
// plan and merge result.
func (s *Store) fillJob(ctx context.Context, job *Job) error {
	subRows, err := s.db.QueryContext(ctx, `
		SELECT subtask_id, title, description, parallel_group, worktree, branch,
		       summary, important_files, error, last_reasoning, status,
		       started_at, finished_at, updated_at
		FROM subtasks WHERE job_id = ? ORDER BY subtask_id`, job.ID)
	if err != nil {
		return fmt.Errorf("failed to read subtasks: %w", err)
	}
	defer subRows.Close()

	for subRows.Next() {
		var st Subtask
		var files, status, updatedAt string
		var startedAt, finished sql.NullString
		if err := subRows.Scan(&st.ID, &st.Title, &st.Description, &st.ParallelGroup,
			&st.Worktree, &st.Branch, &st.Summary, &files, &st.Error,
			&st.LastReasoning, &status, &startedAt, &finished, &updatedAt); err != nil {
			return err
		}
		st.JobID = job.ID
		st.Status = SubtaskStatus(status)
		st.UpdatedAt = parseTime(updatedAt)
		if startedAt.Valid {
			t := parseTime(startedAt.String)
			st.StartedAt = &t
		}
		if finished.Valid {
			t := parseTime(finished.String)
			st.FinishedAt = &t
		}
		if err := json.Unmarshal([]byte(files), &st.ImportantFiles); err != nil {
			st.ImportantFiles = []string{}
		}
		job.Subtasks = append(job.Subtasks, st)
	}
	if err := subRows.Err(); err != nil {
		return err
	}

	artRows, err := s.db.QueryContext(ctx, `
		SELECT artifact_id, type, label, subtask_id, created_at, data
		FROM artifacts WHERE job_id = ?
		ORDER BY created_at DESC, rowid DESC`, job.ID)
	if err != nil {
		return fmt.Errorf("failed to read artifacts: %w", err)
	}
	defer artRows.Close()

	for artRows.Next() {
		var (
			a         Artifact
			typ       string
			subtaskID sql.NullString
			createdAt string
			data      string
		)
		if err := artRows.Scan(&a.ID, &typ, &a.Label, &subtaskID, &createdAt, &data); err != nil {
			return err
		}
		a.JobID = job.ID
		a.Type = ArtifactType(typ)
		a.SubtaskID = subtaskID.String
		a.CreatedAt = parseTime(createdAt)
		a.Data = json.RawMessage(data)
		job.Artifacts = append(job.Artifacts, a)
	}
	if err := artRows.Err(); err != nil {
		return err
	}

	// Artifacts are newest-first, so the first match is the latest.
	for _, a := range job.Artifacts {
		if job.Plan == nil && a.Type == ArtifactPlan {
			var plan Plan
			if err := json.Unmarshal(a.Data, &plan); err == nil {
				job.Plan = &plan
			}
		}
		if job.MergeResult == nil && a.Type == ArtifactMergeResult {
			var mr MergeResult
			if err := json.Unmarshal(a.Data, &mr); err == nil {
				job.MergeResult = &mr
			}
		}
		if job.Plan != nil && job.MergeResult != nil {
			break
		}
	}
	return nil
}
