package stage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/procrunner"
	"github.com/Iron-Ham/conductor/internal/store"
)

func subtaskParams(repo string) SubtaskParams {
	return SubtaskParams{
		RepoRoot:   repo,
		BaseBranch: "main",
		JobID:      "job-1",
		Task:       "add widgets",
		Subtask: store.PlanSubtask{
			ID:          "s1",
			Title:       "Add widget model",
			Description: "create widget.go",
		},
		WorktreeName:  "task-add-widget-model",
		WorktreesRoot: filepath.Join(repo, ".codex", "jobs", "job-1", "worktrees"),
	}
}

func TestRunSubtaskHappyPath(t *testing.T) {
	repo := initRepo(t)

	runner := &fakeRunner{fn: func(ctx context.Context, req procrunner.Request) (procrunner.Result, error) {
		// The worker edits a file in its worktree, then reports.
		writeFile(t, req.Dir, "widget.go", "package widget\n")
		return procrunner.Result{Stdout: `Working on it.
{"subtaskId": "s1", "status": "ok", "summary": "added widget model", "importantFiles": ["widget.go"]}`}, nil
	}}
	tools, s := newTools(t, runner, "job-1")

	res, err := RunSubtask(context.Background(), tools, subtaskParams(repo))
	if err != nil {
		t.Fatalf("RunSubtask: %v", err)
	}

	if res.Status != "ok" || res.Summary != "added widget model" {
		t.Errorf("result = %+v", res)
	}
	if res.Branch != "task-add-widget-model-job-1" {
		t.Errorf("branch = %q", res.Branch)
	}

	// The worker's edit was committed on the subtask branch with the
	// job/subtask commit message.
	wt := filepath.Join(repo, ".codex", "jobs", "job-1", "worktrees", "task-add-widget-model")
	subject := gitRun(t, wt, "log", "-1", "--pretty=%s")
	if !strings.Contains(subject, "job job-1: subtask s1") {
		t.Errorf("commit subject = %q", subject)
	}
	if !strings.Contains(subject, "added widget model") {
		t.Errorf("commit subject missing summary: %q", subject)
	}

	// Store rows reflect the completed subtask.
	data, err := s.DashboardData(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	st := data.Jobs[0].Subtasks[0]
	if st.Status != store.SubtaskCompleted {
		t.Errorf("store status = %q", st.Status)
	}
	if st.Branch != "task-add-widget-model-job-1" {
		t.Errorf("store branch = %q", st.Branch)
	}
}

func TestRunSubtaskWorkerReportsFailure(t *testing.T) {
	repo := initRepo(t)

	// Worker exits non-zero but stderr carries a parseable failure report:
	// the stage records a failed subtask rather than a parse error.
	runner := &fakeRunner{fn: func(ctx context.Context, req procrunner.Request) (procrunner.Result, error) {
		return procrunner.Result{}, errors.NewProcessExitError("codex", 1, "",
			"stack trace",
			`{"subtaskId": "s1", "status": "failed", "summary": "boom", "importantFiles": []}`)
	}}
	tools, s := newTools(t, runner, "job-1")

	res, err := RunSubtask(context.Background(), tools, subtaskParams(repo))
	if err != nil {
		t.Fatalf("parseable failure output should not error: %v", err)
	}
	if res.Status != "failed" {
		t.Errorf("status = %q, want failed", res.Status)
	}

	data, err := s.DashboardData(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	job := data.Jobs[0]
	if job.Status != store.StatusFailed {
		t.Errorf("job status = %q, want failed", job.Status)
	}
	if job.Subtasks[0].Status != store.SubtaskFailed {
		t.Errorf("subtask status = %q", job.Subtasks[0].Status)
	}
	if job.Subtasks[0].Error != "boom" {
		t.Errorf("subtask error = %q", job.Subtasks[0].Error)
	}
}

func TestRunSubtaskUnparseableOutputFails(t *testing.T) {
	repo := initRepo(t)

	runner := &fakeRunner{fn: func(ctx context.Context, req procrunner.Request) (procrunner.Result, error) {
		return procrunner.Result{}, errors.NewProcessExitError("codex", 2, "", "garbage", "more garbage")
	}}
	tools, s := newTools(t, runner, "job-1")

	_, err := RunSubtask(context.Background(), tools, subtaskParams(repo))
	if err == nil {
		t.Fatal("expected stage failure")
	}
	if !errors.IsParseFailure(err) {
		t.Errorf("error = %v, want parse failure", err)
	}

	data, derr := s.DashboardData(context.Background())
	if derr != nil {
		t.Fatal(derr)
	}
	if data.Jobs[0].Subtasks[0].Status != store.SubtaskFailed {
		t.Error("failed run must mark the subtask failed in the store")
	}
}

func TestRunSubtaskReusesExistingWorktree(t *testing.T) {
	repo := initRepo(t)

	calls := 0
	runner := &fakeRunner{fn: func(ctx context.Context, req procrunner.Request) (procrunner.Result, error) {
		calls++
		return procrunner.Result{Stdout: `{"subtaskId": "s1", "status": "ok", "summary": "pass", "importantFiles": []}`}, nil
	}}
	tools, _ := newTools(t, runner, "job-1")

	p := subtaskParams(repo)
	if _, err := RunSubtask(context.Background(), tools, p); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// A second run over the same worktree must reuse it, not fail on
	// worktree-add.
	if _, err := RunSubtask(context.Background(), tools, p); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if calls != 2 {
		t.Errorf("worker invoked %d times", calls)
	}
}
