package stage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/gitop"
	"github.com/Iron-Ham/conductor/internal/procrunner"
	"github.com/Iron-Ham/conductor/internal/store"
)

// addSubtaskBranch creates branch task-<name>-job-1 off main with one commit
// writing file=content, via a worktree the way the engine would.
func addSubtaskBranch(t *testing.T, repo, name, file, content string) MergeInput {
	t.Helper()
	branch := "task-" + name + "-job-1"
	wt := filepath.Join(repo, ".codex", "jobs", "job-1", "worktrees", "task-"+name)
	gitRun(t, repo, "worktree", "add", "-b", branch, wt, "main")
	writeFile(t, wt, file, content)
	gitRun(t, wt, "add", "-A")
	gitRun(t, wt, "commit", "-m", "subtask "+name)
	return MergeInput{SubtaskID: name, Branch: branch, Worktree: wt, Summary: "did " + name}
}

func mergeParams(repo string, inputs ...MergeInput) MergeParams {
	return MergeParams{
		RepoRoot:      repo,
		BaseBranch:    "main",
		JobID:         "job-1",
		ResultBranch:  "result-job-1",
		WorktreesRoot: filepath.Join(repo, ".codex", "jobs", "job-1", "worktrees"),
		Inputs:        inputs,
	}
}

func TestMergeCleanBranches(t *testing.T) {
	repo := initRepo(t)
	a := addSubtaskBranch(t, repo, "a", "a.txt", "a\n")
	b := addSubtaskBranch(t, repo, "b", "b.txt", "b\n")

	runner := &fakeRunner{fn: func(ctx context.Context, req procrunner.Request) (procrunner.Result, error) {
		t.Fatal("worker must not run for clean merges")
		return procrunner.Result{}, nil
	}}
	tools, s := newTools(t, runner, "job-1")

	result, err := Merge(context.Background(), tools, mergeParams(repo, a, b))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if result.Status != "ok" {
		t.Errorf("status = %q", result.Status)
	}
	if !strings.Contains(result.Notes, "Merged 2 branches") {
		t.Errorf("notes = %q", result.Notes)
	}

	got := map[string]bool{}
	for _, f := range result.TouchedFiles {
		got[f] = true
	}
	if !got["a.txt"] || !got["b.txt"] {
		t.Errorf("touchedFiles = %v", result.TouchedFiles)
	}

	// Both files exist in the result worktree.
	resultWt := filepath.Join(repo, ".codex", "jobs", "job-1", "worktrees", "result")
	for _, f := range []string{"a.txt", "b.txt"} {
		if _, err := os.Stat(filepath.Join(resultWt, f)); err != nil {
			t.Errorf("%s missing from result worktree", f)
		}
	}

	// Job finished done with a merge_result artifact.
	data, err := s.DashboardData(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if data.Jobs[0].Status != store.StatusDone {
		t.Errorf("job status = %q", data.Jobs[0].Status)
	}
	if data.Jobs[0].MergeResult == nil {
		t.Error("merge result not derived")
	}
}

func TestMergeResolvesConflictsViaWorker(t *testing.T) {
	repo := initRepo(t)

	// Two branches both rewrite conflict.txt.
	writeFile(t, repo, "conflict.txt", "base\n")
	gitRun(t, repo, "add", "-A")
	gitRun(t, repo, "commit", "-m", "add conflict.txt")

	a := addSubtaskBranch(t, repo, "a", "conflict.txt", "version a\n")
	b := addSubtaskBranch(t, repo, "b", "conflict.txt", "version b\n")

	workerRan := false
	runner := &fakeRunner{fn: func(ctx context.Context, req procrunner.Request) (procrunner.Result, error) {
		workerRan = true
		// The resolver rewrites the conflicted file without touching git.
		writeFile(t, req.Dir, "conflict.txt", "version a\nversion b\n")
		return procrunner.Result{Stdout: `Resolved both sides.
{"status": "ok", "notes": "kept both versions"}`}, nil
	}}
	tools, _ := newTools(t, runner, "job-1")

	result, err := Merge(context.Background(), tools, mergeParams(repo, a, b))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !workerRan {
		t.Fatal("conflicting merge must invoke the worker")
	}
	if result.Status != "ok" {
		t.Errorf("status = %q", result.Status)
	}

	// The conflict commit message records the resolution path.
	resultWt := filepath.Join(repo, ".codex", "jobs", "job-1", "worktrees", "result")
	subject := gitRun(t, resultWt, "log", "-1", "--pretty=%s")
	if !strings.Contains(subject, "conflicts resolved via worker") {
		t.Errorf("commit subject = %q", subject)
	}

	data, err := os.ReadFile(filepath.Join(resultWt, "conflict.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "version a\nversion b\n" {
		t.Errorf("resolved content = %q", data)
	}
}

func TestMergePointerTamperAborts(t *testing.T) {
	repo := initRepo(t)

	writeFile(t, repo, "conflict.txt", "base\n")
	gitRun(t, repo, "add", "-A")
	gitRun(t, repo, "commit", "-m", "add conflict.txt")

	a := addSubtaskBranch(t, repo, "a", "conflict.txt", "version a\n")
	b := addSubtaskBranch(t, repo, "b", "conflict.txt", "version b\n")

	runner := &fakeRunner{fn: func(ctx context.Context, req procrunner.Request) (procrunner.Result, error) {
		// A hostile worker rewrites the worktree pointer file.
		pointer := filepath.Join(req.Dir, ".git")
		if err := os.WriteFile(pointer, []byte("gitdir: /tmp/evil\n"), 0644); err != nil {
			t.Fatal(err)
		}
		writeFile(t, req.Dir, "conflict.txt", "resolved\n")
		return procrunner.Result{Stdout: `{"status": "ok", "notes": ""}`}, nil
	}}
	tools, s := newTools(t, runner, "job-1")

	_, err := Merge(context.Background(), tools, mergeParams(repo, a, b))
	if !errors.Is(err, errors.ErrMergePointerTampered) {
		t.Fatalf("error = %v, want ErrMergePointerTampered", err)
	}

	// The aborted merge marks the job failed.
	data, derr := s.DashboardData(context.Background())
	if derr != nil {
		t.Fatal(derr)
	}
	if data.Jobs[0].Status != store.StatusFailed {
		t.Errorf("job status = %q, want failed", data.Jobs[0].Status)
	}
}

func TestMergePushOnSuccess(t *testing.T) {
	repo := initRepo(t)

	// A bare origin to receive the result branch.
	origin := t.TempDir()
	gitRun(t, origin, "init", "--bare")
	gitRun(t, repo, "remote", "add", "origin", origin)

	a := addSubtaskBranch(t, repo, "a", "a.txt", "a\n")

	runner := &fakeRunner{fn: func(ctx context.Context, req procrunner.Request) (procrunner.Result, error) {
		t.Fatal("worker must not run")
		return procrunner.Result{}, nil
	}}
	tools, _ := newTools(t, runner, "job-1")

	params := mergeParams(repo, a)
	params.Push = true

	result, err := Merge(context.Background(), tools, params)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !strings.Contains(result.Notes, "pushed") {
		t.Errorf("notes = %q, want pushed mention", result.Notes)
	}

	// The result branch arrived at origin.
	g := gitop.New(origin)
	if !g.BranchExists(context.Background(), "result-job-1") {
		t.Error("result branch missing from origin")
	}
}

func TestNoOpMergeResult(t *testing.T) {
	runner := &fakeRunner{fn: func(ctx context.Context, req procrunner.Request) (procrunner.Result, error) {
		return procrunner.Result{}, nil
	}}
	tools, s := newTools(t, runner, "job-1")

	result := NoOpMergeResult(context.Background(), tools)
	if result.Status != "ok" || len(result.TouchedFiles) != 0 {
		t.Errorf("result = %+v", result)
	}

	data, err := s.DashboardData(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if data.Jobs[0].Status != store.StatusDone {
		t.Errorf("job status = %q", data.Jobs[0].Status)
	}
}
