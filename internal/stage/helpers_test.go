package stage

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/procrunner"
	"github.com/Iron-Ham/conductor/internal/store"
)

// fakeRunner substitutes the worker CLI in stage tests.
type fakeRunner struct {
	fn func(ctx context.Context, req procrunner.Request) (procrunner.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, req procrunner.Request) (procrunner.Result, error) {
	return f.fn(ctx, req)
}

// initRepo creates a throwaway git repository with one commit on main.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitRun(t, dir, "init", "-b", "main")
	gitRun(t, dir, "config", "user.name", "Test")
	gitRun(t, dir, "config", "user.email", "test@example.com")
	writeFile(t, dir, "README.md", "# repo\n")
	gitRun(t, dir, "add", "-A")
	gitRun(t, dir, "commit", "-m", "initial commit")
	return dir
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return string(out)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// newTools builds a Tools with a real temp store and the given runner.
func newTools(t *testing.T, runner procrunner.Runner, jobID string) (Tools, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"), nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	tools := Tools{
		Runner: runner,
		Writer: s.ForJob(store.JobMeta{ID: jobID, UserTask: "test task"}),
		Log:    logging.NopLogger(),
		Worker: config.WorkerConfig{Bin: "codex", ReasoningEffort: "medium", CaptureLimit: config.DefaultCaptureLimit},
		Author: config.GitConfig{AuthorName: "Conductor Orchestrator", AuthorEmail: "conductor@localhost"},
	}
	return tools, s
}
