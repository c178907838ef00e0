package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/Iron-Ham/conductor/internal/gitop"
	"github.com/Iron-Ham/conductor/internal/store"
)

// RefactorParams configures the refactor stage.
type RefactorParams struct {
	RepoRoot   string
	BaseBranch string
	JobID      string
	Task       string
	// Reasons from the analyze stage, interpolated into the prompt.
	Reasons []string
	// WorktreesRoot is <repo>/.codex/jobs/<jobId>/worktrees.
	WorktreesRoot string
}

// RefactorResult is the normalized output of the refactor stage.
type RefactorResult struct {
	Status       string   `json:"status"` // "ok", "skipped", "failed"
	Summary      string   `json:"summary"`
	Branch       string   `json:"branch"`
	WorktreePath string   `json:"worktreePath"`
	TouchedFiles []string `json:"touchedFiles"`
	Notes        string   `json:"notes,omitempty"`
}

// Refactor runs the worker in a dedicated refactor worktree on branch
// refactor-<jobId> created from the base branch. Dirty files left behind by
// the worker are committed with the orchestrator author identity, and
// touchedFiles is recomputed from the actual diff against the base branch
// rather than trusting the worker's own list.
func Refactor(ctx context.Context, t Tools, p RefactorParams) (*RefactorResult, error) {
	branch := gitop.SanitizeBranch("refactor-" + p.JobID)
	worktree := filepath.Join(p.WorktreesRoot, "refactor")

	repo := gitop.New(p.RepoRoot)
	if err := ensureWorktree(ctx, repo, worktree, branch, p.BaseBranch); err != nil {
		return nil, err
	}

	var result RefactorResult
	if err := runWorker(ctx, t, worktree, "refactor", store.ArtifactRefactorProgress, "", refactorPrompt(p.Task, p.Reasons), &result); err != nil {
		return nil, err
	}

	message := fmt.Sprintf("job %s: pre-parallel refactor", p.JobID)
	if err := commitIfDirty(ctx, t, worktree, message); err != nil {
		return nil, err
	}

	touched, err := gitop.New(worktree).DiffNamesAgainstBase(ctx, p.BaseBranch, false)
	if err != nil {
		return nil, err
	}

	result.Branch = branch
	result.WorktreePath = worktree
	result.TouchedFiles = touched

	data, _ := json.Marshal(result)
	t.Writer.RecordRefactorOutput(ctx, data)
	return &result, nil
}
