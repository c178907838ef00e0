package stage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Iron-Ham/conductor/internal/gitop"
	"github.com/Iron-Ham/conductor/internal/store"
	"github.com/Iron-Ham/conductor/internal/util"
)

// SubtaskParams configures one run-subtask invocation.
type SubtaskParams struct {
	RepoRoot   string
	BaseBranch string
	JobID      string
	// Task is the original user task, embedded verbatim in the prompt.
	Task string
	// Subtask is the planned unit to execute.
	Subtask store.PlanSubtask
	// WorktreeName is the engine-assigned unique directory name under
	// worktrees/, e.g. "task-add-auth-model".
	WorktreeName string
	// WorktreesRoot is <repo>/.codex/jobs/<jobId>/worktrees.
	WorktreesRoot string
}

// SubtaskResult is the normalized output of one run-subtask invocation.
type SubtaskResult struct {
	SubtaskID      string   `json:"subtaskId"`
	Status         string   `json:"status"` // "ok" or "failed"
	Summary        string   `json:"summary"`
	ImportantFiles []string `json:"importantFiles"`
	// Branch is the git branch the subtask's work is committed on.
	Branch string `json:"branch"`
	// Worktree is the working directory the subtask ran in.
	Worktree string `json:"worktree"`
}

// RunSubtask executes one subtask in its own worktree on branch
// <worktreeName>-<jobId> created from the base branch. The worker edits
// files but never runs git; after it returns — even on a failure exit with
// parseable output — the stage commits whatever changed.
//
// The subtask's store row is updated at start and finish; the caller
// receives the parsed result with the branch name attached.
func RunSubtask(ctx context.Context, t Tools, p SubtaskParams) (*SubtaskResult, error) {
	branch := gitop.SanitizeBranch(p.WorktreeName + "-" + p.JobID)
	worktree := filepath.Join(p.WorktreesRoot, p.WorktreeName)

	repo := gitop.New(p.RepoRoot)
	if err := ensureWorktree(ctx, repo, worktree, branch, p.BaseBranch); err != nil {
		return nil, err
	}

	t.Writer.RecordSubtaskStart(ctx, store.SubtaskSeed{
		ID:            p.Subtask.ID,
		Title:         p.Subtask.Title,
		Description:   p.Subtask.Description,
		ParallelGroup: p.Subtask.ParallelGroup,
		Worktree:      worktree,
		Branch:        branch,
	})

	prompt := subtaskPrompt(p.Task, p.Subtask.ID, p.Subtask.Title, p.Subtask.Description)

	var result SubtaskResult
	runErr := runWorker(ctx, t, worktree, "subtask", "", p.Subtask.ID, prompt, &result)
	if runErr != nil {
		t.Writer.RecordSubtaskResult(ctx, p.Subtask.ID, store.SubtaskOutcome{
			Status: store.SubtaskFailed,
			Error:  runErr.Error(),
		})
		return nil, runErr
	}

	if result.SubtaskID == "" {
		result.SubtaskID = p.Subtask.ID
	}
	if result.ImportantFiles == nil {
		result.ImportantFiles = []string{}
	}
	result.Branch = branch
	result.Worktree = worktree

	// Commit the worker's edits, whether it reported success or failure:
	// partial work on a failed subtask is still worth preserving on the
	// branch for manual follow-up.
	message := fmt.Sprintf("job %s: subtask %s – %s", p.JobID, p.Subtask.ID, util.TruncateString(result.Summary, 120))
	if err := commitIfDirty(ctx, t, worktree, message); err != nil {
		return nil, err
	}

	outcome := store.SubtaskOutcome{
		Status:         store.SubtaskCompleted,
		Summary:        result.Summary,
		ImportantFiles: result.ImportantFiles,
	}
	if result.Status != "ok" {
		outcome.Status = store.SubtaskFailed
		outcome.Error = result.Summary
	}
	t.Writer.RecordSubtaskResult(ctx, p.Subtask.ID, outcome)

	return &result, nil
}
