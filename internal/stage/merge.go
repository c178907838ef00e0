package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/gitop"
	"github.com/Iron-Ham/conductor/internal/store"
)

// MergeInput identifies one subtask branch to fold into the result branch.
type MergeInput struct {
	SubtaskID string `json:"subtaskId"`
	Branch    string `json:"branch"`
	Worktree  string `json:"worktree"`
	Summary   string `json:"summary"`
}

// MergeParams configures the merge stage.
type MergeParams struct {
	RepoRoot      string
	BaseBranch    string
	JobID         string
	ResultBranch  string
	WorktreesRoot string
	Inputs        []MergeInput
	// Push, when set, pushes the result branch to origin after every
	// branch has merged cleanly.
	Push bool
}

// conflictDecision is the worker's verdict after a conflict-resolution run.
type conflictDecision struct {
	Status string `json:"status"` // "ok" or "needs_manual_review"
	Notes  string `json:"notes"`
}

// Merge folds every subtask branch into the result branch, sequentially.
//
// Per branch: merge --no-commit --no-ff, inspect the unmerged set, and on
// conflict hand the conflicted files to the worker for resolution. The
// worktree's .git pointer file is read before the worker runs and compared
// byte-for-byte after: a changed pointer aborts the entire merge with
// ErrMergePointerTampered, because a tampered pointer means the worker
// escaped its sandbox into git metadata. Any files still unmerged after
// resolution fail the merge with ErrMergeUnresolved.
func Merge(ctx context.Context, t Tools, p MergeParams) (*store.MergeResult, error) {
	input, _ := json.Marshal(map[string]any{"branches": p.Inputs})
	t.Writer.RecordMergeStart(ctx, input)

	resultWorktree := filepath.Join(p.WorktreesRoot, "result")
	repo := gitop.New(p.RepoRoot)
	if err := ensureWorktree(ctx, repo, resultWorktree, p.ResultBranch, p.BaseBranch); err != nil {
		return nil, t.failMerge(ctx, err)
	}

	rg := gitop.New(resultWorktree)
	needsReview := false
	reviewNotes := ""

	for _, in := range p.Inputs {
		decision, err := t.mergeOne(ctx, rg, resultWorktree, p.ResultBranch, in)
		if err != nil {
			return nil, t.failMerge(ctx, err)
		}
		// Legacy path: the worker itself may flag a resolution it is not
		// confident in. The single merge_result records it; no separate
		// engine-synthesised variant exists.
		if decision != nil && decision.Status == string(store.StatusNeedsManualReview) {
			needsReview = true
			reviewNotes = decision.Notes
		}
	}

	touched, err := rg.DiffNamesAgainstBase(ctx, p.BaseBranch, true)
	if err != nil {
		return nil, t.failMerge(ctx, err)
	}

	notes := fmt.Sprintf("Merged %d branches into %s", len(p.Inputs), p.ResultBranch)
	if p.Push {
		if err := rg.Push(ctx, p.ResultBranch); err != nil {
			return nil, t.failMerge(ctx, err)
		}
		notes += ", pushed to origin"
	}

	result := &store.MergeResult{
		Status:       "ok",
		Notes:        notes,
		TouchedFiles: touched,
	}
	if needsReview {
		result.Status = string(store.StatusNeedsManualReview)
		result.Notes = notes + "; worker requested manual review: " + reviewNotes
	}

	t.Writer.RecordMergeResult(ctx, *result)
	return result, nil
}

// NoOpMergeResult records and returns the merge result for a job whose plan
// produced no subtasks.
func NoOpMergeResult(ctx context.Context, t Tools) *store.MergeResult {
	result := &store.MergeResult{
		Status:       "ok",
		Notes:        "Plan produced no subtasks; nothing to merge",
		TouchedFiles: []string{},
	}
	t.Writer.RecordMergeResult(ctx, *result)
	return result
}

// failMerge records the failure artifact and returns err wrapped in a merge
// StageError.
func (t Tools) failMerge(ctx context.Context, err error) error {
	t.Writer.RecordMergeFailure(ctx, err.Error())
	return errors.NewStageError("merge", err)
}

// mergeOne merges a single subtask branch into the result worktree,
// resolving conflicts through the worker when needed. Returns the worker's
// decision when the conflict path ran, nil otherwise.
func (t Tools) mergeOne(ctx context.Context, rg *gitop.Git, resultWorktree, resultBranch string, in MergeInput) (*conflictDecision, error) {
	res, err := rg.MergeNoCommitNoFF(ctx, in.Branch)
	if err != nil {
		return nil, err
	}

	unmerged, err := rg.UnmergedFiles(ctx)
	if err != nil {
		return nil, err
	}

	if res.ExitCode != 0 && len(unmerged) == 0 {
		// Non-zero exit without conflicts is a broken merge, not a
		// resolvable one.
		return nil, errors.NewGitError("merge", res.ExitCode, res.Stdout, res.Stderr)
	}

	message := fmt.Sprintf("Merge branch %s into %s", in.Branch, resultBranch)
	var decision *conflictDecision

	if len(unmerged) > 0 {
		decision, err = t.resolveConflicts(ctx, resultWorktree, in, unmerged)
		if err != nil {
			return nil, err
		}

		// Staging must precede the re-check: an unmerged index entry only
		// clears once the resolved file is added.
		if err := rg.AddAll(ctx); err != nil {
			return nil, err
		}
		remaining, err := rg.UnmergedFiles(ctx)
		if err != nil {
			return nil, err
		}
		if len(remaining) > 0 {
			return nil, fmt.Errorf("branch %s, files %v: %w", in.Branch, remaining, errors.ErrMergeUnresolved)
		}
		message = fmt.Sprintf("Merge branch %s into %s (conflicts resolved via worker)", in.Branch, resultBranch)
	}

	if err := rg.AddAll(ctx); err != nil {
		return nil, err
	}
	if err := rg.CommitWithAuthor(ctx, message, t.Author.AuthorName, t.Author.AuthorEmail); err != nil {
		return nil, err
	}
	return decision, nil
}

// resolveConflicts hands the conflicted files to the worker and verifies it
// did not touch the worktree's .git pointer file.
func (t Tools) resolveConflicts(ctx context.Context, resultWorktree string, in MergeInput, files []string) (*conflictDecision, error) {
	pointerPath := filepath.Join(resultWorktree, ".git")
	before, err := os.ReadFile(pointerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree pointer: %w", err)
	}

	var decision conflictDecision
	runErr := runWorker(ctx, t, resultWorktree, "merge", store.ArtifactMergeProgress, "",
		mergeConflictPrompt(in.Branch, files), &decision)

	after, err := os.ReadFile(pointerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read worktree pointer: %w", err)
	}
	if !bytes.Equal(before, after) {
		return nil, errors.ErrMergePointerTampered
	}

	if runErr != nil {
		return nil, runErr
	}
	return &decision, nil
}
