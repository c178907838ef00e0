// Package gitop provides typed wrappers over the git subcommands the
// pipeline engine uses: worktree management, branch creation, merging with
// conflict detection, staging, and committing with the orchestrator's author
// identity.
//
// Operations run the system git binary via os/exec. Each operation either
// raises a *errors.GitError on non-zero exit, or — like MergeNoCommitNoFF —
// returns the exit code as a value so callers can branch on it. The merge
// flow depends on the latter to distinguish "conflict" from "broken".
package gitop

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/conductor/internal/errors"
)

// Result carries the outcome of a git invocation when non-zero exits are
// tolerated.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Git runs git commands with a fixed working directory. Create one per
// repository root or worktree; never share one Git across worktrees.
type Git struct {
	dir string
}

// New returns a Git bound to dir.
func New(dir string) *Git {
	return &Git{dir: dir}
}

// Dir returns the working directory this Git is bound to.
func (g *Git) Dir() string {
	return g.dir
}

// FindGitRoot finds the root of the git repository by traversing up from
// startDir. It returns the directory containing .git (either a directory or
// a file for worktrees).
func FindGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.ErrNotGitRepository
		}
		dir = parent
	}
}

// run executes git with the given arguments, failing with *errors.GitError
// on non-zero exit.
func (g *Git) run(ctx context.Context, args ...string) (Result, error) {
	res, err := g.tryRun(ctx, args...)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, errors.NewGitError(gitOp(args), res.ExitCode, res.Stdout, res.Stderr)
	}
	return res, nil
}

// tryRun executes git and returns the exit code as a value. Only spawn
// failures (binary missing, context canceled) surface as errors.
func (g *Git) tryRun(ctx context.Context, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return res, nil
		}
		return res, fmt.Errorf("failed to run git %s: %w", gitOp(args), err)
	}
	return res, nil
}

// gitOp names the invocation for error messages: the subcommand, skipping
// any leading -c config overrides.
func gitOp(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		return args[i]
	}
	return "git"
}

// CurrentBranch returns the abbreviated ref name of HEAD.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	res, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// BranchExists reports whether the branch name resolves.
func (g *Git) BranchExists(ctx context.Context, name string) bool {
	res, err := g.tryRun(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil && res.ExitCode == 0
}

// CreateBranchFrom creates a branch pointing at base if it does not already
// exist. Creating an existing branch is a no-op, which keeps worktree
// preparation idempotent across engine re-runs.
func (g *Git) CreateBranchFrom(ctx context.Context, name, base string) error {
	if g.BranchExists(ctx, name) {
		return nil
	}
	_, err := g.run(ctx, "branch", name, base)
	return err
}

// WorktreeAdd checks out an existing branch into a new worktree at path.
func (g *Git) WorktreeAdd(ctx context.Context, path, branch string) error {
	_, err := g.run(ctx, "worktree", "add", path, branch)
	return err
}

// WorktreeAddNewBranch creates branch from base and checks it out into a new
// worktree at path in one step.
func (g *Git) WorktreeAddNewBranch(ctx context.Context, path, branch, base string) error {
	_, err := g.run(ctx, "worktree", "add", "-b", branch, path, base)
	return err
}

// WorktreeRemove removes a worktree, falling back to manual cleanup and a
// prune when git refuses.
func (g *Git) WorktreeRemove(ctx context.Context, path string) error {
	if _, err := g.run(ctx, "worktree", "remove", "--force", path); err != nil {
		_ = os.RemoveAll(path)
		_, _ = g.tryRun(ctx, "worktree", "prune")
		return err
	}
	return nil
}

// MergeNoCommitNoFF attempts to merge branch into the current branch,
// leaving the index and working tree in the merged state without committing.
// The exit code is returned as a value: non-zero with unmerged files means
// conflict, which the caller resolves.
func (g *Git) MergeNoCommitNoFF(ctx context.Context, branch string) (Result, error) {
	return g.tryRun(ctx, "merge", "--no-commit", "--no-ff", branch)
}

// UnmergedFiles returns the files currently in the unmerged state.
func (g *Git) UnmergedFiles(ctx context.Context) ([]string, error) {
	res, err := g.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return splitLines(res.Stdout), nil
}

// IsDirty reports whether the working tree has uncommitted changes.
func (g *Git) IsDirty(ctx context.Context) (bool, error) {
	res, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// AddAll stages all changes.
func (g *Git) AddAll(ctx context.Context) error {
	_, err := g.run(ctx, "add", "-A")
	return err
}

// CommitWithAuthor commits staged changes with the given author identity
// overridden per-invocation, so orchestrator-authored commits are
// identifiable regardless of the repository's configured user.
// Committing with nothing staged is a no-op.
func (g *Git) CommitWithAuthor(ctx context.Context, message, name, email string) error {
	res, err := g.tryRun(ctx,
		"-c", "user.name="+name,
		"-c", "user.email="+email,
		"commit", "-m", message)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		if strings.Contains(res.Stdout, "nothing to commit") {
			return nil
		}
		return errors.NewGitError("commit", res.ExitCode, res.Stdout, res.Stderr)
	}
	return nil
}

// DiffNamesAgainstBase returns the files changed on HEAD relative to base.
// With threeDot, the comparison is against the merge base (base...HEAD),
// matching how the final touched-files list is reported.
func (g *Git) DiffNamesAgainstBase(ctx context.Context, base string, threeDot bool) ([]string, error) {
	spec := base + ".." + "HEAD"
	if threeDot {
		spec = base + "..." + "HEAD"
	}
	res, err := g.run(ctx, "diff", "--name-only", spec)
	if err != nil {
		return nil, err
	}
	return splitLines(res.Stdout), nil
}

// Push pushes branch to origin.
func (g *Git) Push(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "push", "-u", "origin", branch)
	return err
}

// splitLines splits command output into trimmed, non-empty lines.
func splitLines(s string) []string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return []string{}
	}
	lines := strings.Split(trimmed, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
