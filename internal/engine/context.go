package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/gitop"
)

// jobContext is the resolved identity and layout of one job: where the
// repository lives, which branch work starts from, and where the job's
// worktrees and log land.
type jobContext struct {
	RepoRoot      string
	BaseBranch    string
	JobID         string
	JobsRoot      string // <repo>/.codex/jobs/<jobId>
	WorktreesRoot string // <jobsRoot>/worktrees
	ResultBranch  string // result-<jobId>
}

// resolveJobContext builds the job context from options, configuration, and
// the repository itself.
//
// Repo root precedence: option override, configured base dir, current
// working directory — then walked up to the enclosing git root. Base branch
// precedence: option override, environment override, the repository's
// current branch, the configured default. Job id: option override,
// environment override, a generated job-YYYYMMDD-HHMMSS — always sanitised.
func resolveJobContext(ctx context.Context, cfg *config.Config, opts Options) (*jobContext, error) {
	start := opts.RepoRoot
	if start == "" {
		start = cfg.Paths.BaseDir
	}
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		start = cwd
	}

	repoRoot, err := gitop.FindGitRoot(start)
	if err != nil {
		return nil, err
	}

	baseBranch := opts.BaseBranch
	if baseBranch == "" {
		baseBranch = cfg.Paths.BaseBranch
	}
	if baseBranch == "" {
		if current, err := gitop.New(repoRoot).CurrentBranch(ctx); err == nil && current != "" && current != "HEAD" {
			baseBranch = current
		}
	}
	if baseBranch == "" {
		baseBranch = cfg.Git.DefaultBaseBranch
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = cfg.Paths.JobID
	}
	if jobID == "" {
		jobID = "job-" + time.Now().Format("20060102-150405")
	}
	jobID = gitop.SanitizeJobID(jobID)

	jobsRoot := filepath.Join(repoRoot, ".codex", "jobs", jobID)
	return &jobContext{
		RepoRoot:      repoRoot,
		BaseBranch:    baseBranch,
		JobID:         jobID,
		JobsRoot:      jobsRoot,
		WorktreesRoot: filepath.Join(jobsRoot, "worktrees"),
		ResultBranch:  gitop.SanitizeBranch("result-" + jobID),
	}, nil
}
