// Package stage implements the five pipeline stages, each one invocation of
// the worker CLI with a stage-specific prompt: analyze, refactor, plan,
// run-subtask, and merge. Every stage normalizes the worker's JSON output
// and records its progress and result in the state store.
package stage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/procrunner"
	"github.com/Iron-Ham/conductor/internal/store"
)

// Tools bundles the collaborators every stage needs. The engine constructs
// one per job and passes it to each stage; tests substitute a fake Runner.
type Tools struct {
	Runner procrunner.Runner
	Writer *store.JobWriter
	Log    *logging.Logger
	Worker config.WorkerConfig
	Author config.GitConfig
}

// ResolveRoot resolves the effective repository root for a stage.
//
// Precedence: the job context's repo root; otherwise an absolute
// projectRoot parameter; otherwise projectRoot joined to baseDir; otherwise
// the current working directory. When a context root is present, a relative
// projectRoot resolves against it, and an absolute projectRoot outside the
// context root is rejected in favour of the root itself so a stage can
// never escape the repository.
func ResolveRoot(contextRoot, projectRoot, baseDir string) (string, error) {
	var root string

	switch {
	case contextRoot != "":
		root = contextRoot
		if projectRoot != "" {
			candidate := projectRoot
			if !filepath.IsAbs(candidate) {
				candidate = filepath.Join(contextRoot, candidate)
			}
			if within(contextRoot, candidate) {
				root = candidate
			}
		}
	case projectRoot != "" && filepath.IsAbs(projectRoot):
		root = projectRoot
	case projectRoot != "" && baseDir != "":
		root = filepath.Join(baseDir, projectRoot)
	case baseDir != "":
		root = baseDir
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = cwd
	}

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", errors.NewStageError("resolve", errors.ErrStageInvalidRoot)
	}
	return root, nil
}

// within reports whether path is root or inside it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
