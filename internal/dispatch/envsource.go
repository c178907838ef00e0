package dispatch

import (
	"context"
	"os"
	"sync"
)

// EnvSource serves at most one task read from an environment variable.
// Useful for one-shot dispatch runs driven by CI or shell wrappers.
type EnvSource struct {
	// Var is the environment variable holding the task text.
	Var string

	mu       sync.Mutex
	consumed bool
}

// Name identifies the source.
func (s *EnvSource) Name() string {
	return "env:" + s.Var
}

// NextTask returns the variable's value exactly once.
func (s *EnvSource) NextTask(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consumed {
		return "", false, nil
	}
	task := os.Getenv(s.Var)
	if task == "" {
		return "", false, nil
	}
	s.consumed = true
	return task, true, nil
}

// MarkDone is a no-op: the variable was consumed at read time.
func (s *EnvSource) MarkDone(ctx context.Context, task string) error {
	return nil
}

// MarkFailed is a no-op.
func (s *EnvSource) MarkFailed(ctx context.Context, task string, runErr error) error {
	return nil
}
