package stage

import (
	"context"
	"encoding/json"

	"github.com/Iron-Ham/conductor/internal/store"
)

// FocusArea is one spot the analysis flagged as worth refactoring before
// parallel work begins.
type FocusArea struct {
	Path           string `json:"path"`
	Why            string `json:"why"`
	SuggestedSplit string `json:"suggestedSplit,omitempty"`
}

// AnalyzeResult is the normalized output of the analyze stage.
type AnalyzeResult struct {
	ShouldRefactor bool        `json:"shouldRefactor"`
	Reasons        []string    `json:"reasons"`
	FocusAreas     []FocusArea `json:"focusAreas"`
	Notes          string      `json:"notes,omitempty"`
}

// Analyze asks the worker whether a preparatory refactor would improve the
// task's parallelisability. Read-only: it runs in the repository root with
// no dedicated worktree. Only invoked when the job's pre-factor option is
// enabled.
func Analyze(ctx context.Context, t Tools, repoRoot, task string) (*AnalyzeResult, error) {
	var result AnalyzeResult
	if err := runWorker(ctx, t, repoRoot, "analyze", store.ArtifactAnalysisProgress, "", analyzePrompt(task), &result); err != nil {
		return nil, err
	}

	if result.Reasons == nil {
		result.Reasons = []string{}
	}
	if result.FocusAreas == nil {
		result.FocusAreas = []FocusArea{}
	}

	data, _ := json.Marshal(result)
	t.Writer.RecordAnalysisOutput(ctx, data)
	return &result, nil
}
