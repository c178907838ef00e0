package stage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Iron-Ham/conductor/internal/store"
)

// rawPlan mirrors the worker's plan JSON before normalization. parallelGroup
// arrives as whatever the worker felt like emitting (string, number, null),
// so it is captured raw and coerced.
type rawPlan struct {
	CanParallelize bool             `json:"canParallelize"`
	Subtasks       []rawPlanSubtask `json:"subtasks"`
}

type rawPlanSubtask struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	ParallelGroup json.RawMessage `json:"parallelGroup"`
	Context       *string         `json:"context"`
	Notes         *string         `json:"notes"`
}

// Plan asks the worker for a deterministic subtask plan. Read-only: it runs
// in the refactor worktree when the refactor stage ran, otherwise in the
// repository root.
func Plan(ctx context.Context, t Tools, dir, task string) (*store.Plan, error) {
	var raw rawPlan
	if err := runWorker(ctx, t, dir, "plan", store.ArtifactPlanProgress, "", planPrompt(task), &raw); err != nil {
		return nil, err
	}

	plan := &store.Plan{
		CanParallelize: raw.CanParallelize,
		Subtasks:       make([]store.PlanSubtask, 0, len(raw.Subtasks)),
	}
	for _, rs := range raw.Subtasks {
		plan.Subtasks = append(plan.Subtasks, store.PlanSubtask{
			ID:            strings.TrimSpace(rs.ID),
			Title:         strings.TrimSpace(rs.Title),
			Description:   rs.Description,
			ParallelGroup: coerceGroup(rs.ParallelGroup),
			Context:       rs.Context,
			Notes:         rs.Notes,
		})
	}

	data, _ := json.Marshal(plan)
	t.Writer.RecordPlannerOutput(ctx, data)
	return plan, nil
}

// coerceGroup renders a raw parallelGroup value as a string: JSON strings
// are unquoted, null and absent become empty, and anything else (numbers,
// bools) keeps its literal text.
func coerceGroup(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return ""
	}
	return text
}
