package engine

import (
	"fmt"

	"github.com/Iron-Ham/conductor/internal/gitop"
	"github.com/Iron-Ham/conductor/internal/store"
)

// buildBatches groups the plan's subtasks into execution batches.
//
// When the plan allows parallelism, subtasks sharing a parallelGroup label
// form one batch; subtasks with no label each get a solo batch. Batches
// keep the order in which their group key first appears in the plan. When
// the plan forbids parallelism, every subtask is its own singleton batch in
// plan order.
func buildBatches(plan *store.Plan) [][]store.PlanSubtask {
	var batches [][]store.PlanSubtask

	if !plan.CanParallelize {
		for _, sub := range plan.Subtasks {
			batches = append(batches, []store.PlanSubtask{sub})
		}
		return batches
	}

	index := map[string]int{}
	for _, sub := range plan.Subtasks {
		if sub.ParallelGroup == "" {
			// No group label: a solo batch that nothing else joins.
			batches = append(batches, []store.PlanSubtask{sub})
			continue
		}
		if i, ok := index[sub.ParallelGroup]; ok {
			batches[i] = append(batches[i], sub)
			continue
		}
		index[sub.ParallelGroup] = len(batches)
		batches = append(batches, []store.PlanSubtask{sub})
	}
	return batches
}

// assignWorktreeNames computes a unique worktree directory name per subtask:
// task-<slug of id>, with -2, -3, … suffixes on collision. The returned map
// is keyed by subtask id.
func assignWorktreeNames(subtasks []store.PlanSubtask) map[string]string {
	names := make(map[string]string, len(subtasks))
	taken := map[string]bool{}

	for _, sub := range subtasks {
		slug := gitop.Slug(sub.ID)
		if slug == "" {
			slug = "subtask"
		}
		name := "task-" + slug
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("task-%s-%d", slug, n)
		}
		taken[name] = true
		names[sub.ID] = name
	}
	return names
}
