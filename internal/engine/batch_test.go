package engine

import (
	"testing"

	"github.com/Iron-Ham/conductor/internal/store"
)

func planOf(canParallelize bool, subs ...store.PlanSubtask) *store.Plan {
	return &store.Plan{CanParallelize: canParallelize, Subtasks: subs}
}

func sub(id, group string) store.PlanSubtask {
	return store.PlanSubtask{ID: id, Title: id, ParallelGroup: group}
}

func batchIDs(batches [][]store.PlanSubtask) [][]string {
	out := make([][]string, len(batches))
	for i, b := range batches {
		for _, s := range b {
			out[i] = append(out[i], s.ID)
		}
	}
	return out
}

func TestBuildBatchesParallel(t *testing.T) {
	tests := []struct {
		name string
		plan *store.Plan
		want [][]string
	}{
		{
			name: "shared groups batch together, ordered by first appearance",
			plan: planOf(true, sub("a", "g1"), sub("b", "g1"), sub("c", "g2")),
			want: [][]string{{"a", "b"}, {"c"}},
		},
		{
			name: "interleaved groups keep first-appearance order",
			plan: planOf(true, sub("a", "g1"), sub("c", "g2"), sub("b", "g1")),
			want: [][]string{{"a", "b"}, {"c"}},
		},
		{
			name: "empty group gets a solo batch",
			plan: planOf(true, sub("a", "g1"), sub("x", ""), sub("b", "g1"), sub("y", "")),
			want: [][]string{{"a", "b"}, {"x"}, {"y"}},
		},
		{
			name: "sequential plan ignores groups",
			plan: planOf(false, sub("a", "g1"), sub("b", "g1")),
			want: [][]string{{"a"}, {"b"}},
		},
		{
			name: "empty plan",
			plan: planOf(true),
			want: [][]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := batchIDs(buildBatches(tt.plan))
			if len(got) != len(tt.want) {
				t.Fatalf("batches = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if len(got[i]) != len(tt.want[i]) {
					t.Fatalf("batch %d = %v, want %v", i, got[i], tt.want[i])
				}
				for j := range tt.want[i] {
					if got[i][j] != tt.want[i][j] {
						t.Errorf("batch %d = %v, want %v", i, got[i], tt.want[i])
					}
				}
			}
		})
	}
}

func TestAssignWorktreeNames(t *testing.T) {
	subs := []store.PlanSubtask{
		{ID: "Add Model"},
		{ID: "add-model"}, // collides after slugging
		{ID: "add model"}, // collides again
		{ID: "other"},
	}

	names := assignWorktreeNames(subs)

	if names["Add Model"] != "task-add-model" {
		t.Errorf("first = %q", names["Add Model"])
	}
	if names["add-model"] != "task-add-model-2" {
		t.Errorf("second = %q", names["add-model"])
	}
	if names["add model"] != "task-add-model-3" {
		t.Errorf("third = %q", names["add model"])
	}
	if names["other"] != "task-other" {
		t.Errorf("other = %q", names["other"])
	}

	// Pairwise distinct.
	seen := map[string]bool{}
	for _, n := range names {
		if seen[n] {
			t.Errorf("duplicate worktree name %q", n)
		}
		seen[n] = true
	}
}
