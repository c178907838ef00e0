package store

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle status of a job. Transitions are monotonic in
// the priority order below; once a terminal status is reached the job is
// frozen.
type JobStatus string

// Job statuses in priority order.
const (
	StatusAnalyzing         JobStatus = "analyzing"
	StatusRefactoring       JobStatus = "refactoring"
	StatusPlanning          JobStatus = "planning"
	StatusRunning           JobStatus = "running"
	StatusMerging           JobStatus = "merging"
	StatusDone              JobStatus = "done"
	StatusNeedsManualReview JobStatus = "needs_manual_review"
	StatusFailed            JobStatus = "failed"
)

var statusPriority = map[JobStatus]int{
	StatusAnalyzing:         0,
	StatusRefactoring:       1,
	StatusPlanning:          2,
	StatusRunning:           3,
	StatusMerging:           4,
	StatusDone:              5,
	StatusNeedsManualReview: 6,
	StatusFailed:            7,
}

// Priority returns the ordering rank of the status. Unknown statuses rank
// lowest so a corrupt value can never clobber real progress.
func (s JobStatus) Priority() int {
	if p, ok := statusPriority[s]; ok {
		return p
	}
	return -1
}

// Terminal reports whether the status ends the job's lifecycle.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusNeedsManualReview
}

// SubtaskStatus is the lifecycle status of one subtask.
type SubtaskStatus string

// Subtask statuses.
const (
	SubtaskPending   SubtaskStatus = "pending"
	SubtaskRunning   SubtaskStatus = "running"
	SubtaskCompleted SubtaskStatus = "completed"
	SubtaskFailed    SubtaskStatus = "failed"
)

// ArtifactType enumerates the artifact event kinds stages record.
type ArtifactType string

// Artifact types.
const (
	ArtifactPlan             ArtifactType = "plan"
	ArtifactPlanProgress     ArtifactType = "plan_progress"
	ArtifactAnalysis         ArtifactType = "analysis"
	ArtifactAnalysisProgress ArtifactType = "analysis_progress"
	ArtifactRefactor         ArtifactType = "refactor"
	ArtifactRefactorProgress ArtifactType = "refactor_progress"
	ArtifactMergeInput       ArtifactType = "merge_input"
	ArtifactMergeResult      ArtifactType = "merge_result"
	ArtifactMergeError       ArtifactType = "merge_error"
	ArtifactMergeProgress    ArtifactType = "merge_progress"
	ArtifactSubtaskResult    ArtifactType = "subtask_result"
)

// Job is one orchestrator run with its subtasks and artifacts.
type Job struct {
	ID          string       `json:"jobId"`
	RepoRoot    string       `json:"repoRoot"`
	BaseBranch  string       `json:"baseBranch"`
	Description string       `json:"description"`
	UserTask    string       `json:"userTask"`
	PushResult  bool         `json:"pushResult"`
	Status      JobStatus    `json:"status"`
	StartedAt   time.Time    `json:"startedAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Subtasks    []Subtask    `json:"subtasks"`
	Artifacts   []Artifact   `json:"artifacts"`
	Plan        *Plan        `json:"plan,omitempty"`
	MergeResult *MergeResult `json:"mergeResult,omitempty"`
}

// Subtask is one unit of the plan, identified by (jobId, subtaskId).
type Subtask struct {
	JobID          string        `json:"jobId"`
	ID             string        `json:"subtaskId"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	ParallelGroup  string        `json:"parallelGroup,omitempty"`
	Worktree       string        `json:"worktree,omitempty"`
	Branch         string        `json:"branch,omitempty"`
	Summary        string        `json:"summary,omitempty"`
	ImportantFiles []string      `json:"importantFiles,omitempty"`
	Error          string        `json:"error,omitempty"`
	LastReasoning  string        `json:"lastReasoning,omitempty"`
	Status         SubtaskStatus `json:"status"`
	StartedAt      *time.Time    `json:"startedAt,omitempty"`
	FinishedAt     *time.Time    `json:"finishedAt,omitempty"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Artifact is an immutable, append-only event record. Data is opaque to the
// store; its shape depends on Type.
type Artifact struct {
	ID        string          `json:"id"`
	JobID     string          `json:"jobId"`
	Type      ArtifactType    `json:"type"`
	Label     string          `json:"label,omitempty"`
	SubtaskID string          `json:"subtaskId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

// Plan is the planner's output, embedded in an artifact of type "plan".
type Plan struct {
	CanParallelize bool          `json:"canParallelize"`
	Subtasks       []PlanSubtask `json:"subtasks"`
}

// PlanSubtask is one planned unit of work.
type PlanSubtask struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	ParallelGroup string  `json:"parallelGroup,omitempty"`
	Context       *string `json:"context"`
	Notes         *string `json:"notes"`
}

// MergeResult is the merge stage's outcome, embedded in an artifact of type
// "merge_result".
type MergeResult struct {
	Status       string   `json:"status"` // "ok" or "needs_manual_review"
	Notes        string   `json:"notes"`
	TouchedFiles []string `json:"touchedFiles"`
}

// DashboardData is the full snapshot the read API serves.
type DashboardData struct {
	Jobs []Job `json:"jobs"`
}

// JobMeta carries the identifying attributes written with every job upsert.
type JobMeta struct {
	ID          string
	RepoRoot    string
	BaseBranch  string
	Description string
	UserTask    string
	PushResult  bool
}

// SubtaskSeed is the data recorded when a subtask starts running.
type SubtaskSeed struct {
	ID            string
	Title         string
	Description   string
	ParallelGroup string
	Worktree      string
	Branch        string
}

// SubtaskOutcome is the data recorded when a subtask finishes.
type SubtaskOutcome struct {
	Status         SubtaskStatus // SubtaskCompleted or SubtaskFailed
	Summary        string
	ImportantFiles []string
	Error          string
}
