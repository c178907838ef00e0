package stage

import (
	"fmt"
	"strings"
)

// Prompt builders for each stage. Prompts are static templates with the
// task text and upstream artifacts interpolated; every one pins down the
// exact JSON shape the stage parser expects, because the worker's prose is
// discarded and only the trailing JSON object survives extraction.

func analyzePrompt(task string) string {
	return fmt.Sprintf(`You are preparing a repository for parallel automated editing.

Read the codebase (do NOT modify any files, do NOT run git) and decide
whether a small preparatory refactor would make the following task easier
to split into independent parallel subtasks:

%s

Respond with your reasoning, then end your output with exactly one JSON
object of this shape:
{"shouldRefactor": true|false, "reasons": ["..."], "focusAreas": [{"path": "...", "why": "...", "suggestedSplit": "..."}], "notes": "..."}`, task)
}

func refactorPrompt(task string, reasons []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Perform a minimal, behaviour-preserving refactor of this repository to
enable parallel work on the following task:

%s

`, task)
	if len(reasons) > 0 {
		b.WriteString("The analysis recommended refactoring because:\n")
		for _, r := range reasons {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}
	b.WriteString(`Rules: modify files only. Do NOT run any git commands. Keep the refactor
as small as possible.

End your output with exactly one JSON object:
{"status": "ok"|"skipped"|"failed", "summary": "...", "branch": "", "worktreePath": "", "touchedFiles": ["..."], "notes": "..."}`)
	return b.String()
}

func planPrompt(task string) string {
	return fmt.Sprintf(`Produce a deterministic plan for the following task as a sequence of
subtasks. Read the codebase as needed but do NOT modify any files and do
NOT run git.

%s

Each subtask needs a stable string id, a short title, and a description
precise enough for an independent agent working in its own checkout.
Subtasks that can safely run at the same time share a parallelGroup label.

End your output with exactly one JSON object:
{"canParallelize": true|false, "subtasks": [{"id": "...", "title": "...", "description": "...", "parallelGroup": "...", "context": null, "notes": null}]}`, task)
}

func subtaskPrompt(task, subtaskID, title, description string) string {
	return fmt.Sprintf(`You are completing one subtask of a larger job.

Overall task:
%s

Subtask %s: %s
%s

Modify files to complete this subtask. Do NOT run any git commands.

End your output with exactly one JSON object:
{"subtaskId": %q, "status": "ok"|"failed", "summary": "...", "importantFiles": ["..."]}`, task, subtaskID, title, description, subtaskID)
}

func mergeConflictPrompt(branch string, files []string) string {
	return fmt.Sprintf(`A git merge of branch %q into the result branch left conflict markers in
the following files:

%s

Resolve every conflict by editing these files so they contain the correct
merged content with all conflict markers removed. Keep the intent of both
sides.

Do NOT run any git commands. Do NOT read, modify, or delete the .git or
.git-local entries in this directory.

End your output with exactly one JSON object:
{"status": "ok"|"needs_manual_review", "notes": "..."}`, branch, "- "+strings.Join(files, "\n- "))
}
