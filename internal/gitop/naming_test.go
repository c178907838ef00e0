package gitop

import (
	"regexp"
	"strings"
	"testing"
)

func TestSanitizeBranch(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "already clean",
			input:    "task-fix-parser-job-1",
			expected: "task-fix-parser-job-1",
		},
		{
			name:     "spaces collapse",
			input:    "fix the parser",
			expected: "fix-the-parser",
		},
		{
			name:     "run of invalid characters collapses once",
			input:    "fix!!@@parser",
			expected: "fix-parser",
		},
		{
			name:     "slashes and dots survive",
			input:    "feature/v1.2-cleanup",
			expected: "feature/v1.2-cleanup",
		},
		{
			name:     "leading and trailing junk trimmed",
			input:    "--fix-parser..",
			expected: "fix-parser",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeBranch(tt.input); got != tt.expected {
				t.Errorf("SanitizeBranch(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeBranchAlphabet(t *testing.T) {
	valid := regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
	inputs := []string{
		"normal-name",
		"weird !@#$%^&*() name",
		"unicode-héllo-wörld",
		"tabs\tand\nnewlines",
		"!!!",
		"",
	}

	for _, input := range inputs {
		got := SanitizeBranch(input)
		if !valid.MatchString(got) {
			t.Errorf("SanitizeBranch(%q) = %q contains invalid characters", input, got)
		}
		if strings.HasPrefix(got, "-") || strings.HasSuffix(got, "-") ||
			strings.HasPrefix(got, ".") || strings.HasSuffix(got, ".") {
			t.Errorf("SanitizeBranch(%q) = %q has leading/trailing - or .", input, got)
		}
	}
}

func TestSanitizeBranchEmptyFallsBack(t *testing.T) {
	got := SanitizeBranch("!!!")
	if !strings.HasPrefix(got, "branch-") {
		t.Errorf("empty sanitisation should fall back to timestamp name, got %q", got)
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Add Auth Model", "add-auth-model"},
		{"fix/parser v2", "fix-parser-v2"},
		{"UPPER_case.id", "upper-case-id"},
		{"  spaces  ", "spaces"},
		{"s1", "s1"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Slug(tt.input); got != tt.expected {
				t.Errorf("Slug(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeJobID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"job-20250101-120000", "job-20250101-120000"},
		{"my job/1", "my-job-1"},
		{"a.b_c-d", "a.b_c-d"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := SanitizeJobID(tt.input); got != tt.expected {
				t.Errorf("SanitizeJobID(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}

	if got := SanitizeJobID("///"); !strings.HasPrefix(got, "job-") {
		t.Errorf("empty job id should fall back, got %q", got)
	}
}
