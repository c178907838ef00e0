package logging

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
)

var linePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} \[[^\]]+\] `)

func TestJobLogWritesTimestampedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs", "job-1", "orchestrator.log")

	log, err := OpenJobLog(path)
	if err != nil {
		t.Fatalf("OpenJobLog: %v", err)
	}

	log.WriteLine("plan", "thinking about subtasks")
	log.WriteLine("task-a", "editing a.txt")

	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), string(data))
	}
	for _, line := range lines {
		if !linePattern.MatchString(line) {
			t.Errorf("line missing timestamp prefix: %q", line)
		}
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("log must end with a newline")
	}
	if !strings.Contains(lines[0], "[plan] thinking about subtasks") {
		t.Errorf("unexpected first line: %q", lines[0])
	}
}

func TestJobLogTee(t *testing.T) {
	dir := t.TempDir()
	log, err := OpenJobLog(filepath.Join(dir, "orchestrator.log"))
	if err != nil {
		t.Fatalf("OpenJobLog: %v", err)
	}
	defer log.Close()

	var buf strings.Builder
	log.SetTeeWriter(&buf)

	log.WriteLine("merge", "before tee")
	if buf.Len() != 0 {
		t.Error("tee disabled, nothing should reach the terminal writer")
	}

	log.SetTee(true)
	log.WriteLine("merge", "after tee")
	if !strings.Contains(buf.String(), "[merge] after tee") {
		t.Errorf("tee output missing line: %q", buf.String())
	}
}

func TestJobLogSubscribers(t *testing.T) {
	dir := t.TempDir()
	log, err := OpenJobLog(filepath.Join(dir, "orchestrator.log"))
	if err != nil {
		t.Fatalf("OpenJobLog: %v", err)
	}
	defer log.Close()

	var got []string
	log.Subscribe(func(label, line string) {
		got = append(got, label+"|"+line)
	})

	log.WriteLine("task-b", "raw line")
	if len(got) != 1 || got[0] != "task-b|raw line" {
		t.Errorf("subscriber got %v", got)
	}
}

func TestJobLogConcurrentWritesAreLineAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.log")
	log, err := OpenJobLog(path)
	if err != nil {
		t.Fatalf("OpenJobLog: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				log.WriteLine("stress", "payload line")
			}
		}(i)
	}
	wg.Wait()

	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 400 {
		t.Fatalf("expected 400 lines, got %d", len(lines))
	}
	for i, line := range lines {
		if !linePattern.MatchString(line) || !strings.HasSuffix(line, "payload line") {
			t.Fatalf("line %d corrupted: %q", i, line)
		}
	}
}
