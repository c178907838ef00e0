package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// timestampLayout is the prefix format for every job log line.
const timestampLayout = "2006-01-02 15:04:05"

// LineSink receives completed output lines from a child process.
// The process runner writes each line exactly once; the sink decides where
// it fans out (file, terminal, subscribers).
type LineSink interface {
	WriteLine(label, line string)
}

// JobLog is the per-job line sink. It appends timestamped lines to the job's
// orchestrator.log, optionally tees them to the controlling terminal, and
// forwards the raw line to any subscribed callbacks.
//
// All writes are line-atomic: a single mutex guards the file so lines from
// concurrently running stages never interleave mid-line.
type JobLog struct {
	mu     sync.Mutex
	file   *os.File
	tee    bool
	teeOut io.Writer
	subs   []func(label, line string)
}

// OpenJobLog opens (creating if needed) the job log at path. Parent
// directories are created. Lines are appended; an existing log from a prior
// run of the same job is preserved.
func OpenJobLog(path string) (*JobLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create job log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open job log: %w", err)
	}
	return &JobLog{file: f, teeOut: os.Stdout}, nil
}

// SetTee enables or disables echoing lines to the controlling terminal.
func (l *JobLog) SetTee(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tee = on
}

// SetTeeWriter overrides the terminal writer. Used by tests.
func (l *JobLog) SetTeeWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.teeOut = w
}

// Subscribe registers a callback invoked with every line written to the log.
// Callbacks run under the log mutex and must not block.
func (l *JobLog) Subscribe(fn func(label, line string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}

// WriteLine appends one line to the job log with the timestamp and label
// prefix, tees it to the terminal when enabled, and notifies subscribers.
func (l *JobLog) WriteLine(label, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prefixed := fmt.Sprintf("%s [%s] %s\n", time.Now().Format(timestampLayout), label, line)
	if l.file != nil {
		_, _ = l.file.WriteString(prefixed)
	}
	if l.tee && l.teeOut != nil {
		_, _ = io.WriteString(l.teeOut, prefixed)
	}
	for _, fn := range l.subs {
		fn(label, line)
	}
}

// Close syncs and closes the underlying file.
func (l *JobLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync job log: %w", err)
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to close job log: %w", err)
	}
	return nil
}
