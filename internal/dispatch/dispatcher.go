// Package dispatch polls task sources in priority order and feeds each task
// into the pipeline engine, one at a time. Sources and reporters are
// interfaces so ingestion (CLI queues, chat bots, env variables) stays
// outside the engine.
package dispatch

import (
	"context"
	"time"

	"github.com/Iron-Ham/conductor/internal/logging"
)

// DefaultPollInterval is how long the dispatcher sleeps after an idle pass.
const DefaultPollInterval = 5 * time.Second

// Source produces user tasks. Implementations decide what "next" means
// (queue head, unread message, env variable) and how completion is
// acknowledged.
type Source interface {
	// Name identifies the source in logs and reporter callbacks.
	Name() string
	// NextTask returns the next task, or ok=false when the source is
	// currently empty.
	NextTask(ctx context.Context) (task string, ok bool, err error)
	// MarkDone acknowledges a successfully processed task.
	MarkDone(ctx context.Context, task string) error
	// MarkFailed acknowledges a task whose job failed.
	MarkFailed(ctx context.Context, task string, runErr error) error
}

// Reporter receives dispatcher lifecycle callbacks. Any field may be nil.
type Reporter struct {
	OnStart   func(source, task string)
	OnSuccess func(source, task string)
	OnFailure func(source, task string, err error)
	OnIdle    func()
}

// Options configure the polling loop.
type Options struct {
	// PollInterval is the sleep between idle passes. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration
	// StopWhenEmpty exits the loop after the first idle pass instead of
	// sleeping.
	StopWhenEmpty bool
}

// Dispatcher runs tasks through an injected run function, strictly one at a
// time.
type Dispatcher struct {
	run func(ctx context.Context, task string) error
	log *logging.Logger
}

// New creates a Dispatcher. run executes one task end to end and returns an
// error when the job failed.
func New(run func(ctx context.Context, task string) error, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Dispatcher{run: run, log: log}
}

// Run polls sources in order until ctx is canceled (or, with StopWhenEmpty,
// until a full pass finds no task). Each pass scans the sources front to
// back and processes the first task found, so earlier sources always have
// priority; after every task the scan restarts from the first source.
func (d *Dispatcher) Run(ctx context.Context, sources []Source, rep Reporter, opts Options) error {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		found := false
		for _, src := range sources {
			task, ok, err := src.NextTask(ctx)
			if err != nil {
				d.log.Warn("source poll failed", "source", src.Name(), "error", err.Error())
				continue
			}
			if !ok {
				continue
			}
			found = true
			d.process(ctx, src, task, rep)
			break
		}

		if found {
			continue
		}

		if rep.OnIdle != nil {
			rep.OnIdle()
		}
		if opts.StopWhenEmpty {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// process runs one task synchronously and acknowledges the outcome.
func (d *Dispatcher) process(ctx context.Context, src Source, task string, rep Reporter) {
	if rep.OnStart != nil {
		rep.OnStart(src.Name(), task)
	}

	err := d.run(ctx, task)
	if err == nil {
		if rep.OnSuccess != nil {
			rep.OnSuccess(src.Name(), task)
		}
		if ackErr := src.MarkDone(ctx, task); ackErr != nil {
			d.log.Warn("markDone failed", "source", src.Name(), "error", ackErr.Error())
		}
		return
	}

	d.log.Warn("task failed", "source", src.Name(), "error", err.Error())
	if rep.OnFailure != nil {
		rep.OnFailure(src.Name(), task, err)
	}
	if ackErr := src.MarkFailed(ctx, task, err); ackErr != nil {
		d.log.Warn("markFailed failed", "source", src.Name(), "error", ackErr.Error())
	}
}
