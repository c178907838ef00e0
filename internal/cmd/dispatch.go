package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/dispatch"
	"github.com/Iron-Ham/conductor/internal/engine"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/store"
)

var dispatchFlags struct {
	once         bool
	pollInterval time.Duration
	push         bool
	prefactor    bool
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Poll task sources and run each task as a job",
	Long: `Dispatch polls its task sources in priority order and feeds every task
into the pipeline, one job at a time. The built-in source reads a single
task from the CONDUCTOR_TASK environment variable; queue-backed sources
plug in through the same interface.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		log, err := logging.NewLogger("", cfg.Logging.Level)
		if err != nil {
			return err
		}

		s, err := store.Open(cfg.Store.Path, log)
		if err != nil {
			return err
		}
		defer s.Close()

		eng := engine.New(s, cfg, log)
		run := func(ctx context.Context, task string) error {
			report, err := eng.RunJob(ctx, task, engine.Options{
				PushResult:      dispatchFlags.push,
				EnablePrefactor: dispatchFlags.prefactor,
			})
			if err != nil {
				return err
			}
			if report.Status == store.StatusFailed {
				return fmt.Errorf("job %s failed: %s", report.JobID, report.Error)
			}
			return nil
		}

		rep := dispatch.Reporter{
			OnStart:   func(source, task string) { log.Info("task started", "source", source) },
			OnSuccess: func(source, task string) { log.Info("task succeeded", "source", source) },
			OnFailure: func(source, task string, err error) {
				log.Error("task failed", "source", source, "error", err.Error())
			},
			OnIdle: func() { log.Debug("all sources idle") },
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sources := []dispatch.Source{&dispatch.EnvSource{Var: "CONDUCTOR_TASK"}}
		err = dispatch.New(run, log).Run(ctx, sources, rep, dispatch.Options{
			PollInterval:  dispatchFlags.pollInterval,
			StopWhenEmpty: dispatchFlags.once,
		})
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

func init() {
	dispatchCmd.Flags().BoolVar(&dispatchFlags.once, "once", false, "exit after the first idle pass")
	dispatchCmd.Flags().DurationVar(&dispatchFlags.pollInterval, "poll-interval", dispatch.DefaultPollInterval, "sleep between idle passes")
	dispatchCmd.Flags().BoolVar(&dispatchFlags.push, "push", false, "push result branches to origin")
	dispatchCmd.Flags().BoolVar(&dispatchFlags.prefactor, "prefactor", false, "enable the analyze/refactor stages")
	rootCmd.AddCommand(dispatchCmd)
}
