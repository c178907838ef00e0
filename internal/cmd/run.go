package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/engine"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/store"
)

var runFlags struct {
	repo       string
	baseBranch string
	jobID      string
	push       bool
	prefactor  bool
	verbose    bool
}

var runCmd = &cobra.Command{
	Use:   "run [task...]",
	Short: "Run one job for a natural-language task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task := strings.TrimSpace(strings.Join(args, " "))
		if task == "" {
			return fmt.Errorf("empty task")
		}

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

		// SIGINT/SIGTERM cancel the job; in-flight workers get a
		// terminate signal and completed subtask commits survive.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng := engine.New(s, cfg, log)
		report, err := eng.RunJob(ctx, task, engine.Options{
			RepoRoot:        runFlags.repo,
			BaseBranch:      runFlags.baseBranch,
			JobID:           runFlags.jobID,
			PushResult:      runFlags.push,
			EnablePrefactor: runFlags.prefactor,
			VerboseLog:      runFlags.verbose,
		})
		if err != nil {
			return err
		}

		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		if report.Status == store.StatusFailed {
			return fmt.Errorf("job %s failed at stage %s", report.JobID, report.FailedStage)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runFlags.repo, "repo", "", "repository root (default: detect from cwd)")
	runCmd.Flags().StringVar(&runFlags.baseBranch, "base-branch", "", "base branch (default: current branch)")
	runCmd.Flags().StringVar(&runFlags.jobID, "job-id", "", "explicit job id (default: generated)")
	runCmd.Flags().BoolVar(&runFlags.push, "push", false, "push the result branch to origin after merging")
	runCmd.Flags().BoolVar(&runFlags.prefactor, "prefactor", false, "run analyze and, if recommended, a preparatory refactor")
	runCmd.Flags().BoolVarP(&runFlags.verbose, "verbose", "v", false, "tee worker output to the terminal")
	rootCmd.AddCommand(runCmd)
}
