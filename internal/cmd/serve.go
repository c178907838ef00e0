package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/conductor/internal/api"
	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard read/stream API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		log, err := logging.NewLogger("", cfg.Logging.Level)
		if err != nil {
			return err
		}

		// The snapshot endpoint serves {"jobs":[]} until the engine has
		// created the database; opening it here would create an empty
		// file prematurely.
		var s *store.Store
		if _, statErr := os.Stat(cfg.Store.Path); statErr == nil {
			s, err = store.Open(cfg.Store.Path, log)
			if err != nil {
				return err
			}
			defer s.Close()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return api.NewServer(s, cfg.Dashboard.Port, log).ListenAndServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
