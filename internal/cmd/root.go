// Package cmd wires the conductor CLI: run one job, serve the dashboard
// API, or dispatch tasks from polled sources.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/conductor/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Worker-CLI job pipeline orchestrator",
	Long: `Conductor drives a code-editing worker CLI across a git repository to
complete a natural-language task: it plans the work, executes subtasks in
parallel git worktrees, and merges the resulting branches into a per-job
result branch, streaming progress to a dashboard.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./conductor.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Defaults first so they're available even without a config file.
	config.SetDefaults()
	config.BindEnv()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("conductor")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/conductor")
	}

	// Read config file if it exists (ignore error if not found).
	_ = viper.ReadInConfig()
}
