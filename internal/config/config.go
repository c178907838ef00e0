// Package config provides Conductor configuration backed by viper.
// Configuration is resolved from defaults, an optional config file, and the
// environment variables the orchestrator honors (ORCHESTRATOR_*,
// DASHBOARD_PORT).
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete Conductor configuration
type Config struct {
	Worker    WorkerConfig    `mapstructure:"worker"`
	Git       GitConfig       `mapstructure:"git"`
	Store     StoreConfig     `mapstructure:"store"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// WorkerConfig controls how the worker CLI is invoked
type WorkerConfig struct {
	// Bin is the worker CLI binary name or path (default: "codex")
	Bin string `mapstructure:"bin"`
	// ReasoningEffort is passed as --config model_reasoning_effort=<value>.
	// Empty disables the flag.
	ReasoningEffort string `mapstructure:"reasoning_effort"`
	// CaptureLimit bounds in-memory stdout/stderr capture in bytes.
	// The oldest bytes are discarded first, so the trailing JSON survives.
	CaptureLimit int `mapstructure:"capture_limit"`
	// Tee forces worker output to the controlling terminal. Tristate via
	// TeeSet: when unset, tee defaults off whenever a job log is active.
	// Populated from the raw env value in Load, not unmarshalled, because
	// the accepted spellings (yes/no/on/off) are wider than ParseBool's.
	Tee    bool `mapstructure:"-"`
	TeeSet bool `mapstructure:"-"`
}

// GitConfig controls git-facing behavior
type GitConfig struct {
	// DefaultBaseBranch is used when no base branch is supplied and HEAD
	// cannot be resolved (default: "main")
	DefaultBaseBranch string `mapstructure:"default_base_branch"`
	// AuthorName and AuthorEmail identify orchestrator-authored commits
	AuthorName  string `mapstructure:"author_name"`
	AuthorEmail string `mapstructure:"author_email"`
}

// StoreConfig controls the durable state store
type StoreConfig struct {
	// Path is the SQLite file path (default: "orchestrator.db" in the cwd)
	Path string `mapstructure:"path"`
}

// DashboardConfig controls the read/stream API server
type DashboardConfig struct {
	// Port for the HTTP and WebSocket endpoints (default: 4179)
	Port int `mapstructure:"port"`
}

// PathsConfig controls filesystem roots
type PathsConfig struct {
	// BaseDir is the default repository root when none is supplied
	BaseDir string `mapstructure:"base_dir"`
	// JobID, when set, overrides auto-generated job ids
	JobID string `mapstructure:"job_id"`
	// BaseBranch, when set, overrides base branch detection
	BaseBranch string `mapstructure:"base_branch"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (default: INFO)
	Level string `mapstructure:"level"`
}

// DefaultCaptureLimit is the default bound on in-memory child output capture.
const DefaultCaptureLimit = 2 * 1024 * 1024

// SetDefaults registers all configuration defaults with viper.
func SetDefaults() {
	viper.SetDefault("worker.bin", "codex")
	viper.SetDefault("worker.reasoning_effort", "medium")
	viper.SetDefault("worker.capture_limit", DefaultCaptureLimit)
	viper.SetDefault("git.default_base_branch", "main")
	viper.SetDefault("git.author_name", "Conductor Orchestrator")
	viper.SetDefault("git.author_email", "conductor@localhost")
	viper.SetDefault("store.path", "orchestrator.db")
	viper.SetDefault("dashboard.port", 4179)
	viper.SetDefault("logging.level", "INFO")
}

// BindEnv wires the environment variables the orchestrator documents.
// These are explicit names, not prefix-derived, because they predate this
// implementation and are shared with the dashboard tooling.
func BindEnv() {
	_ = viper.BindEnv("paths.base_dir", "ORCHESTRATOR_BASE_DIR")
	_ = viper.BindEnv("paths.job_id", "ORCHESTRATOR_JOB_ID")
	_ = viper.BindEnv("paths.base_branch", "ORCHESTRATOR_BASE_BRANCH")
	_ = viper.BindEnv("store.path", "ORCHESTRATOR_DB_PATH")
	_ = viper.BindEnv("worker.tee", "ORCHESTRATOR_TEE_CODEX")
	_ = viper.BindEnv("dashboard.port", "DASHBOARD_PORT")
}

// Load unmarshals the current viper state into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// viper cannot distinguish "false" from "unset" for the tee override,
	// so record whether the env var was present at all.
	if raw := viper.GetString("worker.tee"); raw != "" {
		cfg.Worker.TeeSet = true
		cfg.Worker.Tee = ParseBool(raw)
	}
	if cfg.Worker.CaptureLimit <= 0 {
		cfg.Worker.CaptureLimit = DefaultCaptureLimit
	}
	return &cfg, nil
}

// ParseBool parses the accepted boolean spellings: 1/0, yes/no, true/false,
// on/off (case-insensitive). Unrecognized values are false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "yes", "true", "on":
		return true
	default:
		return false
	}
}
