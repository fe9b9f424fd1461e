// Package config loads orchestrator settings from file and environment.
//
// Settings come from config.yaml in the user config directory, overridable
// via PHALANX_* environment variables. Callers read through Get(), which
// falls back to defaults on any load problem.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// MaxParallelLimit caps concurrent agents regardless of configuration.
const MaxParallelLimit = 8

// Config is the complete phalanx configuration.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	Verification VerificationConfig `mapstructure:"verification"`
	Branch       BranchConfig       `mapstructure:"branch"`
	Paths        PathsConfig        `mapstructure:"paths"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// OrchestratorConfig controls batch scheduling.
type OrchestratorConfig struct {
	// MaxParallel is the maximum number of agents running at once in a
	// parallel phase (default: 3, clamped to 1..MaxParallelLimit).
	MaxParallel int `mapstructure:"max_parallel"`
}

// ExecutorConfig controls how agent subprocesses are launched.
type ExecutorConfig struct {
	// Provider selects the agent CLI: "claude", "gemini", or "command".
	Provider string `mapstructure:"provider"`
	// Command is the command line for the "command" provider; the prompt is
	// appended as the final argument.
	Command string `mapstructure:"command"`
	// TimeoutMinutes bounds one agent invocation (0 = no limit).
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

// Timeout returns the per-agent timeout as a duration.
func (c *ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// VerificationConfig controls the post-batch criteria check.
type VerificationConfig struct {
	// Enabled runs success-criteria verification after the final phase.
	Enabled bool `mapstructure:"enabled"`
}

// BranchConfig controls branch naming.
type BranchConfig struct {
	// Prefix is the namespace for agent branches (default: "phalanx").
	Prefix string `mapstructure:"prefix"`
}

// PathsConfig controls where runtime artifacts live.
type PathsConfig struct {
	// RuntimeDir holds per-batch logs. Relative paths resolve against the
	// repository root; empty selects .phalanx/runs.
	RuntimeDir string `mapstructure:"runtime_dir"`
}

// ResolveRuntimeDir resolves the runtime directory against repoDir.
func (p *PathsConfig) ResolveRuntimeDir(repoDir string) string {
	dir := p.RuntimeDir
	if dir == "" {
		dir = filepath.Join(".phalanx", "runs")
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(repoDir, dir)
}

// LoggingConfig controls the structured run log.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (default: INFO).
	Level string `mapstructure:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{MaxParallel: 3},
		Executor:     ExecutorConfig{Provider: "claude", TimeoutMinutes: 30},
		Verification: VerificationConfig{Enabled: true},
		Branch:       BranchConfig{Prefix: "phalanx"},
		Paths:        PathsConfig{RuntimeDir: filepath.Join(".phalanx", "runs")},
		Logging:      LoggingConfig{Level: "INFO"},
	}
}

// SetDefaults registers all defaults with viper. Called once from the root
// command before any config is read.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("orchestrator.max_parallel", defaults.Orchestrator.MaxParallel)

	viper.SetDefault("executor.provider", defaults.Executor.Provider)
	viper.SetDefault("executor.command", defaults.Executor.Command)
	viper.SetDefault("executor.timeout_minutes", defaults.Executor.TimeoutMinutes)

	viper.SetDefault("verification.enabled", defaults.Verification.Enabled)

	viper.SetDefault("branch.prefix", defaults.Branch.Prefix)

	viper.SetDefault("paths.runtime_dir", defaults.Paths.RuntimeDir)

	viper.SetDefault("logging.level", defaults.Logging.Level)
}

// Load unmarshals the current viper state into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if
// unmarshaling fails.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Normalize clamps out-of-range values rather than rejecting them.
func (c *Config) Normalize() {
	c.Orchestrator.MaxParallel = ClampMaxParallel(c.Orchestrator.MaxParallel)
	if c.Executor.TimeoutMinutes < 0 {
		c.Executor.TimeoutMinutes = 0
	}
	if c.Branch.Prefix == "" {
		c.Branch.Prefix = Default().Branch.Prefix
	}
}

// ClampMaxParallel bounds a requested concurrency to 1..MaxParallelLimit.
// Zero selects the default.
func ClampMaxParallel(n int) int {
	switch {
	case n == 0:
		return Default().Orchestrator.MaxParallel
	case n < 1:
		return 1
	case n > MaxParallelLimit:
		return MaxParallelLimit
	default:
		return n
	}
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "phalanx")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".phalanx"
	}
	return filepath.Join(home, ".config", "phalanx")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
