package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Orchestrator.MaxParallel != 3 {
		t.Errorf("MaxParallel = %d, want 3", cfg.Orchestrator.MaxParallel)
	}
	if cfg.Executor.Provider != "claude" {
		t.Errorf("Provider = %q, want claude", cfg.Executor.Provider)
	}
	if cfg.Branch.Prefix != "phalanx" {
		t.Errorf("Prefix = %q, want phalanx", cfg.Branch.Prefix)
	}
	if !cfg.Verification.Enabled {
		t.Error("verification should default to enabled")
	}
}

func TestClampMaxParallel(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 3},
		{-5, 1},
		{1, 1},
		{5, 5},
		{8, 8},
		{100, 8},
	}
	for _, tt := range tests {
		if got := ClampMaxParallel(tt.in); got != tt.want {
			t.Errorf("ClampMaxParallel(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLoadAppliesViperOverrides(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()

	viper.Set("orchestrator.max_parallel", 99)
	viper.Set("executor.provider", "gemini")
	viper.Set("executor.timeout_minutes", -1)
	viper.Set("branch.prefix", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Orchestrator.MaxParallel != MaxParallelLimit {
		t.Errorf("MaxParallel = %d, want clamped to %d", cfg.Orchestrator.MaxParallel, MaxParallelLimit)
	}
	if cfg.Executor.Provider != "gemini" {
		t.Errorf("Provider = %q", cfg.Executor.Provider)
	}
	if cfg.Executor.TimeoutMinutes != 0 {
		t.Errorf("TimeoutMinutes = %d, want 0", cfg.Executor.TimeoutMinutes)
	}
	if cfg.Branch.Prefix != "phalanx" {
		t.Errorf("empty prefix should fall back to default, got %q", cfg.Branch.Prefix)
	}
}

func TestExecutorTimeout(t *testing.T) {
	c := ExecutorConfig{TimeoutMinutes: 5}
	if c.Timeout() != 5*time.Minute {
		t.Errorf("Timeout = %v", c.Timeout())
	}
}

func TestResolveRuntimeDir(t *testing.T) {
	p := PathsConfig{}
	if got := p.ResolveRuntimeDir("/repo"); got != filepath.Join("/repo", ".phalanx", "runs") {
		t.Errorf("default runtime dir = %q", got)
	}

	p.RuntimeDir = "/var/phalanx"
	if got := p.ResolveRuntimeDir("/repo"); got != "/var/phalanx" {
		t.Errorf("absolute runtime dir = %q", got)
	}

	p.RuntimeDir = "custom"
	if got := p.ResolveRuntimeDir("/repo"); got != filepath.Join("/repo", "custom") {
		t.Errorf("relative runtime dir = %q", got)
	}
}
