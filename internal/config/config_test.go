package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, 10.0, cfg.Solver.TimeLimitSeconds)
	assert.Equal(t, 4, cfg.Solver.NumSearchWorkers)
	assert.Equal(t, 0.2, cfg.Solver.MaxMoveRatioThreshold)
	assert.Equal(t, 12.0, cfg.Solver.FrozenWindowHours)
	assert.Equal(t, 5.0, cfg.Solver.InertiaPenaltyWeight)
	assert.Equal(t, 5, cfg.Learning.MinSamplesForUpdate)
	assert.Equal(t, 30, cfg.TimeGranularityMinutes)
	assert.Equal(t, 30, cfg.MaxHorizonDays)
	assert.Equal(t, 7, cfg.DefaultHorizonDays)
	assert.True(t, cfg.EnableFallbackSolver)
	assert.True(t, cfg.Solver.NoStudyWindowsHard)
	assert.False(t, cfg.Solver.AvoidWindowsHard)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.yaml")
	content := []byte(`
environment: prod
solver:
  time_limit_seconds: 20
  num_search_workers: 8
time_granularity_minutes: 15
default_horizon_days: 3
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, 20.0, cfg.Solver.TimeLimitSeconds)
	assert.Equal(t, 8, cfg.Solver.NumSearchWorkers)
	assert.Equal(t, 15, cfg.TimeGranularityMinutes)
	assert.Equal(t, 3, cfg.DefaultHorizonDays)
	// Untouched keys keep their defaults.
	assert.Equal(t, 0.2, cfg.Solver.MaxMoveRatioThreshold)
}

func TestLoadEnvOverride(t *testing.T) {
	os.Setenv("SCHEDULER_SOLVER_TIME_LIMIT_SECONDS", "25")
	os.Setenv("SCHEDULER_MAX_HORIZON_DAYS", "14")
	defer os.Unsetenv("SCHEDULER_SOLVER_TIME_LIMIT_SECONDS")
	defer os.Unsetenv("SCHEDULER_MAX_HORIZON_DAYS")

	cfg, _, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.Solver.TimeLimitSeconds)
	assert.Equal(t, 14, cfg.MaxHorizonDays)
}

func TestValidateRanges(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"time limit too low", func(c *Config) { c.Solver.TimeLimitSeconds = 0.5 }},
		{"time limit too high", func(c *Config) { c.Solver.TimeLimitSeconds = 301 }},
		{"workers too high", func(c *Config) { c.Solver.NumSearchWorkers = 17 }},
		{"workers too low", func(c *Config) { c.Solver.NumSearchWorkers = 0 }},
		{"bad granularity", func(c *Config) { c.TimeGranularityMinutes = 20 }},
		{"horizon too high", func(c *Config) { c.MaxHorizonDays = 91 }},
		{"default horizon above max", func(c *Config) { c.DefaultHorizonDays = 31 }},
		{"negative weight", func(c *Config) { c.DefaultWeights.LateNight = -1 }},
		{"bad bandit strategy", func(c *Config) { c.Learning.BanditStrategy = "softmax" }},
		{"move ratio above one", func(c *Config) { c.Solver.MaxMoveRatioThreshold = 1.5 }},
		{"boost below one", func(c *Config) { c.Solver.MissedBoostFactor = 0.5 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestManagerUpdate(t *testing.T) {
	cfg, v, err := Load("")
	require.NoError(t, err)
	mgr := NewManager(cfg, v)

	updated, err := mgr.Update(map[string]any{
		"solver.time_limit_seconds": 30,
		"default_horizon_days":      5,
	})
	require.NoError(t, err)
	assert.Equal(t, 30.0, updated.Solver.TimeLimitSeconds)
	assert.Equal(t, 5, updated.DefaultHorizonDays)
	assert.Same(t, updated, mgr.Get())
}

func TestManagerUpdateRejectsInvalid(t *testing.T) {
	cfg, v, err := Load("")
	require.NoError(t, err)
	mgr := NewManager(cfg, v)
	before := mgr.Get()

	_, err = mgr.Update(map[string]any{"time_granularity_minutes": 20})
	require.Error(t, err)
	assert.Same(t, before, mgr.Get(), "rejected update must not change the active config")
}

func TestManagerExport(t *testing.T) {
	mgr := NewManager(Default(), nil)

	raw, err := mgr.Export("yaml")
	require.NoError(t, err)

	var back Config
	require.NoError(t, yaml.Unmarshal(raw, &back))
	assert.Equal(t, mgr.Get().Solver.TimeLimitSeconds, back.Solver.TimeLimitSeconds)

	_, err = mgr.Export("toml")
	assert.Error(t, err)
}

func TestManagerDigestChangesOnUpdate(t *testing.T) {
	cfg, v, err := Load("")
	require.NoError(t, err)
	mgr := NewManager(cfg, v)

	before := mgr.Digest()
	_, err = mgr.Update(map[string]any{"default_horizon_days": 4})
	require.NoError(t, err)

	assert.NotEqual(t, before, mgr.Digest())
	assert.Len(t, mgr.Digest(), 16)
}
