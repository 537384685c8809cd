package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Equal(t, Default().Retrieval, cfg.Retrieval)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data, err := json.Marshal(map[string]any{
		"learning": map[string]any{"min_importance": 4},
		"cache":    map[string]any{"ttl_seconds": 120},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Learning.MinImportance)
	require.Equal(t, 120, cfg.Cache.TTLSeconds)
	// Untouched sections keep their defaults.
	require.Equal(t, 0.6, cfg.Retrieval.QualityThreshold)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"learning": {"min_importance": 4}}`), 0o644))
	t.Setenv("ENGRAM_LEARNING_MIN_IMPORTANCE", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Learning.MinImportance)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"weights do not sum to one", func(c *Config) { c.Retrieval.TagWeight = 0.9 }},
		{"negative weight", func(c *Config) {
			c.Retrieval.TagWeight = -0.1
			c.Retrieval.ContentWeight = 0.8
		}},
		{"quality threshold above one", func(c *Config) { c.Retrieval.QualityThreshold = 1.3 }},
		{"min importance out of range", func(c *Config) { c.Learning.MinImportance = 0 }},
		{"result bounds inverted", func(c *Config) { c.Retrieval.MaxResults = 0 }},
		{"context bounds inverted", func(c *Config) { c.Context.MaxLength = 10 }},
		{"zero batch size", func(c *Config) { c.Lifecycle.BatchSize = 0 }},
		{"bad cron schedule", func(c *Config) { c.Lifecycle.Schedule = "every tuesday" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestStorePathExpandsHome(t *testing.T) {
	cfg := Default()
	cfg.Store.Path = "~/state/memory.db"
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "state", "memory.db"), cfg.StorePath())
}
