// Package config loads and validates engine configuration from a JSON file
// with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	Store      StoreConfig      `json:"store"`
	Learning   LearningConfig   `json:"learning"`
	Extraction ExtractionConfig `json:"extraction"`
	Retrieval  RetrievalConfig  `json:"retrieval"`
	Context    ContextConfig    `json:"context"`
	Lifecycle  LifecycleConfig  `json:"lifecycle"`
	Cache      CacheConfig      `json:"cache"`
}

type StoreConfig struct {
	Path string `json:"path" env:"ENGRAM_STORE_PATH"`
}

type LearningConfig struct {
	MinImportance               int     `json:"min_importance" env:"ENGRAM_LEARNING_MIN_IMPORTANCE"`
	CreationConfidenceThreshold float64 `json:"creation_confidence_threshold" env:"ENGRAM_LEARNING_CREATION_CONFIDENCE_THRESHOLD"`
	MaxMemoriesPerInteraction   int     `json:"max_memories_per_interaction" env:"ENGRAM_LEARNING_MAX_MEMORIES_PER_INTERACTION"`
}

type ExtractionConfig struct {
	APIKey         string `json:"api_key" env:"ANTHROPIC_API_KEY"`
	Model          string `json:"model" env:"ENGRAM_EXTRACTION_MODEL"`
	MaxTokens      int    `json:"max_tokens" env:"ENGRAM_EXTRACTION_MAX_TOKENS"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"ENGRAM_EXTRACTION_TIMEOUT_SECONDS"`
}

type RetrievalConfig struct {
	TagWeight           float64 `json:"tag_weight" env:"ENGRAM_RETRIEVAL_TAG_WEIGHT"`
	ContentWeight       float64 `json:"content_weight" env:"ENGRAM_RETRIEVAL_CONTENT_WEIGHT"`
	ImportanceWeight    float64 `json:"importance_weight" env:"ENGRAM_RETRIEVAL_IMPORTANCE_WEIGHT"`
	RecencyWeight       float64 `json:"recency_weight" env:"ENGRAM_RETRIEVAL_RECENCY_WEIGHT"`
	RecencyHalfLifeDays int     `json:"recency_half_life_days" env:"ENGRAM_RETRIEVAL_RECENCY_HALF_LIFE_DAYS"`
	QualityThreshold    float64 `json:"quality_threshold" env:"ENGRAM_RETRIEVAL_QUALITY_THRESHOLD"`
	MinResults          int     `json:"min_results" env:"ENGRAM_RETRIEVAL_MIN_RESULTS"`
	MaxResults          int     `json:"max_results" env:"ENGRAM_RETRIEVAL_MAX_RESULTS"`
	CandidateLimit      int     `json:"candidate_limit" env:"ENGRAM_RETRIEVAL_CANDIDATE_LIMIT"`
}

type ContextConfig struct {
	BaseLength          int     `json:"base_length" env:"ENGRAM_CONTEXT_BASE_LENGTH"`
	MaxLength           int     `json:"max_length" env:"ENGRAM_CONTEXT_MAX_LENGTH"`
	RedundancyThreshold float64 `json:"redundancy_threshold" env:"ENGRAM_CONTEXT_REDUNDANCY_THRESHOLD"`
}

type LifecycleConfig struct {
	SimilarityThreshold float64 `json:"similarity_threshold" env:"ENGRAM_LIFECYCLE_SIMILARITY_THRESHOLD"`
	ArchiveThreshold    float64 `json:"archive_threshold" env:"ENGRAM_LIFECYCLE_ARCHIVE_THRESHOLD"`
	IdleWindowDays      int     `json:"idle_window_days" env:"ENGRAM_LIFECYCLE_IDLE_WINDOW_DAYS"`
	BatchSize           int     `json:"batch_size" env:"ENGRAM_LIFECYCLE_BATCH_SIZE"`
	Schedule            string  `json:"schedule" env:"ENGRAM_LIFECYCLE_SCHEDULE"`
}

type CacheConfig struct {
	TTLSeconds int `json:"ttl_seconds" env:"ENGRAM_CACHE_TTL_SECONDS"`
}

func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "~/.engram/state/memory.db",
		},
		Learning: LearningConfig{
			MinImportance:               2,
			CreationConfidenceThreshold: 0.4,
			MaxMemoriesPerInteraction:   8,
		},
		Extraction: ExtractionConfig{
			Model:          "claude-3-5-haiku-latest",
			MaxTokens:      1024,
			TimeoutSeconds: 30,
		},
		Retrieval: RetrievalConfig{
			TagWeight:           0.4,
			ContentWeight:       0.3,
			ImportanceWeight:    0.2,
			RecencyWeight:       0.1,
			RecencyHalfLifeDays: 14,
			QualityThreshold:    0.6,
			MinResults:          1,
			MaxResults:          12,
			CandidateLimit:      80,
		},
		Context: ContextConfig{
			BaseLength:          400,
			MaxLength:           1200,
			RedundancyThreshold: 0.85,
		},
		Lifecycle: LifecycleConfig{
			SimilarityThreshold: 0.8,
			ArchiveThreshold:    0.3,
			IdleWindowDays:      60,
			BatchSize:           100,
			Schedule:            "0 3 * * *",
		},
		Cache: CacheConfig{
			TTLSeconds: 60,
		},
	}
}

// Load reads the config file at path (missing file means defaults), applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on any out-of-range setting. A config error is fatal
// at startup; nothing degrades gracefully here.
func (c *Config) Validate() error {
	r := c.Retrieval
	sum := r.TagWeight + r.ContentWeight + r.ImportanceWeight + r.RecencyWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("config: retrieval weights sum to %.4f, want 1.0", sum)
	}
	for name, w := range map[string]float64{
		"tag_weight":        r.TagWeight,
		"content_weight":    r.ContentWeight,
		"importance_weight": r.ImportanceWeight,
		"recency_weight":    r.RecencyWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("config: retrieval %s %.4f not in [0,1]", name, w)
		}
	}
	for name, v := range map[string]float64{
		"retrieval quality_threshold":    r.QualityThreshold,
		"context redundancy_threshold":   c.Context.RedundancyThreshold,
		"lifecycle similarity_threshold": c.Lifecycle.SimilarityThreshold,
		"lifecycle archive_threshold":    c.Lifecycle.ArchiveThreshold,
		"learning confidence_threshold":  c.Learning.CreationConfidenceThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: %s %.4f not in [0,1]", name, v)
		}
	}
	if c.Learning.MinImportance < 1 || c.Learning.MinImportance > 5 {
		return fmt.Errorf("config: learning min_importance %d not in [1,5]", c.Learning.MinImportance)
	}
	if c.Learning.MaxMemoriesPerInteraction < 1 {
		return fmt.Errorf("config: learning max_memories_per_interaction must be >= 1")
	}
	if r.MinResults < 1 || r.MaxResults < r.MinResults {
		return fmt.Errorf("config: retrieval result bounds [%d,%d] invalid", r.MinResults, r.MaxResults)
	}
	if c.Context.BaseLength <= 0 || c.Context.MaxLength < c.Context.BaseLength {
		return fmt.Errorf("config: context length bounds [%d,%d] invalid", c.Context.BaseLength, c.Context.MaxLength)
	}
	if c.Lifecycle.BatchSize < 1 {
		return fmt.Errorf("config: lifecycle batch_size must be >= 1")
	}
	if c.Lifecycle.IdleWindowDays < 1 {
		return fmt.Errorf("config: lifecycle idle_window_days must be >= 1")
	}
	if c.Extraction.TimeoutSeconds < 1 {
		return fmt.Errorf("config: extraction timeout_seconds must be >= 1")
	}
	if c.Cache.TTLSeconds < 1 {
		return fmt.Errorf("config: cache ttl_seconds must be >= 1")
	}
	if sched := strings.TrimSpace(c.Lifecycle.Schedule); sched != "" {
		if !gronx.New().IsValid(sched) {
			return fmt.Errorf("config: lifecycle schedule %q is not a valid cron expression", sched)
		}
	}
	return nil
}

// StorePath returns the store path with ~ expanded.
func (c *Config) StorePath() string {
	return expandHome(c.Store.Path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
