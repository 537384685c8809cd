package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dotsetgreg/engram/pkg/config"
	"github.com/dotsetgreg/engram/pkg/logger"
)

// Engine wires the full memory pipeline behind two primary operations:
// LearnFromInteraction on the write path and GetContext on the read path.
type Engine struct {
	cfg       *config.Config
	store     Store
	metrics   *Metrics
	cache     *RetrievalCache
	learning  *LearningManager
	retriever *Retriever
	validator *Validator
	assembler *Assembler
	lifecycle *LifecycleManager

	workerOnce sync.Once
	stopOnce   sync.Once
	workerStop chan struct{}
	workerDone chan struct{}
}

// NewEngine builds an engine from config. An Anthropic API key selects the
// model-backed extractor with the rule extractor as fallback; without a key
// the rule extractor runs alone.
func NewEngine(cfg *config.Config) (*Engine, error) {
	store, err := NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return nil, err
	}
	cache, err := NewRetrievalCache(time.Duration(cfg.Cache.TTLSeconds) * time.Second)
	if err != nil {
		store.Close()
		return nil, err
	}
	metrics := NewMetrics()
	invalidate := cache.Invalidate

	rule := NewRuleExtractor(cfg.Learning.MaxMemoriesPerInteraction)
	var extractor Extractor = rule
	if cfg.Extraction.APIKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(cfg.Extraction.APIKey))
		complete := NewAnthropicCompleteFunc(&client, cfg.Extraction.Model, int64(cfg.Extraction.MaxTokens))
		extractor = NewLLMExtractor(
			complete,
			rule,
			time.Duration(cfg.Extraction.TimeoutSeconds)*time.Second,
			cfg.Learning.CreationConfidenceThreshold,
			cfg.Learning.MaxMemoriesPerInteraction,
		)
	} else {
		logger.InfoC("engine", "no api key configured, extraction uses rules only", nil)
	}

	e := &Engine{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		cache:   cache,
		learning: NewLearningManager(store, NewPatternRecognizer(), extractor, metrics, invalidate, LearningOptions{
			MinImportance:       cfg.Learning.MinImportance,
			ConfidenceThreshold: cfg.Learning.CreationConfidenceThreshold,
			MaxPerInteraction:   cfg.Learning.MaxMemoriesPerInteraction,
		}),
		retriever: NewRetriever(store, metrics, RetrieverOptions{
			Weights: ScoringWeights{
				Tag:        cfg.Retrieval.TagWeight,
				Content:    cfg.Retrieval.ContentWeight,
				Importance: cfg.Retrieval.ImportanceWeight,
				Recency:    cfg.Retrieval.RecencyWeight,
			},
			RecencyHalfLife:  time.Duration(cfg.Retrieval.RecencyHalfLifeDays) * 24 * time.Hour,
			QualityThreshold: cfg.Retrieval.QualityThreshold,
			MinResults:       cfg.Retrieval.MinResults,
			MaxResults:       cfg.Retrieval.MaxResults,
			CandidateLimit:   cfg.Retrieval.CandidateLimit,
		}),
		validator: NewValidator(cfg.Context.RedundancyThreshold),
		assembler: NewAssembler(AssemblerOptions{
			BaseLength: cfg.Context.BaseLength,
			MaxLength:  cfg.Context.MaxLength,
		}),
		workerStop: make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	e.lifecycle = NewLifecycleManager(store, invalidate, LifecycleOptions{
		SimilarityThreshold: cfg.Lifecycle.SimilarityThreshold,
		ArchiveThreshold:    cfg.Lifecycle.ArchiveThreshold,
		IdleWindow:          time.Duration(cfg.Lifecycle.IdleWindowDays) * 24 * time.Hour,
		BatchSize:           cfg.Lifecycle.BatchSize,
	})
	return e, nil
}

// LearnFromInteraction extracts and persists memories for one interaction.
func (e *Engine) LearnFromInteraction(ctx context.Context, ownerID, interactionText string, session SessionData) ([]Record, error) {
	return e.learning.LearnFromInteraction(ctx, ownerID, interactionText, session)
}

// GetContext returns a prompt-ready memory block for the query. Retrieval
// failures degrade to an empty block; the caller's interaction proceeds
// without memory rather than failing.
func (e *Engine) GetContext(ctx context.Context, ownerID, query string, limitHint int) (string, error) {
	result, err := e.RetrieveContext(ctx, ownerID, query, limitHint)
	if err != nil {
		logger.WarnC("engine", "context retrieval degraded to empty", map[string]any{
			"owner": ownerID,
			"error": err.Error(),
		})
		return "", nil
	}
	return result.Context, nil
}

// RetrieveContext is GetContext with the underlying records and validation
// report, and without the degrade-to-empty behavior.
func (e *Engine) RetrieveContext(ctx context.Context, ownerID, query string, limitHint int) (CachedContext, error) {
	if strings.TrimSpace(ownerID) == "" {
		return CachedContext{}, fmt.Errorf("%w: empty owner id", ErrInvalidCandidate)
	}
	if cached, ok := e.cache.Get(ownerID, query); ok {
		e.metrics.ObserveCache(true)
		return cached, nil
	}
	e.metrics.ObserveCache(false)

	scored, err := e.retriever.Retrieve(ctx, ownerID, query, limitHint)
	if err != nil {
		return CachedContext{}, err
	}
	kept, report := e.validator.Validate(scored)
	result := CachedContext{
		Records: kept,
		Context: e.assembler.Assemble(kept, query, 0),
		Report:  report,
	}
	e.cache.Put(ownerID, query, result)
	return result, nil
}

// RunLifecycle executes one consolidation and aging pass now.
func (e *Engine) RunLifecycle(ctx context.Context) (LifecycleReport, error) {
	return e.lifecycle.Run(ctx)
}

// PurgeArchived permanently deletes an owner's archived records.
func (e *Engine) PurgeArchived(ctx context.Context, ownerID string) (int, error) {
	n, err := e.store.PurgeArchived(ctx, ownerID)
	if err == nil && n > 0 {
		e.cache.Invalidate(ownerID)
	}
	return n, err
}

// ExportOwner returns every record for one owner, all states included.
func (e *Engine) ExportOwner(ctx context.Context, ownerID string) ([]Record, error) {
	return e.store.ExportOwner(ctx, ownerID)
}

// Stats reports per-owner counts, store size, and runtime metrics.
func (e *Engine) Stats(ctx context.Context) (EngineStats, error) {
	return CollectStats(ctx, e.store, e.cfg.StorePath(), e.metrics)
}

// Store exposes the underlying store for direct reads.
func (e *Engine) Store() Store { return e.store }

// StartLifecycleWorker runs scheduled maintenance in the background until
// Close. An empty schedule disables the worker.
func (e *Engine) StartLifecycleWorker(ctx context.Context) {
	e.workerOnce.Do(func() {
		schedule := strings.TrimSpace(e.cfg.Lifecycle.Schedule)
		if schedule == "" {
			close(e.workerDone)
			return
		}
		go e.runWorker(ctx, schedule)
	})
}

func (e *Engine) runWorker(ctx context.Context, schedule string) {
	defer close(e.workerDone)
	gron := gronx.New()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	var lastRun string
	logger.InfoC("engine", "lifecycle worker started", map[string]any{"schedule": schedule})
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.workerStop:
			return
		case now := <-ticker.C:
			minute := now.Truncate(time.Minute).Format(time.RFC3339)
			if minute == lastRun {
				continue
			}
			due, err := gron.IsDue(schedule, now)
			if err != nil || !due {
				continue
			}
			lastRun = minute
			if _, err := e.lifecycle.Run(ctx); err != nil {
				logger.WarnC("engine", "scheduled maintenance failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Close stops the worker and releases the cache and store.
func (e *Engine) Close() error {
	e.workerOnce.Do(func() { close(e.workerDone) })
	e.stopOnce.Do(func() { close(e.workerStop) })
	<-e.workerDone
	e.cache.Close()
	return e.store.Close()
}
