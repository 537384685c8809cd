package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/engram/pkg/logger"
)

// LearningManager orchestrates per-interaction memory creation: pattern
// recognition, extraction, threshold filtering, persistence.
type LearningManager struct {
	recognizer *PatternRecognizer
	extractor  Extractor
	store      Store
	metrics    *Metrics
	invalidate func(ownerID string)

	minImportance       int
	confidenceThreshold float64
	maxPerInteraction   int
}

// LearningOptions carries the creation thresholds.
type LearningOptions struct {
	MinImportance       int
	ConfidenceThreshold float64
	MaxPerInteraction   int
}

func NewLearningManager(store Store, recognizer *PatternRecognizer, extractor Extractor, metrics *Metrics, invalidate func(ownerID string), opts LearningOptions) *LearningManager {
	if opts.MinImportance <= 0 {
		opts.MinImportance = 2
	}
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = 0.4
	}
	if opts.MaxPerInteraction <= 0 {
		opts.MaxPerInteraction = 8
	}
	if invalidate == nil {
		invalidate = func(string) {}
	}
	return &LearningManager{
		recognizer:          recognizer,
		extractor:           extractor,
		store:               store,
		metrics:             metrics,
		invalidate:          invalidate,
		minImportance:       opts.MinImportance,
		confidenceThreshold: opts.ConfidenceThreshold,
		maxPerInteraction:   opts.MaxPerInteraction,
	}
}

// LearnFromInteraction runs the creation pipeline for one interaction.
// Extraction failures degrade to the rule fallback and never surface; only
// store failures are returned. Partial batch success is expected: records
// persisted before a store failure stay persisted.
//
// Callers must invoke this at most once per interaction; no deduplication
// against prior history happens here (consolidation owns that).
func (m *LearningManager) LearnFromInteraction(ctx context.Context, ownerID, interactionText string, session SessionData) ([]Record, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: empty owner id", ErrInvalidCandidate)
	}

	start := time.Now()
	facts := m.recognizer.Analyze(session.History, session.ToolCalls)

	result, err := m.extractor.Extract(ctx, interactionText, facts)
	if err != nil {
		// The extractor already exhausted its fallback; creation is skipped,
		// not failed, so the caller's turn is never disrupted.
		logger.WarnC("learning", "extraction unavailable, skipping creation", map[string]any{
			"owner": ownerID,
			"error": err.Error(),
		})
		m.metrics.ObserveExtraction(time.Since(start), 0, 0)
		return nil, nil
	}

	accepted := m.filterCandidates(result)
	m.metrics.ObserveExtraction(time.Since(start), len(result.Candidates), len(accepted))

	created := make([]Record, 0, len(accepted))
	var storeErrs []error
	for _, cand := range accepted {
		rec, err := m.store.Insert(ctx, Record{
			OwnerID:       ownerID,
			Content:       cand.Content,
			Type:          cand.Type,
			Tags:          cand.Tags,
			Importance:    cand.Importance,
			Confidence:    cand.Confidence,
			QualityScore:  cand.Confidence,
			SourceExcerpt: cand.SourceExcerpt,
		})
		if err != nil {
			if errors.Is(err, ErrInvalidCandidate) {
				// Dropped, not retried.
				logger.DebugC("learning", "candidate rejected", map[string]any{
					"owner": ownerID,
					"error": err.Error(),
				})
				continue
			}
			storeErrs = append(storeErrs, err)
			continue
		}
		created = append(created, rec)
	}

	if len(created) > 0 {
		m.invalidate(ownerID)
		logger.InfoC("learning", "memories created", map[string]any{
			"owner":    ownerID,
			"created":  len(created),
			"fallback": result.UsedFallback,
		})
	}
	if len(storeErrs) > 0 {
		return created, fmt.Errorf("persist memories for %s: %w", ownerID, errors.Join(storeErrs...))
	}
	return created, nil
}

// filterCandidates applies the creation thresholds and the per-interaction
// cap. The confidence threshold applies to the primary path only: fallback
// candidates are pinned at FallbackConfidence by construction and would
// otherwise never persist.
func (m *LearningManager) filterCandidates(result ExtractionResult) []ScoredCandidate {
	kept := make([]ScoredCandidate, 0, len(result.Candidates))
	for _, cand := range result.Candidates {
		if cand.Importance < m.minImportance {
			continue
		}
		if !result.UsedFallback && cand.Confidence < m.confidenceThreshold {
			continue
		}
		kept = append(kept, cand)
	}
	return rankCandidates(kept, m.maxPerInteraction)
}
