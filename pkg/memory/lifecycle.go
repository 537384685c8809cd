package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dotsetgreg/engram/pkg/logger"
)

// LifecycleOptions bounds a maintenance pass.
type LifecycleOptions struct {
	SimilarityThreshold float64
	ArchiveThreshold    float64
	IdleWindow          time.Duration
	BatchSize           int
}

// LifecycleReport summarizes one maintenance pass across all owners.
type LifecycleReport struct {
	Owners       int      `json:"owners"`
	Consolidated int      `json:"consolidated"`
	Archived     int      `json:"archived"`
	FailedOwners []string `json:"failed_owners,omitempty"`
}

// LifecycleManager runs consolidation and aging over the store. Each pass is
// bounded work; repeated passes converge because consolidation and archiving
// only ever shrink the active set.
type LifecycleManager struct {
	store      Store
	invalidate func(ownerID string)
	opts       LifecycleOptions
	nowMS      func() int64
}

func NewLifecycleManager(store Store, invalidate func(ownerID string), opts LifecycleOptions) *LifecycleManager {
	if opts.SimilarityThreshold <= 0 || opts.SimilarityThreshold > 1 {
		opts.SimilarityThreshold = 0.8
	}
	if opts.ArchiveThreshold <= 0 || opts.ArchiveThreshold > 1 {
		opts.ArchiveThreshold = 0.3
	}
	if opts.IdleWindow <= 0 {
		opts.IdleWindow = 60 * 24 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if invalidate == nil {
		invalidate = func(string) {}
	}
	return &LifecycleManager{
		store:      store,
		invalidate: invalidate,
		opts:       opts,
		nowMS:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Run executes one maintenance pass over every owner. A failing owner is
// logged and skipped; it never blocks the others.
func (m *LifecycleManager) Run(ctx context.Context) (LifecycleReport, error) {
	owners, err := m.store.Owners(ctx)
	if err != nil {
		return LifecycleReport{}, fmt.Errorf("list owners: %w", err)
	}
	report := LifecycleReport{Owners: len(owners)}
	for _, owner := range owners {
		consolidated, archived, err := m.RunOwner(ctx, owner)
		report.Consolidated += consolidated
		report.Archived += archived
		if err != nil {
			report.FailedOwners = append(report.FailedOwners, owner)
			logger.WarnC("lifecycle", "owner maintenance failed", map[string]any{
				"owner": owner,
				"error": err.Error(),
			})
		}
	}
	logger.InfoC("lifecycle", "maintenance pass done", map[string]any{
		"owners":       report.Owners,
		"consolidated": report.Consolidated,
		"archived":     report.Archived,
		"failed":       len(report.FailedOwners),
	})
	return report, nil
}

// RunOwner consolidates then ages a single owner's memories. Partial
// progress counts are returned even on error.
func (m *LifecycleManager) RunOwner(ctx context.Context, ownerID string) (consolidated, archived int, err error) {
	var errs []error
	consolidated, cErr := m.consolidateOwner(ctx, ownerID)
	if cErr != nil {
		errs = append(errs, cErr)
	}
	archived, aErr := m.ageOwner(ctx, ownerID)
	if aErr != nil {
		errs = append(errs, aErr)
	}
	if consolidated > 0 || archived > 0 {
		m.invalidate(ownerID)
	}
	return consolidated, archived, errors.Join(errs...)
}

// consolidateOwner merges near-duplicate active records of the same type.
// The higher quality record survives; when the loser carries tokens the
// winner lacks, the winner's content is extended before the loser is folded
// in.
func (m *LifecycleManager) consolidateOwner(ctx context.Context, ownerID string) (int, error) {
	merged := 0
	var errs []error
	for _, typ := range AllTypes() {
		records, err := m.store.ListActiveByType(ctx, ownerID, typ, m.opts.BatchSize)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		consumed := make(map[int]bool, len(records))
		for i := range records {
			if consumed[i] {
				continue
			}
			for j := i + 1; j < len(records); j++ {
				if consumed[j] {
					continue
				}
				if tokenOverlap(records[i].Content, records[j].Content) < m.opts.SimilarityThreshold {
					continue
				}
				winner, loser := pickWinner(&records[i], &records[j])
				if err := m.mergeInto(ctx, winner, loser); err != nil {
					errs = append(errs, err)
					continue
				}
				if loser == &records[j] {
					consumed[j] = true
				} else {
					consumed[i] = true
				}
				merged++
				if consumed[i] {
					break
				}
			}
		}
	}
	return merged, errors.Join(errs...)
}

func pickWinner(a, b *Record) (winner, loser *Record) {
	switch {
	case a.QualityScore != b.QualityScore:
		if a.QualityScore > b.QualityScore {
			return a, b
		}
		return b, a
	case a.AccessCount != b.AccessCount:
		if a.AccessCount > b.AccessCount {
			return a, b
		}
		return b, a
	default:
		// Same quality and usage: the older record wins.
		if a.CreatedAtMS <= b.CreatedAtMS {
			return a, b
		}
		return b, a
	}
}

func (m *LifecycleManager) mergeInto(ctx context.Context, winner, loser *Record) error {
	if extended, ok := extendContent(winner.Content, loser.Content); ok {
		if err := m.store.UpdateContent(ctx, winner.ID, extended); err != nil {
			return fmt.Errorf("extend %s: %w", winner.ID, err)
		}
		winner.Content = extended
	}
	if err := m.store.Transition(ctx, loser.ID, StateConsolidated, winner.ID); err != nil {
		return fmt.Errorf("consolidate %s into %s: %w", loser.ID, winner.ID, err)
	}
	return nil
}

// extendContent appends the loser's content only when it adds vocabulary the
// winner does not have and the result stays inside the content limit.
func extendContent(winnerContent, loserContent string) (string, bool) {
	winnerTokens := contentTokens(winnerContent)
	adds := false
	for tok := range contentTokens(loserContent) {
		if _, ok := winnerTokens[tok]; !ok {
			adds = true
			break
		}
	}
	if !adds {
		return "", false
	}
	extended := winnerContent + "; " + loserContent
	if len(extended) > MaxContentBytes {
		return "", false
	}
	return extended, true
}

// ageOwner handles records that sat unused past the idle window. A record
// that was never retrieved is archived outright. Retrieved records decay by
// half-life: below the archive threshold they are archived, above it their
// recomputed quality is persisted.
func (m *LifecycleManager) ageOwner(ctx context.Context, ownerID string) (int, error) {
	now := m.nowMS()
	cutoff := now - m.opts.IdleWindow.Milliseconds()
	records, err := m.store.ListIdle(ctx, ownerID, cutoff, m.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	archived := 0
	var errs []error
	for _, rec := range records {
		q := m.decayedQuality(&rec, now)
		if rec.AccessCount > 0 && q >= m.opts.ArchiveThreshold {
			if q != rec.QualityScore {
				if err := m.store.SetQuality(ctx, rec.ID, q); err != nil {
					errs = append(errs, fmt.Errorf("age %s: %w", rec.ID, err))
				}
			}
			continue
		}
		if err := m.store.Transition(ctx, rec.ID, StateArchived, ""); err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", rec.ID, err))
			continue
		}
		archived++
	}
	return archived, errors.Join(errs...)
}

// decayedQuality recomputes a record's quality from its extraction
// confidence, halved for every idle window it goes untouched, plus a bounded
// boost for historically well-used records. Deriving from confidence rather
// than the stored score keeps repeated aging passes from compounding the
// decay.
func (m *LifecycleManager) decayedQuality(rec *Record, nowMS int64) float64 {
	decayed := rec.Confidence * recencyWeight(nowMS, rec.LastAccessedAtMS, m.opts.IdleWindow)
	boost := 0.03 * float64(rec.AccessCount)
	if boost > 0.3 {
		boost = 0.3
	}
	return decayed + boost
}
