package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dotsetgreg/engram/pkg/logger"
)

// ScoringWeights combines the four relevance signals. Validated to sum to
// 1.0 at startup; these defaults are a starting point, not a tuned optimum.
type ScoringWeights struct {
	Tag        float64
	Content    float64
	Importance float64
	Recency    float64
}

func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Tag: 0.4, Content: 0.3, Importance: 0.2, Recency: 0.1}
}

// RetrieverOptions bounds retrieval behavior.
type RetrieverOptions struct {
	Weights          ScoringWeights
	RecencyHalfLife  time.Duration
	QualityThreshold float64
	MinResults       int
	MaxResults       int
	CandidateLimit   int
}

// Retriever ranks an owner's active memories against a query using pure
// lexical matching. No embeddings anywhere in this path; that constraint is
// intentional.
type Retriever struct {
	store   Store
	metrics *Metrics
	opts    RetrieverOptions
	nowMS   func() int64
}

func NewRetriever(store Store, metrics *Metrics, opts RetrieverOptions) *Retriever {
	if opts.Weights == (ScoringWeights{}) {
		opts.Weights = DefaultScoringWeights()
	}
	if opts.RecencyHalfLife <= 0 {
		opts.RecencyHalfLife = 14 * 24 * time.Hour
	}
	if opts.QualityThreshold <= 0 {
		opts.QualityThreshold = 0.6
	}
	if opts.MinResults <= 0 {
		opts.MinResults = 1
	}
	if opts.MaxResults < opts.MinResults {
		opts.MaxResults = 12
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 80
	}
	return &Retriever{
		store:   store,
		metrics: metrics,
		opts:    opts,
		nowMS:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Retrieve returns the owner's best-scoring active memories for the query,
// descending by score. Candidates below the quality threshold are excluded
// even when the limit is not reached; an empty result is a valid answer for
// a novel query. Returned records get their access stats bumped, best
// effort.
func (r *Retriever) Retrieve(ctx context.Context, ownerID, query string, limitHint int) ([]ScoredRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	start := time.Now()
	defer func() { r.metrics.ObserveRetrieval(time.Since(start)) }()

	candidates, err := r.store.SearchFTS(ctx, ownerID, buildFTSQuery(query), r.opts.CandidateLimit)
	if err != nil || len(candidates) == 0 {
		if err != nil {
			logger.WarnC("retriever", "fts search failed, scanning active set", map[string]any{
				"owner": ownerID,
				"error": err.Error(),
			})
		}
		candidates, err = r.store.ListActive(ctx, ownerID, r.opts.CandidateLimit)
		if err != nil {
			return nil, err
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	now := r.nowMS()
	queryTags := deriveTags(query, 8)

	scored := make([]ScoredRecord, 0, len(candidates))
	for _, rec := range candidates {
		if rec.State != StateActive {
			continue
		}
		score := r.Score(&rec, query, queryTags, now)
		if score < r.opts.QualityThreshold {
			continue
		}
		scored = append(scored, ScoredRecord{Record: rec, Score: score})
	}
	if len(scored) == 0 {
		return nil, nil
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].LastAccessedAtMS > scored[j].LastAccessedAtMS
		}
		return scored[i].Score > scored[j].Score
	})

	limit := r.dynamicLimit(query, limitHint)
	if len(scored) > limit {
		scored = scored[:limit]
	}

	ids := make([]string, 0, len(scored))
	for _, s := range scored {
		ids = append(ids, s.ID)
	}
	if err := r.store.TouchAccess(ctx, ids, now); err != nil {
		// Lost access updates are acceptable; retrieval already succeeded.
		logger.WarnC("retriever", "access tracking update failed", map[string]any{
			"owner": ownerID,
			"error": err.Error(),
		})
	}
	return scored, nil
}

// Score computes the weighted relevance of one record, normalized to [0,1].
func (r *Retriever) Score(rec *Record, query string, queryTags []string, nowMS int64) float64 {
	w := r.opts.Weights

	tagMatch := 0.0
	if len(queryTags) > 0 {
		hits := 0
		for _, tag := range queryTags {
			if rec.HasTag(tag) {
				hits++
			}
		}
		tagMatch = float64(hits) / float64(len(queryTags))
	}

	overlap := tokenOverlap(query, rec.Content)
	importance := float64(rec.Importance) / 5.0
	recency := recencyWeight(nowMS, rec.LastAccessedAtMS, r.opts.RecencyHalfLife)

	return w.Tag*tagMatch + w.Content*overlap + w.Importance*importance + w.Recency*recency
}

// dynamicLimit scales the result count with query complexity inside
// [MinResults, MaxResults]; limitHint > 0 adds a caller-side cap.
func (r *Retriever) dynamicLimit(query string, limitHint int) int {
	span := float64(r.opts.MaxResults - r.opts.MinResults)
	limit := r.opts.MinResults + int(math.Round(queryComplexity(query)*span))
	if limit > r.opts.MaxResults {
		limit = r.opts.MaxResults
	}
	if limit < r.opts.MinResults {
		limit = r.opts.MinResults
	}
	if limitHint > 0 && limit > limitHint {
		limit = limitHint
	}
	return limit
}

func recencyWeight(nowMS, lastMS int64, halfLife time.Duration) float64 {
	deltaMS := float64(nowMS - lastMS)
	if deltaMS < 0 {
		deltaMS = 0
	}
	hl := float64(halfLife / time.Millisecond)
	if hl <= 0 {
		hl = float64((14 * 24 * time.Hour) / time.Millisecond)
	}
	return math.Exp(-math.Ln2 * deltaMS / hl)
}
