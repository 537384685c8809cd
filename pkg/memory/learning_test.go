package memory

import (
	"context"
	"errors"
	"testing"
)

type stubExtractor struct {
	result ExtractionResult
	err    error
}

func (s *stubExtractor) Extract(context.Context, string, []CandidateFact) (ExtractionResult, error) {
	return s.result, s.err
}

func newTestLearning(t *testing.T, extractor Extractor, invalidate func(string)) (*LearningManager, *SQLiteStore) {
	t.Helper()
	store := newTestStore(t)
	m := NewLearningManager(store, NewPatternRecognizer(), extractor, NewMetrics(), invalidate, LearningOptions{
		MinImportance:       2,
		ConfidenceThreshold: 0.4,
		MaxPerInteraction:   8,
	})
	return m, store
}

func TestLearnPersistsAcceptedCandidates(t *testing.T) {
	invalidated := ""
	extractor := &stubExtractor{result: ExtractionResult{
		Candidates: []ScoredCandidate{
			{Content: "User prefers espresso", Type: TypePreference, Importance: 3, Confidence: 0.9},
			{Content: "User works remotely on fridays", Type: TypeFact, Importance: 2, Confidence: 0.7},
		},
	}}
	m, store := newTestLearning(t, extractor, func(owner string) { invalidated = owner })

	created, err := m.LearnFromInteraction(context.Background(), "user-1", "irrelevant", SessionData{})
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created = %d, want 2", len(created))
	}
	for _, rec := range created {
		if rec.QualityScore != rec.Confidence {
			t.Fatalf("quality score not seeded from confidence: %+v", rec)
		}
	}
	if invalidated != "user-1" {
		t.Fatalf("invalidate called with %q", invalidated)
	}

	active, err := store.ListActive(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("persisted = %d, want 2", len(active))
	}
}

func TestLearnFiltersLowImportanceAndConfidence(t *testing.T) {
	extractor := &stubExtractor{result: ExtractionResult{
		Candidates: []ScoredCandidate{
			{Content: "too unimportant", Type: TypeFact, Importance: 1, Confidence: 0.9},
			{Content: "too uncertain", Type: TypeFact, Importance: 3, Confidence: 0.2},
			{Content: "keeper", Type: TypeFact, Importance: 3, Confidence: 0.8},
		},
	}}
	m, _ := newTestLearning(t, extractor, nil)

	created, err := m.LearnFromInteraction(context.Background(), "user-1", "irrelevant", SessionData{})
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	if len(created) != 1 || created[0].Content != "keeper" {
		t.Fatalf("created = %+v", created)
	}
}

func TestLearnFallbackCandidatesBypassConfidenceThreshold(t *testing.T) {
	extractor := &stubExtractor{result: ExtractionResult{
		Candidates: []ScoredCandidate{
			{Content: "I always review my calendar at 8am", Type: TypeRoutine, Importance: 3, Confidence: FallbackConfidence},
		},
		UsedFallback: true,
	}}
	m, _ := newTestLearning(t, extractor, nil)

	created, err := m.LearnFromInteraction(context.Background(), "user-1", "irrelevant", SessionData{})
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("fallback candidate was filtered out: %+v", created)
	}
	if created[0].Confidence != FallbackConfidence {
		t.Fatalf("confidence = %v", created[0].Confidence)
	}
}

func TestLearnCapsPerInteraction(t *testing.T) {
	cands := make([]ScoredCandidate, 12)
	for i := range cands {
		cands[i] = ScoredCandidate{
			Content:    "fact number " + string(rune('a'+i)),
			Type:       TypeFact,
			Importance: 3,
			Confidence: 0.8,
		}
	}
	extractor := &stubExtractor{result: ExtractionResult{Candidates: cands}}
	m, _ := newTestLearning(t, extractor, nil)

	created, err := m.LearnFromInteraction(context.Background(), "user-1", "irrelevant", SessionData{})
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	if len(created) != 8 {
		t.Fatalf("created = %d, want 8", len(created))
	}
}

func TestLearnEmptyOwnerRejected(t *testing.T) {
	m, _ := newTestLearning(t, &stubExtractor{}, nil)
	if _, err := m.LearnFromInteraction(context.Background(), "  ", "text", SessionData{}); !errors.Is(err, ErrInvalidCandidate) {
		t.Fatalf("err = %v, want ErrInvalidCandidate", err)
	}
}

func TestLearnSkipsOnExtractorError(t *testing.T) {
	m, store := newTestLearning(t, &stubExtractor{err: ErrExtraction}, nil)

	created, err := m.LearnFromInteraction(context.Background(), "user-1", "text", SessionData{})
	if err != nil {
		t.Fatalf("learn must not fail the interaction: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("created = %+v, want none", created)
	}
	active, err := store.ListActive(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatal("records persisted despite extraction failure")
	}
}

func TestLearnDropsInvalidCandidateAndContinues(t *testing.T) {
	extractor := &stubExtractor{result: ExtractionResult{
		Candidates: []ScoredCandidate{
			{Content: "bad type slips through", Type: "vibe", Importance: 3, Confidence: 0.8},
			{Content: "good record", Type: TypeFact, Importance: 3, Confidence: 0.8},
		},
	}}
	m, _ := newTestLearning(t, extractor, nil)

	created, err := m.LearnFromInteraction(context.Background(), "user-1", "irrelevant", SessionData{})
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	if len(created) != 1 || created[0].Content != "good record" {
		t.Fatalf("created = %+v", created)
	}
}

func TestLearnEndToEndRuleFallback(t *testing.T) {
	store := newTestStore(t)
	m := NewLearningManager(store, NewPatternRecognizer(), NewRuleExtractor(8), NewMetrics(), nil, LearningOptions{})

	created, err := m.LearnFromInteraction(context.Background(), "user-1",
		"I always review my calendar at 8am", SessionData{})
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	if len(created) == 0 {
		t.Fatal("expected a routine memory from the rule path")
	}
	found := false
	for _, rec := range created {
		if rec.Type == TypeRoutine {
			found = true
			if rec.LastAccessedAtMS != rec.CreatedAtMS {
				t.Fatalf("fresh record access time mismatch: %+v", rec)
			}
		}
	}
	if !found {
		t.Fatalf("no routine record in %+v", created)
	}
}
