package memory

import (
	"context"
	"math"
	"testing"
	"time"
)

func newTestLifecycle(t *testing.T, invalidate func(string)) (*LifecycleManager, *SQLiteStore) {
	t.Helper()
	store := newTestStore(t)
	m := NewLifecycleManager(store, invalidate, LifecycleOptions{})
	return m, store
}

func TestConsolidateMergesNearDuplicates(t *testing.T) {
	invalidated := ""
	m, store := newTestLifecycle(t, func(owner string) { invalidated = owner })
	ctx := context.Background()

	strong := testRecord("user-1", "user prefers espresso over filter coffee")
	strong.QualityScore = 0.9
	strong, err := store.Insert(ctx, strong)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	weak := testRecord("user-1", "user prefers espresso over filter coffee always")
	weak.QualityScore = 0.4
	weak, err = store.Insert(ctx, weak)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	consolidated, archived, err := m.RunOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("run owner: %v", err)
	}
	if consolidated != 1 || archived != 0 {
		t.Fatalf("consolidated=%d archived=%d", consolidated, archived)
	}
	if invalidated != "user-1" {
		t.Fatalf("invalidate called with %q", invalidated)
	}

	loser, err := store.Get(ctx, "user-1", weak.ID)
	if err != nil {
		t.Fatalf("get loser: %v", err)
	}
	if loser.State != StateConsolidated || loser.ConsolidatedInto != strong.ID {
		t.Fatalf("loser = %+v", loser)
	}
	winner, err := store.Get(ctx, "user-1", strong.ID)
	if err != nil {
		t.Fatalf("get winner: %v", err)
	}
	if winner.State != StateActive {
		t.Fatalf("winner state = %q", winner.State)
	}
}

func TestConsolidateRepointsChainedRecords(t *testing.T) {
	m, store := newTestLifecycle(t, nil)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	base := "user prefers espresso over filter coffee"
	low := testRecord("user-1", base)
	low.QualityScore = 0.4
	low.CreatedAtMS = now - 3000
	mid := testRecord("user-1", base)
	mid.QualityScore = 0.6
	mid.CreatedAtMS = now - 2000
	high := testRecord("user-1", base+" always")
	high.QualityScore = 0.9
	high.CreatedAtMS = now - 1000

	var err error
	if low, err = store.Insert(ctx, low); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if mid, err = store.Insert(ctx, mid); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if high, err = store.Insert(ctx, high); err != nil {
		t.Fatalf("insert: %v", err)
	}

	consolidated, _, err := m.RunOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("run owner: %v", err)
	}
	if consolidated != 2 {
		t.Fatalf("consolidated = %d, want 2", consolidated)
	}

	// Even when a past winner loses a later merge, every folded record
	// must end up pointing at the one still-active survivor.
	for _, id := range []string{low.ID, mid.ID} {
		got, err := store.Get(ctx, "user-1", id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.State != StateConsolidated {
			t.Fatalf("record %s state = %q", id, got.State)
		}
		if got.ConsolidatedInto != high.ID {
			t.Fatalf("record %s consolidated into %s, want %s", id, got.ConsolidatedInto, high.ID)
		}
	}
	got, err := store.Get(ctx, "user-1", high.ID)
	if err != nil {
		t.Fatalf("get survivor: %v", err)
	}
	if got.State != StateActive {
		t.Fatalf("survivor state = %q", got.State)
	}
}

func TestConsolidateLeavesDistinctRecordsAlone(t *testing.T) {
	m, store := newTestLifecycle(t, nil)
	ctx := context.Background()

	for _, content := range []string{
		"user prefers espresso over filter coffee",
		"weekly report goes out on friday afternoons",
	} {
		if _, err := store.Insert(ctx, testRecord("user-1", content)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	consolidated, _, err := m.RunOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("run owner: %v", err)
	}
	if consolidated != 0 {
		t.Fatalf("consolidated = %d, want 0", consolidated)
	}
}

func TestConsolidateSkipsDifferentTypes(t *testing.T) {
	m, store := newTestLifecycle(t, nil)
	ctx := context.Background()

	a := testRecord("user-1", "reviews the calendar every morning at eight")
	a.Type = TypeRoutine
	if _, err := store.Insert(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	b := testRecord("user-1", "reviews the calendar every morning at eight")
	b.Type = TypeFact
	if _, err := store.Insert(ctx, b); err != nil {
		t.Fatalf("insert: %v", err)
	}

	consolidated, _, err := m.RunOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("run owner: %v", err)
	}
	if consolidated != 0 {
		t.Fatalf("records of different types merged: %d", consolidated)
	}
}

func TestAgingArchivesStaleLowQuality(t *testing.T) {
	m, store := newTestLifecycle(t, nil)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	stale := testRecord("user-1", "one-off note about an abandoned idea")
	stale.QualityScore = FallbackConfidence
	stale.CreatedAtMS = now - 90*24*3600*1000
	stale.LastAccessedAtMS = stale.CreatedAtMS
	stale, err := store.Insert(ctx, stale)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	fresh, err := store.Insert(ctx, testRecord("user-1", "active note about current work"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, archived, err := m.RunOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("run owner: %v", err)
	}
	if archived != 1 {
		t.Fatalf("archived = %d, want 1", archived)
	}

	got, err := store.Get(ctx, "user-1", stale.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateArchived {
		t.Fatalf("stale state = %q, want archived", got.State)
	}
	got, err = store.Get(ctx, "user-1", fresh.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateActive {
		t.Fatalf("fresh record was archived")
	}
}

func TestAgingArchivesNeverRetrievedRegardlessOfQuality(t *testing.T) {
	m, store := newTestLifecycle(t, nil)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	rec := testRecord("user-1", "detailed migration note nobody ever asked about")
	rec.Confidence = 0.9
	rec.QualityScore = 0.9
	rec.CreatedAtMS = now - 90*24*3600*1000
	rec.LastAccessedAtMS = rec.CreatedAtMS
	rec, err := store.Insert(ctx, rec)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, archived, err := m.RunOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("run owner: %v", err)
	}
	if archived != 1 {
		t.Fatalf("archived = %d, want 1", archived)
	}
	got, err := store.Get(ctx, "user-1", rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateArchived {
		t.Fatalf("90d-idle zero-access record state = %q, want archived", got.State)
	}
}

func TestAgingPersistsRecomputedQuality(t *testing.T) {
	m, store := newTestLifecycle(t, nil)
	ctx := context.Background()
	now := time.Now().UnixMilli()
	m.nowMS = func() int64 { return now }

	idleMS := int64(70 * 24 * 3600 * 1000)
	used := testRecord("user-1", "long-lived preference referenced constantly")
	used.QualityScore = 0.8
	used.AccessCount = 10
	used.CreatedAtMS = now - idleMS
	used.LastAccessedAtMS = used.CreatedAtMS
	used, err := store.Insert(ctx, used)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, archived, err := m.RunOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("run owner: %v", err)
	}
	if archived != 0 {
		t.Fatalf("archived = %d, want 0", archived)
	}

	want := used.Confidence*math.Exp(-math.Ln2*float64(idleMS)/float64(m.opts.IdleWindow.Milliseconds())) + 0.3
	got, err := store.Get(ctx, "user-1", used.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if math.Abs(got.QualityScore-want) > 1e-9 {
		t.Fatalf("quality = %v, want %v", got.QualityScore, want)
	}

	// A second pass on the same clock changes nothing.
	if _, _, err := m.RunOwner(ctx, "user-1"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	again, err := store.Get(ctx, "user-1", used.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if math.Abs(again.QualityScore-want) > 1e-9 {
		t.Fatalf("second pass drifted quality to %v", again.QualityScore)
	}
}

func TestAgingSparesWellUsedRecords(t *testing.T) {
	m, store := newTestLifecycle(t, nil)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	used := testRecord("user-1", "long-lived preference referenced constantly")
	used.QualityScore = 0.8
	used.AccessCount = 10
	used.CreatedAtMS = now - 70*24*3600*1000
	used.LastAccessedAtMS = used.CreatedAtMS
	if _, err := store.Insert(ctx, used); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, archived, err := m.RunOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("run owner: %v", err)
	}
	if archived != 0 {
		t.Fatalf("well-used record archived: %d", archived)
	}
}

func TestLifecycleRunIsIdempotent(t *testing.T) {
	m, store := newTestLifecycle(t, nil)
	ctx := context.Background()

	a := testRecord("user-1", "user prefers espresso over filter coffee")
	a.QualityScore = 0.9
	if _, err := store.Insert(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	b := testRecord("user-1", "user prefers espresso over filter coffee always")
	b.QualityScore = 0.4
	if _, err := store.Insert(ctx, b); err != nil {
		t.Fatalf("insert: %v", err)
	}

	report, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if report.Consolidated != 1 {
		t.Fatalf("first run consolidated = %d", report.Consolidated)
	}

	report, err = m.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Consolidated != 0 || report.Archived != 0 {
		t.Fatalf("second run not a fixed point: %+v", report)
	}
}
