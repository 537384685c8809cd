package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dotsetgreg/engram/pkg/config"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "memory.db")
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestEngineLearnThenGetContext(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	created, err := e.LearnFromInteraction(ctx, "user-1", "I always review my calendar at 8am", SessionData{})
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	if len(created) == 0 {
		t.Fatal("expected memories from the rule path")
	}

	block, err := e.GetContext(ctx, "user-1", "review my calendar", 0)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if !strings.Contains(block, "review my calendar at 8am") {
		t.Fatalf("context block = %q", block)
	}
	if !strings.HasPrefix(block, "Relevant memories:") {
		t.Fatalf("context block missing header: %q", block)
	}
}

func TestEngineContextCacheHit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.LearnFromInteraction(ctx, "user-1", "I always review my calendar at 8am", SessionData{}); err != nil {
		t.Fatalf("learn: %v", err)
	}

	first, err := e.RetrieveContext(ctx, "user-1", "review my calendar", 0)
	if err != nil {
		t.Fatalf("first retrieve: %v", err)
	}
	e.cache.Wait()

	second, err := e.RetrieveContext(ctx, "user-1", "review my calendar", 0)
	if err != nil {
		t.Fatalf("second retrieve: %v", err)
	}
	if second.Context != first.Context {
		t.Fatalf("cache served different content: %q vs %q", second.Context, first.Context)
	}

	snap := e.metrics.Snapshot()
	if snap.CacheHits != 1 || snap.CacheMisses != 1 {
		t.Fatalf("cache counters = %+v", snap)
	}
}

func TestEngineLearnInvalidatesContextCache(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.LearnFromInteraction(ctx, "user-1", "I always review my calendar at 8am", SessionData{}); err != nil {
		t.Fatalf("learn: %v", err)
	}
	first, err := e.RetrieveContext(ctx, "user-1", "review my calendar and email", 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	e.cache.Wait()

	if _, err := e.LearnFromInteraction(ctx, "user-1", "I always review my calendar notes and email after lunch", SessionData{}); err != nil {
		t.Fatalf("second learn: %v", err)
	}

	second, err := e.RetrieveContext(ctx, "user-1", "review my calendar and email", 0)
	if err != nil {
		t.Fatalf("retrieve after learn: %v", err)
	}
	if len(second.Records) <= len(first.Records) {
		t.Fatalf("stale cache entry survived new learning: %d vs %d records", len(second.Records), len(first.Records))
	}
}

func TestEngineGetContextDegradesToEmpty(t *testing.T) {
	e := newTestEngine(t)

	block, err := e.GetContext(context.Background(), "user-1", "anything at all", 0)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if block != "" {
		t.Fatalf("block = %q, want empty for unknown owner", block)
	}
}

func TestEngineEmptyOwnerRejected(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.RetrieveContext(context.Background(), "", "query", 0); err == nil {
		t.Fatal("expected error for empty owner")
	}
}

func TestEngineStatsAndPurge(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.LearnFromInteraction(ctx, "user-1", "I always review my calendar at 8am", SessionData{}); err != nil {
		t.Fatalf("learn: %v", err)
	}

	stats, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats.Owners) != 1 || stats.Owners[0].OwnerID != "user-1" {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Owners[0].ByState[StateActive] == 0 {
		t.Fatalf("no active records in stats: %+v", stats.Owners[0])
	}
	if stats.DBSizeBytes == 0 {
		t.Fatal("db size not reported")
	}

	n, err := e.PurgeArchived(ctx, "user-1")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 0 {
		t.Fatalf("purged = %d, want 0 with nothing archived", n)
	}
}

func TestEngineExportOwner(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	created, err := e.LearnFromInteraction(ctx, "user-1", "I always review my calendar at 8am", SessionData{})
	if err != nil {
		t.Fatalf("learn: %v", err)
	}

	records, err := e.ExportOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(records) != len(created) {
		t.Fatalf("exported %d records, created %d", len(records), len(created))
	}
}

func TestEngineLifecycleRun(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.LearnFromInteraction(ctx, "user-1", "I always review my calendar at 8am", SessionData{}); err != nil {
		t.Fatalf("learn: %v", err)
	}

	report, err := e.RunLifecycle(ctx)
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if report.Owners != 1 {
		t.Fatalf("report = %+v", report)
	}
}
