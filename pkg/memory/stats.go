package memory

import (
	"context"
	"fmt"
	"os"
)

// OwnerStats breaks one owner's records down by state and type.
type OwnerStats struct {
	OwnerID string        `json:"owner_id"`
	ByState map[State]int `json:"by_state"`
	ByType  map[Type]int  `json:"by_type"`
	Total   int           `json:"total"`
}

// EngineStats is the full observable picture of the engine.
type EngineStats struct {
	Owners      []OwnerStats    `json:"owners"`
	DBSizeBytes int64           `json:"db_size_bytes"`
	Metrics     MetricsSnapshot `json:"metrics"`
}

// CollectStats gathers per-owner counts, the database file size, and the
// runtime metrics snapshot.
func CollectStats(ctx context.Context, store Store, dbPath string, metrics *Metrics) (EngineStats, error) {
	owners, err := store.Owners(ctx)
	if err != nil {
		return EngineStats{}, fmt.Errorf("collect stats: %w", err)
	}
	stats := EngineStats{Metrics: metrics.Snapshot()}
	for _, owner := range owners {
		byState, err := store.CountByState(ctx, owner)
		if err != nil {
			return EngineStats{}, fmt.Errorf("collect stats for %s: %w", owner, err)
		}
		byType, err := store.CountByType(ctx, owner)
		if err != nil {
			return EngineStats{}, fmt.Errorf("collect stats for %s: %w", owner, err)
		}
		total := 0
		for _, n := range byState {
			total += n
		}
		stats.Owners = append(stats.Owners, OwnerStats{
			OwnerID: owner,
			ByState: byState,
			ByType:  byType,
			Total:   total,
		})
	}
	if dbPath != "" {
		if info, err := os.Stat(dbPath); err == nil {
			stats.DBSizeBytes = info.Size()
		}
	}
	return stats, nil
}
