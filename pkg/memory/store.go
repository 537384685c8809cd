package memory

import "context"

// Store provides durable persistence for memory records. All queries are
// scoped by owner; implementations must never return another owner's rows.
type Store interface {
	Close() error

	// Insert validates and persists a new record. Importance or confidence
	// outside their allowed ranges is rejected with ErrInvalidCandidate,
	// never clamped.
	Insert(ctx context.Context, rec Record) (Record, error)

	// Get returns one record by id, any state.
	Get(ctx context.Context, ownerID, id string) (Record, error)

	// ListActive returns active records for an owner, most relevant slice
	// for scoring (ordered by last access descending).
	ListActive(ctx context.Context, ownerID string, limit int) ([]Record, error)

	// ListActiveByType returns an owner's active records of one type,
	// oldest first, used by consolidation batching.
	ListActiveByType(ctx context.Context, ownerID string, typ Type, limit int) ([]Record, error)

	// ListIdle returns active records whose last access predates beforeMS,
	// oldest access first.
	ListIdle(ctx context.Context, ownerID string, beforeMS int64, limit int) ([]Record, error)

	// SearchFTS returns active records whose content or tags match the
	// FTS query, best lexical match first.
	SearchFTS(ctx context.Context, ownerID, ftsQuery string, limit int) ([]Record, error)

	// TouchAccess bumps access_count and last_accessed_at for the given
	// records. Best effort: lost updates under concurrent retrieval are
	// tolerated.
	TouchAccess(ctx context.Context, ids []string, atMS int64) error

	// SetQuality persists a recomputed quality score.
	SetQuality(ctx context.Context, id string, score float64) error

	// UpdateContent replaces a record's content (consolidation merge).
	UpdateContent(ctx context.Context, id, content string) error

	// Transition moves an active record to archived or consolidated.
	// Any other source state fails with ErrBadTransition.
	Transition(ctx context.Context, id string, to State, consolidatedInto string) error

	// Owners lists distinct owner ids with at least one active record.
	Owners(ctx context.Context) ([]string, error)

	// CountByState and CountByType report per-owner record counts.
	CountByState(ctx context.Context, ownerID string) (map[State]int, error)
	CountByType(ctx context.Context, ownerID string) (map[Type]int, error)

	// ExportOwner returns every record for an owner, any state, for audit.
	ExportOwner(ctx context.Context, ownerID string) ([]Record, error)

	// PurgeArchived physically deletes an owner's archived records.
	// This is the only physical deletion path.
	PurgeArchived(ctx context.Context, ownerID string) (int, error)
}
