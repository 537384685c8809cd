package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the canonical Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process engine. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			content TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			tags_json TEXT NOT NULL DEFAULT '[]',
			importance INTEGER NOT NULL,
			confidence REAL NOT NULL,
			quality_score REAL NOT NULL DEFAULT 0,
			source_excerpt TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			last_accessed_at_ms INTEGER NOT NULL DEFAULT 0,
			access_count INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL DEFAULT 'active',
			consolidated_into TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS memory_records_scope_idx ON memory_records(owner_id, state, last_accessed_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS memory_records_type_idx ON memory_records(owner_id, state, memory_type, created_at_ms);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_records_fts USING fts5(record_id UNINDEXED, content, tags, tokenize='unicode61 remove_diacritics 2');`,
		`CREATE TRIGGER IF NOT EXISTS memory_records_ai AFTER INSERT ON memory_records BEGIN
			INSERT INTO memory_records_fts(record_id, content, tags) VALUES (new.id, new.content, new.tags_json);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS memory_records_au AFTER UPDATE OF content, tags_json ON memory_records BEGIN
			DELETE FROM memory_records_fts WHERE record_id = old.id;
			INSERT INTO memory_records_fts(record_id, content, tags) VALUES(new.id, new.content, new.tags_json);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS memory_records_ad AFTER DELETE ON memory_records BEGIN
			DELETE FROM memory_records_fts WHERE record_id = old.id;
		END;`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(stmt string) string {
	stmt = strings.Join(strings.Fields(stmt), " ")
	if len(stmt) > 60 {
		stmt = stmt[:60] + "..."
	}
	return stmt
}

const recordColumns = `id, owner_id, content, memory_type, tags_json, importance, confidence, quality_score, source_excerpt, created_at_ms, last_accessed_at_ms, access_count, state, consolidated_into`

// ValidateRecord checks the creation invariants for a new record.
func ValidateRecord(rec Record) error {
	if strings.TrimSpace(rec.OwnerID) == "" {
		return fmt.Errorf("%w: empty owner id", ErrInvalidCandidate)
	}
	if strings.TrimSpace(rec.Content) == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidCandidate)
	}
	if len(rec.Content) > MaxContentBytes {
		return fmt.Errorf("%w: content exceeds %d bytes", ErrInvalidCandidate, MaxContentBytes)
	}
	if !rec.Type.Valid() {
		return fmt.Errorf("%w: unknown memory type %q", ErrInvalidCandidate, rec.Type)
	}
	if rec.Importance < 1 || rec.Importance > 5 {
		return fmt.Errorf("%w: importance %d not in [1,5]", ErrInvalidCandidate, rec.Importance)
	}
	if rec.Confidence < 0 || rec.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.3f not in [0,1]", ErrInvalidCandidate, rec.Confidence)
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec Record) (Record, error) {
	if err := ValidateRecord(rec); err != nil {
		return Record{}, err
	}

	now := time.Now().UnixMilli()
	if rec.ID == "" {
		rec.ID = "mem-" + uuid.NewString()
	}
	if rec.CreatedAtMS == 0 {
		rec.CreatedAtMS = now
	}
	if rec.LastAccessedAtMS == 0 {
		rec.LastAccessedAtMS = rec.CreatedAtMS
	}
	if rec.State == "" {
		rec.State = StateActive
	}
	rec.Tags = NormalizeTags(rec.Tags)

	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return Record{}, fmt.Errorf("encode tags: %w", err)
	}
	if rec.Tags == nil {
		tagsJSON = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO memory_records (`+recordColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.Content, string(rec.Type), string(tagsJSON),
		rec.Importance, rec.Confidence, rec.QualityScore, rec.SourceExcerpt,
		rec.CreatedAtMS, rec.LastAccessedAtMS, rec.AccessCount,
		string(rec.State), rec.ConsolidatedInto)
	if err != nil {
		return Record{}, fmt.Errorf("insert memory record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, ownerID, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+recordColumns+` FROM memory_records WHERE owner_id = ? AND id = ?`, ownerID, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get memory record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListActive(ctx context.Context, ownerID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+` FROM memory_records
WHERE owner_id = ? AND state = 'active'
ORDER BY last_accessed_at_ms DESC
LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) ListActiveByType(ctx context.Context, ownerID string, typ Type, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+` FROM memory_records
WHERE owner_id = ? AND state = 'active' AND memory_type = ?
ORDER BY created_at_ms ASC
LIMIT ?`, ownerID, string(typ), limit)
	if err != nil {
		return nil, fmt.Errorf("list records by type: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) ListIdle(ctx context.Context, ownerID string, beforeMS int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+` FROM memory_records
WHERE owner_id = ? AND state = 'active' AND last_accessed_at_ms < ?
ORDER BY last_accessed_at_ms ASC
LIMIT ?`, ownerID, beforeMS, limit)
	if err != nil {
		return nil, fmt.Errorf("list idle records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) SearchFTS(ctx context.Context, ownerID, ftsQuery string, limit int) ([]Record, error) {
	if strings.TrimSpace(ftsQuery) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 80
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+prefixedRecordColumns("m")+`
FROM memory_records_fts f
JOIN memory_records m ON m.id = f.record_id
WHERE memory_records_fts MATCH ?
  AND m.owner_id = ?
  AND m.state = 'active'
ORDER BY bm25(memory_records_fts), m.last_accessed_at_ms DESC
LIMIT ?`, ftsQuery, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("search memory fts: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func prefixedRecordColumns(alias string) string {
	cols := strings.Split(recordColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func (s *SQLiteStore) TouchAccess(ctx context.Context, ids []string, atMS int64) error {
	if len(ids) == 0 {
		return nil
	}
	if atMS == 0 {
		atMS = time.Now().UnixMilli()
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, atMS)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE memory_records
SET access_count = access_count + 1, last_accessed_at_ms = ?
WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("touch access: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetQuality(ctx context.Context, id string, score float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_records SET quality_score = ? WHERE id = ?`, score, id)
	if err != nil {
		return fmt.Errorf("set quality score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) UpdateContent(ctx context.Context, id, content string) error {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > MaxContentBytes {
		return fmt.Errorf("%w: merged content out of bounds", ErrInvalidCandidate)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_records SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, to State, consolidatedInto string) error {
	switch to {
	case StateArchived:
		if consolidatedInto != "" {
			return fmt.Errorf("%w: archived record cannot reference a target", ErrBadTransition)
		}
	case StateConsolidated:
		if consolidatedInto == "" {
			return fmt.Errorf("%w: consolidated record requires a target", ErrBadTransition)
		}
		if consolidatedInto == id {
			return fmt.Errorf("%w: record %s cannot consolidate into itself", ErrBadTransition, id)
		}
	default:
		return fmt.Errorf("%w: cannot transition to %q", ErrBadTransition, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("transition record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if to == StateConsolidated {
		var targetState string
		err := tx.QueryRowContext(ctx,
			`SELECT state FROM memory_records WHERE id = ?`, consolidatedInto).Scan(&targetState)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: consolidation target %s", ErrNotFound, consolidatedInto)
		}
		if err != nil {
			return fmt.Errorf("transition record: %w", err)
		}
		if targetState != string(StateActive) {
			return fmt.Errorf("%w: consolidation target %s is not active", ErrBadTransition, consolidatedInto)
		}
	}

	res, err := tx.ExecContext(ctx, `
UPDATE memory_records SET state = ?, consolidated_into = ?
WHERE id = ? AND state = 'active'`, string(to), consolidatedInto, id)
	if err != nil {
		return fmt.Errorf("transition record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var st string
		if qErr := tx.QueryRowContext(ctx,
			`SELECT state FROM memory_records WHERE id = ?`, id).Scan(&st); qErr != nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: record %s is not active", ErrBadTransition, id)
	}

	if to == StateConsolidated {
		// Records folded into this one earlier follow it to the new
		// winner, so consolidated_into always references an active record.
		if _, err := tx.ExecContext(ctx, `
UPDATE memory_records SET consolidated_into = ? WHERE consolidated_into = ?`,
			consolidatedInto, id); err != nil {
			return fmt.Errorf("repoint consolidated records: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transition record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT owner_id FROM memory_records WHERE state = 'active' ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		out = append(out, owner)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountByState(ctx context.Context, ownerID string) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT state, COUNT(*) FROM memory_records WHERE owner_id = ? GROUP BY state`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()

	out := map[State]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[State(st)] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountByType(ctx context.Context, ownerID string) (map[Type]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT memory_type, COUNT(*) FROM memory_records
WHERE owner_id = ? AND state = 'active' GROUP BY memory_type`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	defer rows.Close()

	out := map[Type]int{}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[Type(typ)] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ExportOwner(ctx context.Context, ownerID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+` FROM memory_records
WHERE owner_id = ? ORDER BY created_at_ms ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("export owner records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) PurgeArchived(ctx context.Context, ownerID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_records WHERE owner_id = ? AND state = 'archived'`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("purge archived records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var typ, state, tagsRaw string
	err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.Content, &typ, &tagsRaw,
		&rec.Importance, &rec.Confidence, &rec.QualityScore, &rec.SourceExcerpt,
		&rec.CreatedAtMS, &rec.LastAccessedAtMS, &rec.AccessCount,
		&state, &rec.ConsolidatedInto,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Type = Type(typ)
	rec.State = State(state)
	if tagsRaw != "" && tagsRaw != "[]" {
		_ = json.Unmarshal([]byte(tagsRaw), &rec.Tags)
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
