package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/gridpoint-io/meterwms/internal/models"
)

const lastSyncKey = "last_sync_time"

// Store is the durable local cache of a field agent: entity snapshots
// per kind, the FIFO queue of pending operations, the conflict log and
// the last-sync timestamp. Every write autocommits so nothing queued is
// lost on crash. No network access happens here.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the local store at the given SQLite DSN.
// Use ":memory:" for tests.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping local store: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers, which SQLite wants anyway.
	db.SetMaxOpenConns(1)

	if err := ensureSchema(db); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS snapshots(
  kind TEXT PRIMARY KEY,
  data TEXT NOT NULL,
  updated_at TEXT
);

CREATE TABLE IF NOT EXISTS pending_operations(
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  payload TEXT NOT NULL,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conflicts(
  id TEXT PRIMARY KEY,
  operation_id TEXT NOT NULL DEFAULT '',
  entity_kind TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  resolved INTEGER NOT NULL DEFAULT 0,
  payload TEXT NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conflicts_entity ON conflicts(entity_kind, entity_id);
CREATE INDEX IF NOT EXISTS idx_conflicts_operation ON conflicts(operation_id);

CREATE TABLE IF NOT EXISTS sync_meta(
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// GetEntities returns the cached snapshot for an entity kind. A kind
// that was never saved yields an empty slice, not an error.
func (s *Store) GetEntities(kind models.EntityKind) ([]models.Record, error) {
	var data string
	err := s.db.Get(&data, `SELECT data FROM snapshots WHERE kind = ?`, string(kind))
	if err == sql.ErrNoRows {
		return []models.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s snapshot: %w", kind, err)
	}

	var records []models.Record
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, fmt.Errorf("corrupt %s snapshot: %w", kind, err)
	}
	return records, nil
}

// SaveEntities replaces the snapshot for an entity kind wholesale.
func (s *Store) SaveEntities(kind models.EntityKind, records []models.Record) error {
	if records == nil {
		records = []models.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode %s snapshot: %w", kind, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshots(kind, data, updated_at) VALUES(?,?,?)
		ON CONFLICT(kind) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(kind), string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save %s snapshot: %w", kind, err)
	}
	return nil
}

// AppendPending assigns id and timestamp if absent and appends the
// operation to the durable queue.
func (s *Store) AppendPending(op *models.PendingOperation) error {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode pending operation: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO pending_operations(id, payload, created_at) VALUES(?,?,?)`,
		op.ID, string(payload), op.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}
	return nil
}

// ListPending returns all queued operations in insertion order.
func (s *Store) ListPending() ([]models.PendingOperation, error) {
	var rows []string
	err := s.db.Select(&rows, `SELECT payload FROM pending_operations ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending queue: %w", err)
	}

	ops := make([]models.PendingOperation, 0, len(rows))
	for _, raw := range rows {
		var op models.PendingOperation
		if err := json.Unmarshal([]byte(raw), &op); err != nil {
			return nil, fmt.Errorf("corrupt pending operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// PendingCount returns the number of queued operations.
func (s *Store) PendingCount() (int, error) {
	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM pending_operations`); err != nil {
		return 0, err
	}
	return n, nil
}

// RemovePending deletes a queued operation by id.
func (s *Store) RemovePending(id string) error {
	_, err := s.db.Exec(`DELETE FROM pending_operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove operation %s: %w", id, err)
	}
	return nil
}

// UpdatePending rewrites a queued operation in place, keeping its queue
// position. Used when temp ids are reconciled to server ids.
func (s *Store) UpdatePending(op *models.PendingOperation) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode pending operation: %w", err)
	}
	_, err = s.db.Exec(`UPDATE pending_operations SET payload = ? WHERE id = ?`, string(payload), op.ID)
	if err != nil {
		return fmt.Errorf("failed to update operation %s: %w", op.ID, err)
	}
	return nil
}

// SaveConflict inserts or updates a conflict record, assigning id and
// creation time if absent.
func (s *Store) SaveConflict(c *models.Conflict) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode conflict: %w", err)
	}

	resolved := 0
	if c.Resolved {
		resolved = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO conflicts(id, operation_id, entity_kind, entity_id, resolved, payload, created_at)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET resolved = excluded.resolved, payload = excluded.payload`,
		c.ID, c.OperationID, string(c.Kind), c.EntityID, resolved, string(payload),
		c.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save conflict: %w", err)
	}
	return nil
}

// GetConflict returns a conflict by id, or nil if unknown.
func (s *Store) GetConflict(id string) (*models.Conflict, error) {
	var raw string
	err := s.db.Get(&raw, `SELECT payload FROM conflicts WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conflict %s: %w", id, err)
	}

	var c models.Conflict
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("corrupt conflict record: %w", err)
	}
	return &c, nil
}

// FindUnresolvedConflict returns the open conflict recorded for an
// operation and entity, or nil. A queued operation that keeps
// conflicting across sync passes owns one conflict record, not one per
// pass.
func (s *Store) FindUnresolvedConflict(operationID, entityID string) (*models.Conflict, error) {
	if operationID == "" {
		return nil, nil
	}

	var raw string
	err := s.db.Get(&raw, `
		SELECT payload FROM conflicts
		WHERE operation_id = ? AND entity_id = ? AND resolved = 0
		ORDER BY created_at ASC LIMIT 1`,
		operationID, entityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conflicts: %w", err)
	}

	var c models.Conflict
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("corrupt conflict record: %w", err)
	}
	return &c, nil
}

// ListConflicts returns conflicts, optionally filtered to unresolved
// ones, in creation order.
func (s *Store) ListConflicts(unresolvedOnly bool) ([]models.Conflict, error) {
	query := `SELECT payload FROM conflicts ORDER BY created_at ASC`
	if unresolvedOnly {
		query = `SELECT payload FROM conflicts WHERE resolved = 0 ORDER BY created_at ASC`
	}

	var rows []string
	if err := s.db.Select(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to read conflicts: %w", err)
	}

	conflicts := make([]models.Conflict, 0, len(rows))
	for _, raw := range rows {
		var c models.Conflict
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("corrupt conflict record: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, nil
}

// ConflictsForEntity returns all conflicts recorded for one record.
func (s *Store) ConflictsForEntity(kind models.EntityKind, entityID string) ([]models.Conflict, error) {
	var rows []string
	err := s.db.Select(&rows,
		`SELECT payload FROM conflicts WHERE entity_kind = ? AND entity_id = ? ORDER BY created_at ASC`,
		string(kind), entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to read conflicts: %w", err)
	}

	conflicts := make([]models.Conflict, 0, len(rows))
	for _, raw := range rows {
		var c models.Conflict
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("corrupt conflict record: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, nil
}

// LastSyncTime returns the timestamp of the last completed sync pass,
// or nil if no pass has run yet.
func (s *Store) LastSyncTime() (*time.Time, error) {
	var raw string
	err := s.db.Get(&raw, `SELECT value FROM sync_meta WHERE key = ?`, lastSyncKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt last-sync timestamp: %w", err)
	}
	return &t, nil
}

// SetLastSyncTime persists the timestamp of the latest sync pass.
func (s *Store) SetLastSyncTime(t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_meta(key, value) VALUES(?,?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastSyncKey, t.UTC().Format(time.RFC3339Nano))
	return err
}

// ClearAll wipes every snapshot, the pending queue, the conflict log
// and the last-sync timestamp. Calling it twice leaves the same empty
// state as calling it once.
func (s *Store) ClearAll() error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM snapshots`,
		`DELETE FROM pending_operations`,
		`DELETE FROM conflicts`,
		`DELETE FROM sync_meta`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to clear local store: %w", err)
		}
	}

	return tx.Commit()
}
