// Package snapshot persists the authoritative state to SQLite and restores
// it at boot.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stagehand-live/stagehand/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
  id             INTEGER PRIMARY KEY CHECK (id = 1),
  schema_version INTEGER NOT NULL,
  state          TEXT NOT NULL,
  saved_at       INTEGER NOT NULL
);`

// Store reads and writes the single state snapshot row.
type Store struct {
	db *sql.DB
}

// NewStore prepares the snapshot table on an open database handle.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns the latest persisted state, migrated to the current schema,
// or nil when no snapshot has ever been written. An unmigratable snapshot
// returns an error wrapping state.ErrUnknownSchema; the caller decides
// whether that is fatal.
func (s *Store) Load(ctx context.Context) (*state.AppState, error) {
	var version int
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT schema_version, state FROM snapshots WHERE id = 1`,
	).Scan(&version, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot row: %w", err)
	}
	st, err := state.Decode(version, raw)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Save upserts the snapshot row. Callers treat failures as transient: they
// are logged and retried on the next interval, never allowed to block live
// operation.
func (s *Store) Save(ctx context.Context, st state.AppState) error {
	st.SchemaVersion = state.SchemaVersion
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO snapshots (id, schema_version, state, saved_at)
VALUES (1, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  schema_version = excluded.schema_version,
  state          = excluded.state,
  saved_at       = excluded.saved_at`,
		state.SchemaVersion, raw, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("write snapshot row: %w", err)
	}
	return nil
}
