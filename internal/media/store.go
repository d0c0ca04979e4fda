// Package media is the opaque blob-store collaborator: a registry of media
// files the scene can reference by path. The sync engine never interprets
// file contents.
package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS media (
  id   INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  path TEXT NOT NULL,
  type TEXT NOT NULL,
  size INTEGER NOT NULL DEFAULT 0
);`

// ErrNotFound is returned when a media id does not exist.
var ErrNotFound = errors.New("media not found")

// Item is one registered media file.
type Item struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Store keeps the media registry in SQLite with files on local disk.
type Store struct {
	db    *sql.DB
	dir   string
	quota int64
}

// NewStore prepares the media table. dir is where the underlying files live;
// quota is the storage budget in bytes.
func NewStore(db *sql.DB, dir string, quota int64) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create media schema: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{db: db, dir: dir, quota: quota}, nil
}

// List returns every registered item.
func (s *Store) List(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, path, type, size FROM media ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Path, &it.Type, &it.Size); err != nil {
			return nil, fmt.Errorf("scan media row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Delete removes an item and its backing file. A missing file is only
// logged: the registry row is what matters.
func (s *Store) Delete(ctx context.Context, id int64) error {
	var path string
	err := s.db.QueryRowContext(ctx, `SELECT path FROM media WHERE id = ?`, id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("look up media %d: %w", id, err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete media %d: %w", id, err)
	}

	if file := s.fileFor(path); file != "" {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", file).Msg("failed to remove media file from disk")
		}
	}
	return nil
}

// Usage returns the total registered size in bytes.
func (s *Store) Usage(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(size) FROM media`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum media sizes: %w", err)
	}
	return total.Int64, nil
}

// Quota returns the configured storage budget in bytes.
func (s *Store) Quota() int64 { return s.quota }

// fileFor maps a stored path like /uploads/name.mp4 onto the media dir.
func (s *Store) fileFor(path string) string {
	name := strings.TrimPrefix(path, "/uploads/")
	if name == "" || strings.Contains(name, "..") {
		return ""
	}
	return filepath.Join(s.dir, name)
}
