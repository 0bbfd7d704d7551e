// Package artifact stores assembled audio under deterministic keys.
// Re-assembly overwrites in place; artifacts are never versioned.
package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/narrata-labs/narrata-core/internal/config"
)

// Store wraps a SQLite-backed blob table.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Key builds the deterministic artifact key for a section's audio.
func Key(bookTitle, sectionIndex, heading string) string {
	return fmt.Sprintf("%s:%s:%s", bookTitle, sectionIndex, heading)
}

// Open initializes the artifact store at the configured path.
func Open(ctx context.Context, cfg config.ArtifactConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS artifacts (
    artifact_key TEXT PRIMARY KEY,
    audio BLOB NOT NULL,
    created_at TEXT NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put writes the audio for a key, replacing any previous artifact.
func (s *Store) Put(ctx context.Context, key string, audio []byte) error {
	stamp := s.clock().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts(artifact_key, audio, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(artifact_key) DO UPDATE SET audio=excluded.audio, created_at=excluded.created_at`,
		key, audio, stamp)
	if err != nil {
		return fmt.Errorf("store artifact %q: %w", key, err)
	}
	return nil
}

// Get reads the audio for a key. The second return is false when no
// artifact exists.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var audio []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT audio FROM artifacts WHERE artifact_key = ?`, key).Scan(&audio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read artifact %q: %w", key, err)
	}
	return audio, true, nil
}

// Exists reports whether an artifact is stored under key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM artifacts WHERE artifact_key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe artifact %q: %w", key, err)
	}
	return true, nil
}
