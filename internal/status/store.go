// Package status is the keyed job status store. Every pipeline stage
// writes to it and any observer may read it. Writes are last-write-wins
// with no history; the status record is observability state, not a lock.
package status

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

// Record is the stored value for one job key.
type Record struct {
	Status    string
	Timestamp time.Time
}

// Store wraps a SQLite-backed status table.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the status store at the configured path.
func Open(ctx context.Context, cfg config.StatusConfig, log *slog.Logger) (*Store, error) {
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
CREATE TABLE IF NOT EXISTS job_status (
    job_key TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    updated_at TEXT NOT NULL
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

// Key builds the stored key: "{job_id}:status", optionally qualified by
// a section index.
func Key(jobID, sectionIndex string) string {
	if sectionIndex == "" {
		return jobID + ":status"
	}
	return jobID + ":" + sectionIndex + ":status"
}

// Set writes a job-level status, stamping the current UTC time.
// Concurrent writers race and whichever lands last wins.
func (s *Store) Set(ctx context.Context, jobID, statusValue string) error {
	return s.write(ctx, Key(jobID, ""), statusValue)
}

// SetSection writes a section-qualified status.
func (s *Store) SetSection(ctx context.Context, jobID, sectionIndex, statusValue string) error {
	return s.write(ctx, Key(jobID, sectionIndex), statusValue)
}

func (s *Store) write(ctx context.Context, key, statusValue string) error {
	stamp := s.clock().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_status(job_key, status, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(job_key) DO UPDATE SET status=excluded.status, updated_at=excluded.updated_at`,
		key, statusValue, stamp)
	if err != nil {
		return fmt.Errorf("write status %q: %w", key, err)
	}
	return nil
}

// Get reads a job-level status. The second return is false when the job
// has never been recorded.
func (s *Store) Get(ctx context.Context, jobID string) (Record, bool, error) {
	return s.read(ctx, Key(jobID, ""))
}

// GetSection reads a section-qualified status.
func (s *Store) GetSection(ctx context.Context, jobID, sectionIndex string) (Record, bool, error) {
	return s.read(ctx, Key(jobID, sectionIndex))
}

func (s *Store) read(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	var stamp string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, updated_at FROM job_status WHERE job_key = ?`, key).
		Scan(&rec.Status, &stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read status %q: %w", key, err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, stamp); err == nil {
		rec.Timestamp = ts
	}
	return rec, true, nil
}

// CompareAndSet transitions a job-level status only when the stored
// value matches expect. An empty expect inserts a first record. Returns
// false without error when the guard does not hold. This is a stronger
// opt-in primitive; Set remains the default write path.
func (s *Store) CompareAndSet(ctx context.Context, jobID, expect, next string) (bool, error) {
	key := Key(jobID, "")
	stamp := s.clock().UTC().Format(time.RFC3339Nano)

	if expect == "" {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO job_status(job_key, status, updated_at) VALUES(?, ?, ?)
			 ON CONFLICT(job_key) DO NOTHING`, key, next, stamp)
		if err != nil {
			return false, fmt.Errorf("cas insert %q: %w", key, err)
		}
		n, err := res.RowsAffected()
		return n == 1, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE job_status SET status = ?, updated_at = ? WHERE job_key = ? AND status = ?`,
		next, stamp, key, expect)
	if err != nil {
		return false, fmt.Errorf("cas update %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
