// Package store persists the per-pair watermark: the highest source
// timestamp already relayed from one source to one destination.
package store

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Watermarks reads and advances per-pair cursors. Write never lowers a
// stored cursor.
type Watermarks interface {
	Read(ctx context.Context, pairKey string) (int64, error)
	Write(ctx context.Context, pairKey string, timestamp int64) error
	Close() error
}

// PairKey derives the record key of a relay pair from its two endpoint URLs.
func PairKey(sourceURL, destinationURL string) string {
	sum := sha1.Sum([]byte(sourceURL + destinationURL))
	return hex.EncodeToString(sum[:])
}

// New opens the backend named by kind. For the file backend path is a
// directory, for sqlite a database file.
func New(kind, path string) (Watermarks, error) {
	switch kind {
	case BackendFile, "":
		return OpenFiles(path)
	case BackendSQLite:
		return Open(path)
	default:
		return nil, fmt.Errorf("unknown state backend %q (want file or sqlite)", kind)
	}
}

// Store is the sqlite backend.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Read returns the cursor for pairKey, or 0 when none was written yet.
func (s *Store) Read(ctx context.Context, pairKey string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var ts int64
	err := s.db.QueryRowContext(ctx, "SELECT last_seen FROM watermarks WHERE pair_key = ?", pairKey).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	return ts, nil
}

// Write stores timestamp for pairKey unless a higher cursor is already
// stored.
func (s *Store) Write(ctx context.Context, pairKey string, timestamp int64) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(pairKey) == "" {
		return errors.New("pair key is required")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO watermarks(pair_key, last_seen, updated_at) VALUES(?, ?, ?)
ON CONFLICT(pair_key) DO UPDATE SET
    last_seen  = MAX(watermarks.last_seen, excluded.last_seen),
    updated_at = excluded.updated_at`,
		pairKey, timestamp, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}
