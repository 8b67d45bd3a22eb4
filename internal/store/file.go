package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FilePrefix starts every watermark record name.
const FilePrefix = "tt_"

// FileStore keeps one small file per pair holding the decimal cursor.
type FileStore struct {
	dir string
}

// OpenFiles returns a FileStore rooted at dir, creating it if needed.
func OpenFiles(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the record location for pairKey.
func (fs *FileStore) Path(pairKey string) string {
	return filepath.Join(fs.dir, FilePrefix+pairKey)
}

func (fs *FileStore) Read(_ context.Context, pairKey string) (int64, error) {
	data, err := os.ReadFile(fs.Path(pairKey))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, nil
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse watermark %s: %w", fs.Path(pairKey), err)
	}
	return ts, nil
}

// Write replaces the record atomically. A lower timestamp than the stored
// one is ignored.
func (fs *FileStore) Write(ctx context.Context, pairKey string, timestamp int64) error {
	if strings.TrimSpace(pairKey) == "" {
		return errors.New("pair key is required")
	}

	current, err := fs.Read(ctx, pairKey)
	if err != nil {
		return err
	}
	if timestamp <= current {
		return nil
	}

	tmp, err := os.CreateTemp(fs.dir, FilePrefix+pairKey+".*")
	if err != nil {
		return fmt.Errorf("create temp watermark: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(strconv.FormatInt(timestamp, 10)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write watermark: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close watermark: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.Path(pairKey)); err != nil {
		return fmt.Errorf("replace watermark: %w", err)
	}
	return nil
}

func (fs *FileStore) Close() error {
	return nil
}
