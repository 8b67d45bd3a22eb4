package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// migrate creates the tables and records the schema version. A database
// written by a newer release is refused.
func migrate(ctx context.Context, db *sql.DB) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		"INSERT INTO metadata(key, value) VALUES('schema_version', ?) ON CONFLICT(key) DO NOTHING",
		strconv.Itoa(schemaVersion)); err != nil {
		return fmt.Errorf("insert schema version: %w", err)
	}

	var versionStr string
	if err = tx.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&versionStr); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return fmt.Errorf("parse schema version: %w", err)
	}
	if version > schemaVersion {
		err = fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
		return err
	}

	return tx.Commit()
}
