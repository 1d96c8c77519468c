package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
)

//go:embed schemas/*.sql
var schemas embed.FS

type schema struct {
	file    string
	version int
}

// Bump version whenever a schema file changes. Schemas only use
// CREATE ... IF NOT EXISTS, so reapplying an older file is harmless.
var schemaFiles = map[string]schema{
	"folio":       {file: "folio_schema.sql", version: 1},
	"client_data": {file: "client_data_schema.sql", version: 1},
}

// Migrate applies the embedded schema for this database and records its
// version in PRAGMA user_version. Databases without a schema are left alone.
func (db *DB) Migrate() error {
	s, ok := schemaFiles[db.name]
	if !ok {
		return nil
	}

	content, err := schemas.ReadFile("schemas/" + s.file)
	if err != nil {
		return fmt.Errorf("failed to read embedded schema %s: %w", s.file, err)
	}

	ctx := context.Background()
	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > s.version {
		return fmt.Errorf("database %s has schema version %d, newer than supported %d", db.name, current, s.version)
	}

	return WithTransactionContext(ctx, db.conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute schema %s for %s: %w", s.file, db.name, err)
		}
		// PRAGMA does not accept bound parameters
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", s.version)); err != nil {
			return fmt.Errorf("failed to record schema version for %s: %w", db.name, err)
		}
		return nil
	})
}

// SchemaVersion returns the recorded schema version, zero for a fresh file.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version for %s: %w", db.name, err)
	}
	return v, nil
}
