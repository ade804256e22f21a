package database

import (
	"context"
	"fmt"
)

// InitSchema loads schemaSQL into an empty database. An existing subtitles
// table means the schema is already in place and later changes are left to
// Migrate.
func (db *DB) InitSchema(ctx context.Context, schemaSQL []byte) error {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'subtitles')`,
	).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		db.log.Debug().Msg("subtitles table present")
		return nil
	}

	db.log.Info().Msg("empty database, loading schema")
	if _, err := db.Pool.Exec(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	return nil
}
