package database

import (
	"context"
	"fmt"
	"strings"
)

type migration struct {
	name    string
	sql     string
	applied string // SELECT returning true once the change is present
}

// migrations run in order on every start. Each statement must be safe to
// re-run.
var migrations = []migration{
	{
		name:    "index subtitles by owner and recency",
		sql:     `CREATE INDEX IF NOT EXISTS idx_subtitles_user_updated ON subtitles (user_id, updated_at DESC)`,
		applied: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_subtitles_user_updated')`,
	},
	{
		name: "require subtitles.content to be an array",
		sql: `ALTER TABLE subtitles DROP CONSTRAINT IF EXISTS subtitles_content_array;
ALTER TABLE subtitles ADD CONSTRAINT subtitles_content_array CHECK (jsonb_typeof(content) = 'array')`,
		applied: `SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'subtitles_content_array')`,
	},
}

func (db *DB) isApplied(ctx context.Context, m migration) bool {
	if m.applied == "" {
		return false
	}
	var ok bool
	return db.Pool.QueryRow(ctx, m.applied).Scan(&ok) == nil && ok
}

// Migrate brings an existing database up to date. A failure is fatal to
// startup: the subtitle queries rely on every migration being present.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if !db.isApplied(ctx, m) {
			pending = append(pending, m)
		}
	}

	for i, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{failed: m, pending: pending[i:], err: err}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
	}
	if len(pending) > 0 {
		db.log.Info().Int("applied", len(pending)).Msg("schema up to date")
	}
	return nil
}

// MigrationError carries the SQL an operator needs to finish the remaining
// migrations by hand, typically when the service role lacks DDL privileges.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Apply these statements as a privileged role, then restart subtitle-engine:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	return b.String()
}

func (e *MigrationError) Unwrap() error { return e.err }
