package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema is idempotent; statements run in order.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
		id            BIGSERIAL PRIMARY KEY,
		received_at   TIMESTAMPTZ NOT NULL,
		notified_at   TIMESTAMPTZ,
		index_name    TEXT NOT NULL,
		collection    TEXT NOT NULL,
		kind          TEXT NOT NULL,
		event         TEXT,
		scope         TEXT NOT NULL,
		document_id   TEXT,
		users_in_room INTEGER,
		payload       JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_target_idx
		ON notifications (index_name, collection, received_at)`,
	`CREATE INDEX IF NOT EXISTS notifications_document_idx
		ON notifications (document_id) WHERE document_id IS NOT NULL`,
}

// EnsureSchema creates the journal table and indexes if missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
