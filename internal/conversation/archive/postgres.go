// Package archive persists expired conversation sessions to PostgreSQL.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/aria/internal/conversation"
)

const sessionsDDL = `
CREATE TABLE IF NOT EXISTS conversation_sessions (
	session_id  TEXT        PRIMARY KEY,
	language    TEXT        NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	exchanges   INT         NOT NULL
);`

const exchangesDDL = `
CREATE TABLE IF NOT EXISTS conversation_exchanges (
	id          BIGSERIAL   PRIMARY KEY,
	session_id  TEXT        NOT NULL REFERENCES conversation_sessions(session_id) ON DELETE CASCADE,
	seq         INT         NOT NULL,
	role        TEXT        NOT NULL,
	text        TEXT        NOT NULL,
	raw_text    TEXT        NOT NULL DEFAULT '',
	intent_name TEXT        NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_exchanges_session
	ON conversation_exchanges (session_id, seq);`

// PostgresArchive writes evicted session histories to PostgreSQL. It
// implements [conversation.Archiver].
type PostgresArchive struct {
	pool *pgxpool.Pool
}

var _ conversation.Archiver = (*PostgresArchive)(nil)

// NewPostgresArchive connects to the database, verifies connectivity, and
// creates the archive tables if they do not exist.
func NewPostgresArchive(ctx context.Context, dsn string) (*PostgresArchive, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	a := &PostgresArchive{pool: pool}
	if err := a.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

func (a *PostgresArchive) migrate(ctx context.Context) error {
	for _, ddl := range []string{sessionsDDL, exchangesDDL} {
		if _, err := a.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("archive: migrate: %w", err)
		}
	}
	return nil
}

// ArchiveSession writes the session row and its full retained history in one
// transaction. Sessions with an empty history are skipped.
func (a *PostgresArchive) ArchiveSession(ctx context.Context, c *conversation.Context) error {
	history := c.History()
	if len(history) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSession = `
INSERT INTO conversation_sessions (session_id, language, created_at, exchanges)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id) DO UPDATE
	SET language = EXCLUDED.language,
	    archived_at = now(),
	    exchanges = conversation_sessions.exchanges + EXCLUDED.exchanges`
	if _, err := tx.Exec(ctx, insertSession,
		c.SessionID(), c.Language(), c.CreatedAt(), len(history)); err != nil {
		return fmt.Errorf("archive: write session: %w", err)
	}

	const insertExchange = `
INSERT INTO conversation_exchanges (session_id, seq, role, text, raw_text, intent_name, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for i, e := range history {
		if _, err := tx.Exec(ctx, insertExchange,
			c.SessionID(), i, e.Role, e.Text, e.RawText, e.IntentName, e.Timestamp); err != nil {
			return fmt.Errorf("archive: write exchange: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	slog.Debug("session archived", "session", c.SessionID(), "exchanges", len(history))
	return nil
}

// Close releases the connection pool.
func (a *PostgresArchive) Close() {
	a.pool.Close()
}
