package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS outbox (
	temp_id         TEXT PRIMARY KEY,
	seq             INTEGER NOT NULL,
	conversation_id TEXT NOT NULL,
	content         TEXT NOT NULL,
	type            TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	failed          TEXT NOT NULL DEFAULT ''
)`

type SQLite struct {
	Db *sql.DB
}

func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL for better concurrency
	_, _ = db.Exec(`PRAGMA journal_mode=WAL;`)

	// Wait up to 5s if locked
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000;`)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("outbox schema: %w", err)
	}
	return &SQLite{Db: db}, nil
}

func (s *SQLite) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.Db.QueryContext(ctx,
		`SELECT seq, temp_id, conversation_id, content, type, created_at, failed FROM outbox ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e   Entry
			typ string
			at  int64
		)
		if err := rows.Scan(&e.Seq, &e.TempID, &e.ConversationID, &e.Content, &typ, &at, &e.Failed); err != nil {
			return nil, err
		}
		e.Type = models.MessageType(typ)
		e.CreatedAt = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Put(ctx context.Context, e Entry) error {
	_, err := s.Db.ExecContext(ctx, `INSERT INTO outbox (temp_id, seq, conversation_id, content, type, created_at, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(temp_id) DO UPDATE SET seq=excluded.seq, conversation_id=excluded.conversation_id,
			content=excluded.content, type=excluded.type, created_at=excluded.created_at, failed=excluded.failed`,
		e.TempID, e.Seq, e.ConversationID, e.Content, string(e.Type), e.CreatedAt.UnixMilli(), e.Failed)
	return err
}

func (s *SQLite) Delete(ctx context.Context, tempID string) error {
	_, err := s.Db.ExecContext(ctx, `DELETE FROM outbox WHERE temp_id=?`, tempID)
	return err
}

func (s *SQLite) Close() error {
	return s.Db.Close()
}
