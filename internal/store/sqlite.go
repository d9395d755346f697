package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"parley/internal/codec"
	"parley/internal/provider"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	session_id   TEXT    NOT NULL,
	seq          INTEGER NOT NULL,
	role         TEXT    NOT NULL,
	content      TEXT    NOT NULL,
	tool_calls   BLOB,
	tool_call_id TEXT    NOT NULL DEFAULT '',
	name         TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, seq)
);
CREATE TABLE IF NOT EXISTS archives (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT    NOT NULL,
	archived_at INTEGER NOT NULL,
	payload     BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS archives_session ON archives (session_id, id);
`

// SQLite stores turns one row each. Tool calls are CBOR-encoded; archives
// hold zstd-compressed CBOR batches of removed turns.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// from splitting across the pool.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) ConversationHistory(ctx context.Context, sessionID string) ([]provider.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, tool_calls, tool_call_id, name FROM turns WHERE session_id = ? ORDER BY seq",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var turns []provider.Turn
	for rows.Next() {
		var (
			turn  provider.Turn
			role  string
			calls []byte
		)
		if err := rows.Scan(&role, &turn.Content, &calls, &turn.ToolCallID, &turn.Name); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		turn.Role = provider.Role(role)
		if len(calls) > 0 {
			if err := codec.Unmarshal(calls, &turn.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return turns, nil
}

func (s *SQLite) AppendTurns(ctx context.Context, sessionID string, turns []provider.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var next int64
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(seq), -1) + 1 FROM turns WHERE session_id = ?", sessionID).Scan(&next); err != nil {
			return fmt.Errorf("next seq: %w", err)
		}
		return insertTurns(ctx, tx, sessionID, next, turns)
	})
}

func (s *SQLite) ReplaceHistory(ctx context.Context, sessionID string, turns []provider.Turn) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", sessionID); err != nil {
			return fmt.Errorf("clear turns: %w", err)
		}
		return insertTurns(ctx, tx, sessionID, 0, turns)
	})
}

func (s *SQLite) DeleteHistory(ctx context.Context, sessionID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", sessionID); err != nil {
			return fmt.Errorf("delete turns: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM archives WHERE session_id = ?", sessionID); err != nil {
			return fmt.Errorf("delete archives: %w", err)
		}
		return nil
	})
}

func (s *SQLite) Archive(ctx context.Context, sessionID string, removed []provider.Turn) error {
	if len(removed) == 0 {
		return nil
	}
	payload, err := codec.Compress(removed)
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO archives (session_id, archived_at, payload) VALUES (?, ?, ?)",
		sessionID, s.now().UnixMilli(), payload)
	if err != nil {
		return fmt.Errorf("insert archive: %w", err)
	}
	return nil
}

func (s *SQLite) Archived(ctx context.Context, sessionID string) ([]provider.Turn, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM archives WHERE session_id = ? ORDER BY id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []provider.Turn
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		var batch []provider.Turn
		if err := codec.Decompress(payload, &batch); err != nil {
			return nil, fmt.Errorf("decode archive: %w", err)
		}
		out = append(out, batch...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func (s *SQLite) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertTurns(ctx context.Context, tx *sql.Tx, sessionID string, seq int64, turns []provider.Turn) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO turns (session_id, seq, role, content, tool_calls, tool_call_id, name) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, turn := range turns {
		var calls []byte
		if len(turn.ToolCalls) > 0 {
			if calls, err = codec.Marshal(turn.ToolCalls); err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx, sessionID, seq+int64(i), string(turn.Role), turn.Content, calls, turn.ToolCallID, turn.Name); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	return nil
}
