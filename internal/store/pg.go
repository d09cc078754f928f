package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGMemoryStore is a Postgres-backed MemoryStore, mirroring the pgx-pool
// convention of internal/audit.PGJournal — the managed-mode backend
// SPEC_FULL.md calls for alongside goclaw's internal/store/pg. Schema is
// expected to exist via the migrations in /migrations.
type PGMemoryStore struct {
	pool *pgxpool.Pool
}

func NewPGMemory(pool *pgxpool.Pool) *PGMemoryStore {
	return &PGMemoryStore{pool: pool}
}

func (s *PGMemoryStore) Write(ctx context.Context, sessionID string, scope Scope, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memory_entries (session_id, scope, key, value, updated)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (session_id, key) DO UPDATE SET scope = excluded.scope, value = excluded.value, updated = excluded.updated`,
		sessionID, string(scope), key, value)
	return err
}

func (s *PGMemoryStore) Read(ctx context.Context, sessionID, key string) (MemoryEntry, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT session_id, scope, key, value, updated FROM memory_entries WHERE session_id = $1 AND key = $2`, sessionID, key)
	var e MemoryEntry
	var scope string
	if err := row.Scan(&e.SessionID, &scope, &e.Key, &e.Value, &e.Updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MemoryEntry{}, false, nil
		}
		return MemoryEntry{}, false, err
	}
	e.Scope = Scope(scope)
	return e, true, nil
}

func (s *PGMemoryStore) Query(ctx context.Context, sessionID, query string, limit int) ([]MemoryEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, scope, key, value, updated FROM memory_entries
		WHERE session_id = $1 AND ($2 = '' OR key ILIKE '%'||$2||'%' OR value ILIKE '%'||$2||'%')
		ORDER BY updated DESC LIMIT $3`, sessionID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGMemoryRows(rows)
}

func (s *PGMemoryStore) Delete(ctx context.Context, sessionID, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memory_entries WHERE session_id = $1 AND key = $2`, sessionID, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGMemoryStore) List(ctx context.Context, sessionID string, limit int) ([]MemoryEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, scope, key, value, updated FROM memory_entries
		WHERE session_id = $1 ORDER BY updated DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGMemoryRows(rows)
}

func (s *PGMemoryStore) Close() error {
	s.pool.Close()
	return nil
}

// pgRows is the subset of pgx.Rows this file needs, so scanPGMemoryRows
// can serve both the Query and List result sets.
type pgRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPGMemoryRows(rows pgRows) ([]MemoryEntry, error) {
	var out []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		var scope string
		if err := rows.Scan(&e.SessionID, &scope, &e.Key, &e.Value, &e.Updated); err != nil {
			return nil, err
		}
		e.Scope = Scope(scope)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PGConversationJournal is a Postgres-backed ConversationJournal.
type PGConversationJournal struct {
	pool *pgxpool.Pool
}

func NewPGConversation(pool *pgxpool.Pool) *PGConversationJournal {
	return &PGConversationJournal{pool: pool}
}

func (j *PGConversationJournal) Append(ctx context.Context, turn Turn) error {
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := j.pool.Exec(ctx, `
		INSERT INTO conversation_turns (session_id, role, content, timestamp)
		VALUES ($1, $2, $3, $4)`, turn.SessionID, turn.Role, turn.Content, ts)
	return err
}

func (j *PGConversationJournal) History(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := j.pool.Query(ctx, `
		SELECT session_id, role, content, timestamp FROM (
			SELECT session_id, role, content, timestamp FROM conversation_turns
			WHERE session_id = $1 ORDER BY timestamp DESC LIMIT $2
		) recent ORDER BY timestamp ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.SessionID, &t.Role, &t.Content, &t.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *PGConversationJournal) Close() error {
	j.pool.Close()
	return nil
}
