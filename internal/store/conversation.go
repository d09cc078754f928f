package store

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// Turn is one message in a session's conversation history (spec §4.11
// step 4: "Load prior conversation turns for the session from the
// abstract conversation journal"), mirroring the teacher's
// providers.Message shape trimmed to role/content.
type Turn struct {
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"` // "user" | "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationJournal persists the per-session turn history the
// completions gateway loads before spawning an agent and appends to
// after a turn completes (spec §4.11 steps 4 and 8).
type ConversationJournal interface {
	Append(ctx context.Context, turn Turn) error
	History(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	Close() error
}

// MemoryConversationJournal is an in-process ConversationJournal for tests
// and the subprocess dev profile.
type MemoryConversationJournal struct {
	mu    sync.Mutex
	turns map[string][]Turn
}

func NewMemoryConversationJournal() *MemoryConversationJournal {
	return &MemoryConversationJournal{turns: make(map[string][]Turn)}
}

func (j *MemoryConversationJournal) Append(_ context.Context, turn Turn) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	j.turns[turn.SessionID] = append(j.turns[turn.SessionID], turn)
	return nil
}

func (j *MemoryConversationJournal) History(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	turns := j.turns[sessionID]
	if limit <= 0 || len(turns) <= limit {
		out := make([]Turn, len(turns))
		copy(out, turns)
		return out, nil
	}
	out := make([]Turn, limit)
	copy(out, turns[len(turns)-limit:])
	return out, nil
}

func (j *MemoryConversationJournal) Close() error { return nil }

// SQLiteConversationJournal is a modernc.org/sqlite-backed
// ConversationJournal, matching the audit package's backend conventions.
type SQLiteConversationJournal struct {
	db *sql.DB
}

func OpenSQLiteConversation(path string) (*SQLiteConversationJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteConversationSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteConversationJournal{db: db}, nil
}

const sqliteConversationSchema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_turns_session ON conversation_turns(session_id, id);
`

func (j *SQLiteConversationJournal) Append(_ context.Context, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	_, err := j.db.Exec(`INSERT INTO conversation_turns (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		turn.SessionID, turn.Role, turn.Content, turn.Timestamp.Format(time.RFC3339Nano))
	return err
}

func (j *SQLiteConversationJournal) History(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 1 << 20
	}
	rows, err := j.db.Query(`SELECT session_id, role, content, timestamp FROM conversation_turns
		WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var ts string
		if err := rows.Scan(&t.SessionID, &t.Role, &t.Content, &ts); err != nil {
			return nil, err
		}
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Timestamp.Before(out[k].Timestamp) })
	return out, nil
}

func (j *SQLiteConversationJournal) Close() error { return j.db.Close() }
