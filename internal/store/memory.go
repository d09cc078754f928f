// Package store implements the abstract key/value memory store and
// conversation journal referenced by spec §2 ("treated abstractly as a
// key/value log and a message/conversation journal") and exercised by the
// memory_* and completions-gateway history actions. Grounded on the
// teacher's SessionStore interface-plus-backend split
// (internal/store/session_store.go): entries are addressed by
// {sessionID, key}, and spec §4.2's memory_write "scope" field is kept
// on each entry as a stored label.
package store

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Scope names the visibility tier a memory entry is written under, per
// the memory_write action schema's scope enum.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeUser    Scope = "user"
	ScopeAgent   Scope = "agent"
)

// MemoryEntry is one key/value record in the memory store.
type MemoryEntry struct {
	SessionID string    `json:"sessionId"`
	Scope     Scope     `json:"scope"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Updated   time.Time `json:"updated"`
}

// MemoryStore backs memory_{write,query,read,delete,list}. Query performs
// a substring match over keys and values — the spec leaves retrieval
// semantics to the implementation; full-text or vector search are valid
// future backends behind this same interface.
type MemoryStore interface {
	Write(ctx context.Context, sessionID string, scope Scope, key, value string) error
	Read(ctx context.Context, sessionID string, key string) (MemoryEntry, bool, error)
	Query(ctx context.Context, sessionID, query string, limit int) ([]MemoryEntry, error)
	Delete(ctx context.Context, sessionID, key string) (bool, error)
	List(ctx context.Context, sessionID string, limit int) ([]MemoryEntry, error)
	Close() error
}

// MemoryKV is an in-process MemoryStore, suitable for tests and the
// subprocess-backend dev profile.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]MemoryEntry // keyed by sessionID + "\x00" + key
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]MemoryEntry)}
}

func memKey(sessionID, key string) string { return sessionID + "\x00" + key }

func (m *MemoryKV) Write(_ context.Context, sessionID string, scope Scope, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memKey(sessionID, key)] = MemoryEntry{
		SessionID: sessionID, Scope: scope, Key: key, Value: value, Updated: time.Now().UTC(),
	}
	return nil
}

func (m *MemoryKV) Read(_ context.Context, sessionID, key string) (MemoryEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[memKey(sessionID, key)]
	return e, ok, nil
}

func (m *MemoryKV) Query(_ context.Context, sessionID, query string, limit int) ([]MemoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MemoryEntry
	for _, e := range m.entries {
		if e.SessionID != sessionID {
			continue
		}
		if query == "" || containsFold(e.Key, query) || containsFold(e.Value, query) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.Before(out[j].Updated) })
	return applyLimit(out, limit), nil
}

func (m *MemoryKV) Delete(_ context.Context, sessionID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(sessionID, key)
	if _, ok := m.entries[k]; !ok {
		return false, nil
	}
	delete(m.entries, k)
	return true, nil
}

func (m *MemoryKV) List(_ context.Context, sessionID string, limit int) ([]MemoryEntry, error) {
	return m.Query(context.Background(), sessionID, "", limit)
}

func (m *MemoryKV) Close() error { return nil }

func containsFold(haystack, needle string) bool {
	return len(needle) == 0 || indexFold(haystack, needle) >= 0
}

func applyLimit(entries []MemoryEntry, limit int) []MemoryEntry {
	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	return entries[len(entries)-limit:]
}

// SQLiteMemoryStore is a modernc.org/sqlite-backed MemoryStore, mirroring
// the audit package's sqlite journal conventions.
type SQLiteMemoryStore struct {
	db *sql.DB
}

func OpenSQLiteMemory(path string) (*SQLiteMemoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteMemorySchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteMemoryStore{db: db}, nil
}

const sqliteMemorySchema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	session_id TEXT NOT NULL,
	scope TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated TEXT NOT NULL,
	PRIMARY KEY (session_id, key)
);
`

func (s *SQLiteMemoryStore) Write(_ context.Context, sessionID string, scope Scope, key, value string) error {
	_, err := s.db.Exec(`INSERT INTO memory_entries (session_id, scope, key, value, updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, key) DO UPDATE SET scope=excluded.scope, value=excluded.value, updated=excluded.updated`,
		sessionID, string(scope), key, value, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteMemoryStore) Read(_ context.Context, sessionID, key string) (MemoryEntry, bool, error) {
	row := s.db.QueryRow(`SELECT session_id, scope, key, value, updated FROM memory_entries WHERE session_id=? AND key=?`, sessionID, key)
	e, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		return MemoryEntry{}, false, nil
	}
	if err != nil {
		return MemoryEntry{}, false, err
	}
	return e, true, nil
}

func (s *SQLiteMemoryStore) Query(_ context.Context, sessionID, query string, limit int) ([]MemoryEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(`SELECT session_id, scope, key, value, updated FROM memory_entries
		WHERE session_id = ? AND (? = '' OR key LIKE '%'||?||'%' OR value LIKE '%'||?||'%')
		ORDER BY updated DESC LIMIT ?`, sessionID, query, query, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemoryRows(rows)
}

func (s *SQLiteMemoryStore) Delete(_ context.Context, sessionID, key string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM memory_entries WHERE session_id=? AND key=?`, sessionID, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteMemoryStore) List(_ context.Context, sessionID string, limit int) ([]MemoryEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(`SELECT session_id, scope, key, value, updated FROM memory_entries
		WHERE session_id = ? ORDER BY updated DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemoryRows(rows)
}

func (s *SQLiteMemoryStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanMemoryRow(row scanner) (MemoryEntry, error) {
	var e MemoryEntry
	var scope, updated string
	if err := row.Scan(&e.SessionID, &scope, &e.Key, &e.Value, &updated); err != nil {
		return MemoryEntry{}, err
	}
	e.Scope = Scope(scope)
	e.Updated, _ = time.Parse(time.RFC3339Nano, updated)
	return e, nil
}

func collectMemoryRows(rows *sql.Rows) ([]MemoryEntry, error) {
	var out []MemoryEntry
	for rows.Next() {
		e, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// indexFold is a tiny ASCII case-insensitive substring search: it
// lower-cases both operands and returns the index of needle in haystack.
func indexFold(haystack, needle string) int {
	hl, nl := []rune(toLower(haystack)), []rune(toLower(needle))
	if len(nl) == 0 {
		return 0
	}
	if len(nl) > len(hl) {
		return -1
	}
	for i := 0; i+len(nl) <= len(hl); i++ {
		if string(hl[i:i+len(nl)]) == string(nl) {
			return i
		}
	}
	return -1
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

