package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteJournal is a modernc.org/sqlite-backed Journal for single-node and
// test deployments, mirroring the column layout of PGJournal so the two
// backends stay interchangeable.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the journal database at path and
// ensures its schema exists.
func OpenSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	session_id TEXT NOT NULL,
	action TEXT NOT NULL,
	args TEXT,
	result TEXT NOT NULL,
	taint TEXT,
	duration_ms INTEGER,
	token_usage TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action);
CREATE INDEX IF NOT EXISTS idx_audit_entries_session_id ON audit_entries(session_id);
CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp);
`

func (j *SQLiteJournal) Log(_ context.Context, entry Entry) (Entry, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	argsJSON, _ := json.Marshal(entry.Args)
	taintJSON, _ := json.Marshal(entry.Taint)
	tokenJSON, _ := json.Marshal(entry.TokenUsage)

	res, err := j.db.Exec(
		`INSERT INTO audit_entries (timestamp, session_id, action, args, result, taint, duration_ms, token_usage)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.Format(time.RFC3339Nano), entry.SessionID, entry.Action, string(argsJSON),
		string(entry.Result), string(taintJSON), entry.DurationMs, string(tokenJSON),
	)
	if err != nil {
		return Entry{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id
	return entry, nil
}

func (j *SQLiteJournal) Query(_ context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	since, until := "", ""
	if !filter.Since.IsZero() {
		since = filter.Since.Format(time.RFC3339Nano)
	}
	if !filter.Until.IsZero() {
		until = filter.Until.Format(time.RFC3339Nano)
	}

	rows, err := j.db.Query(`
		SELECT id, timestamp, session_id, action, args, result, taint, duration_ms, token_usage
		FROM audit_entries
		WHERE (? = '' OR action = ?)
		  AND (? = '' OR session_id = ?)
		  AND (? = '' OR timestamp >= ?)
		  AND (? = '' OR timestamp <= ?)
		ORDER BY timestamp DESC
		LIMIT ?`,
		filter.Action, filter.Action, filter.SessionID, filter.SessionID, since, since, until, until, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts, argsJSON, result, taintJSON, tokenJSON string
		if err := rows.Scan(&e.ID, &ts, &e.SessionID, &e.Action, &argsJSON, &result, &taintJSON, &e.DurationMs, &tokenJSON); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Result = Result(result)
		json.Unmarshal([]byte(argsJSON), &e.Args)
		json.Unmarshal([]byte(taintJSON), &e.Taint)
		json.Unmarshal([]byte(tokenJSON), &e.TokenUsage)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, k := 0, len(entries)-1; i < k; i, k = i+1, k-1 {
		entries[i], entries[k] = entries[k], entries[i]
	}
	return entries, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
