package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGJournal is a Postgres-backed Journal, grounded on the pgx pool and
// JSON-column conventions of the Postgres session store this host's
// teacher ships: one JSON column per loosely-structured field, scanned
// back with json.Unmarshal rather than a generated ORM mapping.
type PGJournal struct {
	pool *pgxpool.Pool
}

// NewPG wraps an already-connected pool. Schema is expected to exist via
// the migrations in migrations/ (0001_audit_entries).
func NewPG(pool *pgxpool.Pool) *PGJournal {
	return &PGJournal{pool: pool}
}

func (j *PGJournal) Log(ctx context.Context, entry Entry) (Entry, error) {
	argsJSON, err := json.Marshal(entry.Args)
	if err != nil {
		return Entry{}, err
	}
	taintJSON, err := json.Marshal(entry.Taint)
	if err != nil {
		return Entry{}, err
	}
	tokenJSON, err := json.Marshal(entry.TokenUsage)
	if err != nil {
		return Entry{}, err
	}

	row := j.pool.QueryRow(ctx, `
		INSERT INTO audit_entries (timestamp, session_id, action, args, result, taint, duration_ms, token_usage)
		VALUES (COALESCE(NULLIF($1, '0001-01-01 00:00:00+00'::timestamptz), now()), $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, timestamp`,
		entry.Timestamp, entry.SessionID, entry.Action, argsJSON, string(entry.Result), taintJSON, entry.DurationMs, tokenJSON,
	)
	if err := row.Scan(&entry.ID, &entry.Timestamp); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (j *PGJournal) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	rows, err := j.pool.Query(ctx, `
		SELECT id, timestamp, session_id, action, args, result, taint, duration_ms, token_usage
		FROM audit_entries
		WHERE ($1 = '' OR action = $1)
		  AND ($2 = '' OR session_id = $2)
		  AND ($3::timestamptz IS NULL OR timestamp >= $3)
		  AND ($4::timestamptz IS NULL OR timestamp <= $4)
		ORDER BY timestamp DESC
		LIMIT $5`,
		filter.Action, filter.SessionID, nullableTime(filter.Since), nullableTime(filter.Until), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var argsJSON, taintJSON, tokenJSON []byte
		var result string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.SessionID, &e.Action, &argsJSON, &result, &taintJSON, &e.DurationMs, &tokenJSON); err != nil {
			return nil, err
		}
		e.Result = Result(result)
		json.Unmarshal(argsJSON, &e.Args)
		json.Unmarshal(taintJSON, &e.Taint)
		json.Unmarshal(tokenJSON, &e.TokenUsage)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query fetched most-recent-first to apply LIMIT meaningfully; restore
	// ascending order before returning (spec §4.5).
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (j *PGJournal) Close() error {
	j.pool.Close()
	return nil
}

func nullableTime(t interface{ IsZero() bool }) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
