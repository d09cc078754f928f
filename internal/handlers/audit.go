package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/cagehost/internal/audit"
	"github.com/nextlevelbuilder/cagehost/internal/dispatcher"
)

// auditQuery implements audit_query (spec §4.2/§4.5): a filtered read over
// the append-only journal. An agent is restricted to its own session's
// entries regardless of the session_id field it supplies, since the
// journal has no per-action access control of its own.
func (d Deps) auditQuery(ctx context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	if d.Journal == nil {
		return nil, fmt.Errorf("audit_query: no journal configured")
	}
	filter := audit.Filter{
		Action:    str(payload, "action"),
		SessionID: dctx.SessionID,
		Limit:     int(num(payload, "limit")),
	}
	if since := str(payload, "since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = t
		}
	}
	if until := str(payload, "until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			filter.Until = t
		}
	}

	entries, err := d.Journal.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("audit_query: %w", err)
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id": e.ID, "timestamp": e.Timestamp, "action": e.Action, "result": string(e.Result),
			"durationMs": e.DurationMs,
		})
	}
	return map[string]any{"entries": out}, nil
}
