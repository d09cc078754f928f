package handlers

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/cagehost/internal/dispatcher"
	"github.com/nextlevelbuilder/cagehost/internal/store"
)

// memoryWrite implements memory_write: key/value under the requested
// scope (default "session"), per spec §4.2's memory_write schema.
func (d Deps) memoryWrite(ctx context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	key, value := str(payload, "key"), str(payload, "value")
	scope := store.Scope(str(payload, "scope"))
	if scope == "" {
		scope = store.ScopeSession
	}
	if err := d.Memory.Write(ctx, dctx.SessionID, scope, key, value); err != nil {
		return nil, fmt.Errorf("memory_write: %w", err)
	}
	return map[string]any{"key": key}, nil
}

func (d Deps) memoryRead(ctx context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	key := str(payload, "key")
	entry, found, err := d.Memory.Read(ctx, dctx.SessionID, key)
	if err != nil {
		return nil, fmt.Errorf("memory_read: %w", err)
	}
	if !found {
		return map[string]any{"found": false}, nil
	}
	return map[string]any{"found": true, "value": entry.Value, "scope": string(entry.Scope)}, nil
}

func (d Deps) memoryQuery(ctx context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	query := str(payload, "query")
	limit := int(num(payload, "limit"))
	entries, err := d.Memory.Query(ctx, dctx.SessionID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("memory_query: %w", err)
	}
	return map[string]any{"results": memoryEntriesToFields(entries)}, nil
}

func (d Deps) memoryDelete(ctx context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	key := str(payload, "key")
	deleted, err := d.Memory.Delete(ctx, dctx.SessionID, key)
	if err != nil {
		return nil, fmt.Errorf("memory_delete: %w", err)
	}
	return map[string]any{"deleted": deleted}, nil
}

func (d Deps) memoryList(ctx context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	limit := int(num(payload, "limit"))
	entries, err := d.Memory.List(ctx, dctx.SessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory_list: %w", err)
	}
	return map[string]any{"entries": memoryEntriesToFields(entries)}, nil
}

func memoryEntriesToFields(entries []store.MemoryEntry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"key": e.Key, "value": e.Value, "scope": string(e.Scope), "updated": e.Updated,
		})
	}
	return out
}
