package handlers

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/cagehost/internal/dispatcher"
	"github.com/nextlevelbuilder/cagehost/internal/store"
)

// identityWrite persists agent-identity facts (spec §4.2 identity_write).
// Like every memory entry they are keyed by session id and key, so only a
// read from the same session finds them; the agent scope is a stored label.
func (d Deps) identityWrite(ctx context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	key, value := str(payload, "key"), str(payload, "value")
	if err := d.Memory.Write(ctx, dctx.SessionID, store.ScopeAgent, identityKey(key), value); err != nil {
		return nil, fmt.Errorf("identity_write: %w", err)
	}
	return map[string]any{"key": key}, nil
}

// userWrite persists per-user facts (spec §4.2 user_write), scoped to the
// user tier.
func (d Deps) userWrite(ctx context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	key, value := str(payload, "key"), str(payload, "value")
	if err := d.Memory.Write(ctx, dctx.SessionID, store.ScopeUser, userKey(key), value); err != nil {
		return nil, fmt.Errorf("user_write: %w", err)
	}
	return map[string]any{"key": key}, nil
}

// identityKey/userKey namespace these two write families within the same
// per-session memory key space that memory_write shares, so an
// identity_write and a memory_write can never collide on the same literal
// key.
func identityKey(key string) string { return "identity:" + key }
func userKey(key string) string     { return "user:" + key }
