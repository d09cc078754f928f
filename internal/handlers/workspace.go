package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/cagehost/internal/dispatcher"
	"github.com/nextlevelbuilder/cagehost/internal/session"
)

const maxWorkspaceListEntries = 2000

// resolveWorkspacePath resolves a request path against the session's
// scratch tier, the only tier an in-flight dispatcher handler writes to
// directly — the shared and user tiers are composed read-only into the
// sandbox mount set by the sandbox manager (spec §3 Workspace invariant).
func (d Deps) resolveWorkspacePath(sessionID, rel string) (string, error) {
	if d.Workspace == nil {
		return "", fmt.Errorf("workspace: no workspace resolver configured")
	}
	ws := d.Workspace(sessionID)
	resolved, err := ws.Resolve(session.TierScratch, rel)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

func (d Deps) workspaceRead(_ context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	path, err := d.resolveWorkspacePath(dctx.SessionID, str(payload, "path"))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workspace_read: %w", err)
	}
	return map[string]any{"content": string(data)}, nil
}

func (d Deps) workspaceWrite(_ context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	path, err := d.resolveWorkspacePath(dctx.SessionID, str(payload, "path"))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("workspace_write: %w", err)
	}
	if err := os.WriteFile(path, []byte(str(payload, "content")), 0o644); err != nil {
		return nil, fmt.Errorf("workspace_write: %w", err)
	}
	return map[string]any{"path": str(payload, "path")}, nil
}

func (d Deps) workspaceList(_ context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	rel := str(payload, "path")
	path, err := d.resolveWorkspacePath(dctx.SessionID, rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("workspace_list: %w", err)
	}
	names := make([]string, 0, len(entries))
	for i, e := range entries {
		if i >= maxWorkspaceListEntries {
			break
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return map[string]any{"entries": names}, nil
}
