package gateway

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/cagehost/internal/session"
)

// sessionWorkspace adapts internal/session.Workspace's scratch tier to the
// gateway's TurnWorkspace contract: each completion gets its own scratch
// subtree, populated with the agent's skills and context files, and torn
// down once the turn finishes (spec §4.11 step 3 and "Cleanup").
type sessionWorkspace struct {
	ws session.Workspace
}

// NewWorkspaceFactory builds the WorkspaceFactory the gateway uses to
// stand up one scratch workspace per completion, rooted under base and
// scoped to agentID. Session IDs that are not yet valid per
// session.Parse are rejected here rather than at the HTTP layer, so every
// caller of WorkspaceRoot gets the same validation.
func NewWorkspaceFactory(base, agentID, userID string) WorkspaceFactory {
	return func(sessionID string) (TurnWorkspace, error) {
		id, err := session.Parse(sessionID)
		if err != nil {
			return nil, fmt.Errorf("gateway: %w", err)
		}
		ws := session.NewWorkspace(base, agentID, userID, id)
		if err := ws.EnsureScratch(); err != nil {
			return nil, fmt.Errorf("gateway: creating scratch workspace: %w", err)
		}
		return &sessionWorkspace{ws: ws}, nil
	}
}

func (w *sessionWorkspace) Path() string {
	return w.ws.Root(session.TierScratch)
}

// WriteSkills copies every file directly under skillsDir into the
// workspace's skills/ subdirectory (spec §4.11 step 3: "Copy skills into
// it"). A missing skillsDir is not an error — an agent with no
// configured skills still gets a workspace.
func (w *sessionWorkspace) WriteSkills(skillsDir string) error {
	if skillsDir == "" {
		return nil
	}
	entries, err := os.ReadDir(skillsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("gateway: reading skills dir: %w", err)
	}

	dest := filepath.Join(w.Path(), "skills")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("gateway: creating skills dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(skillsDir, entry.Name()), filepath.Join(dest, entry.Name())); err != nil {
			return fmt.Errorf("gateway: copying skill %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// WriteFile writes name (relative to the workspace root) with content,
// used for CONTEXT.md and the raw user message (spec §4.11 step 3).
func (w *sessionWorkspace) WriteFile(name, content string) error {
	path, err := w.ws.Resolve(session.TierScratch, name)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func (w *sessionWorkspace) Destroy() error {
	return w.ws.DestroyScratch()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// newScratchSessionID generates a fresh UUID-form session id, used when a
// completion request omits session_id (spec §6: session ids are either
// supplied or implicitly assigned per request).
func newScratchSessionID() string {
	return uuid.NewString()
}
