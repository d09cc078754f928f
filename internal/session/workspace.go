package session

import (
	"fmt"
	"os"
	"path/filepath"
)

// Tier names one of the three workspace subtrees a path request targets
// (spec §3 Workspace).
type Tier string

const (
	TierShared  Tier = "shared"  // agent-shared subtree, read-only to the sandboxed agent
	TierUser    Tier = "user"    // per-user subtree, read-write
	TierScratch Tier = "scratch" // per-session scratch subtree, read-write, deleted on session end
)

// Workspace is the on-disk layout rooted under a host-controlled base for
// one session, matching spec §6's filesystem layout:
//
//	<base>/agents/<agentID>/agent/...               (shared, RO)
//	<base>/agents/<agentID>/users/<userID>/workspace (user, RW)
//	<base>/scratch/<sessionID>                       (scratch, RW)
type Workspace struct {
	base    string
	agentID string
	userID  string
	id      ID
}

// NewWorkspace composes the workspace for a session. base must be absolute;
// agentID/userID address the shared and per-user tiers respectively.
func NewWorkspace(base, agentID, userID string, id ID) Workspace {
	return Workspace{base: base, agentID: agentID, userID: userID, id: id}
}

// Root returns the tier's root directory, computed deterministically:
// a UUID session id maps to a flat scratch directory; a colon-tuple id
// maps to nested directories, one per segment (spec §3 Session).
func (w Workspace) Root(tier Tier) string {
	switch tier {
	case TierShared:
		return filepath.Join(w.base, "agents", w.agentID, "agent")
	case TierUser:
		return filepath.Join(w.base, "agents", w.agentID, "users", w.userID, "workspace")
	case TierScratch:
		if w.id.IsUUID() {
			return filepath.Join(w.base, "scratch", w.id.String())
		}
		return filepath.Join(append([]string{w.base, "scratch"}, w.id.Segments()...)...)
	default:
		return ""
	}
}

// EnsureScratch creates the scratch tier directory if it doesn't exist.
func (w Workspace) EnsureScratch() error {
	return os.MkdirAll(w.Root(TierScratch), 0o755)
}

// DestroyScratch removes the scratch tier entirely — called on session end
// (spec §3 Workspace: "deleted on session end").
func (w Workspace) DestroyScratch() error {
	return os.RemoveAll(w.Root(TierScratch))
}

// ErrPathEscape is returned when a resolved path would fall outside its
// declared tier root (spec §3 invariant, §8 invariant 7).
type ErrPathEscape struct {
	Tier  Tier
	Path  string
	Root  string
}

func (e *ErrPathEscape) Error() string {
	return fmt.Sprintf("session: path %q escapes %s tier root %q", e.Path, e.Tier, e.Root)
}

// Resolve joins rel onto tier's root and validates that the resulting
// absolute path lies strictly inside that root — following symlinks so a
// symlink planted inside the tier can't redirect a later access outside
// it. Any ".." traversal (or symlink escape) fails with ErrPathEscape.
func (w Workspace) Resolve(tier Tier, rel string) (string, error) {
	root := w.Root(tier)
	if root == "" {
		return "", fmt.Errorf("session: unknown tier %q", tier)
	}

	var candidate string
	if filepath.IsAbs(rel) {
		candidate = filepath.Clean(rel)
	} else {
		candidate = filepath.Clean(filepath.Join(root, rel))
	}

	rootReal, err := filepath.EvalSymlinks(root)
	if err != nil {
		rootReal = root // tier root may not exist yet (e.g. fresh scratch)
	}

	real, err := resolveThroughExistingAncestors(candidate)
	if err != nil {
		return "", &ErrPathEscape{Tier: tier, Path: rel, Root: root}
	}

	if !isPathInside(real, rootReal) {
		return "", &ErrPathEscape{Tier: tier, Path: rel, Root: root}
	}
	return real, nil
}

// resolveThroughExistingAncestors follows symlinks on the longest existing
// prefix of path, then rejoins the non-existent suffix, so a path that
// doesn't exist yet (e.g. a file about to be written) can still be
// validated against its tier root.
func resolveThroughExistingAncestors(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}
	dir := filepath.Dir(path)
	if dir == path {
		return "", fmt.Errorf("session: cannot resolve %q", path)
	}
	parentReal, err := resolveThroughExistingAncestors(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(parentReal, filepath.Base(path)), nil
}

func isPathInside(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.' &&
		(len(rel) == 2 || rel[2] == filepath.Separator)
}
