package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/cagehost/internal/dispatcher"
)

// Skills are read from a fixed, bounded directory per spec §9 ("Dynamic
// file-format discovery... specify as read all files matching a suffix in
// a fixed directory with bounded size and count, never as reflection").
const (
	maxSkillFileBytes = 1 << 20 // 1 MiB
	maxSkillCount     = 500
	skillSuffix       = ".md"
)

func (d Deps) skillList(_ context.Context, _ dispatcher.Context, _ map[string]any) (map[string]any, error) {
	if d.SkillsDir == "" {
		return map[string]any{"skills": []string{}}, nil
	}
	entries, err := os.ReadDir(d.SkillsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"skills": []string{}}, nil
		}
		return nil, fmt.Errorf("skill_list: %w", err)
	}
	var names []string
	for _, e := range entries {
		if len(names) >= maxSkillCount {
			break
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), skillSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), skillSuffix))
	}
	return map[string]any{"skills": names}, nil
}

func (d Deps) skillRead(_ context.Context, _ dispatcher.Context, payload map[string]any) (map[string]any, error) {
	name := str(payload, "name")
	path, err := d.resolveSkillPath(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("skill_read: %w", err)
	}
	if info.Size() > maxSkillFileBytes {
		return nil, fmt.Errorf("skill_read: %q exceeds the %d-byte skill size cap", name, maxSkillFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("skill_read: %w", err)
	}
	return map[string]any{"name": name, "content": string(data)}, nil
}

// skillPropose records a proposed new or modified skill for human review
// rather than writing it directly into the read-only skills tier (spec §4.2
// skill_propose; the agent-shared subtree is read-only to the sandboxed
// agent per spec §3 Workspace).
func (d Deps) skillPropose(_ context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	if d.Proposals == nil {
		return nil, fmt.Errorf("skill_propose: no proposal store configured")
	}
	p := d.Proposals.Create(dctx.SessionID, str(payload, "name"), str(payload, "content"))
	return map[string]any{"proposalId": p.ID}, nil
}

func (d Deps) resolveSkillPath(name string) (string, error) {
	if d.SkillsDir == "" {
		return "", fmt.Errorf("skill: no skills directory configured")
	}
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("skill: invalid skill name %q", name)
	}
	return filepath.Join(d.SkillsDir, name+skillSuffix), nil
}
