package sandbox

import (
	"context"
	"fmt"
)

// Manager selects an isolation Backend and spawns agent processes through
// it. Selection is a function of explicit config and probe results: an
// operator-forced backend wins if available, otherwise the first available
// backend in Backends order is used — strongest isolation first, so a host
// that can run namespaces or seatbelt never silently falls back to the bare
// subprocess backend.
type Manager struct {
	Backends []Backend
	Forced   string // backend Name() to force, or "" for auto-probe
}

// NewManager builds a Manager with the host's backends ordered strongest
// isolation first. Platform-specific backends are appended by the caller
// (cmd/ wiring) since their constructors only exist under the matching
// build tag.
func NewManager(backends ...Backend) *Manager {
	return &Manager{Backends: backends}
}

// Select returns the backend that will serve the next Spawn call.
func (m *Manager) Select(ctx context.Context) (Backend, error) {
	if m.Forced != "" {
		for _, b := range m.Backends {
			if b.Name() == m.Forced {
				if !b.IsAvailable(ctx) {
					return nil, fmt.Errorf("sandbox: forced backend %q is not available on this host", m.Forced)
				}
				return b, nil
			}
		}
		return nil, fmt.Errorf("sandbox: forced backend %q is not registered", m.Forced)
	}

	for _, b := range m.Backends {
		if b.IsAvailable(ctx) {
			return b, nil
		}
	}
	return nil, fmt.Errorf("sandbox: no available backend among %d registered", len(m.Backends))
}

// Spawn selects a backend and starts spec under it.
func (m *Manager) Spawn(ctx context.Context, spec Spec) (*Process, Backend, error) {
	b, err := m.Select(ctx)
	if err != nil {
		return nil, nil, err
	}
	proc, err := b.Spawn(ctx, spec)
	if err != nil {
		return nil, b, err
	}
	return proc, b, nil
}
