// Package taint implements the per-session taint budget of spec §4.4: a
// pair of monotonic byte counters (trusted vs. external) whose ratio gates
// a fixed set of dangerous action classes.
package taint

import (
	"sync"

	"github.com/nextlevelbuilder/cagehost/pkg/protocol"
)

// Trust names the origin of a byte span counted into a session's budget.
type Trust string

const (
	TrustUser     Trust = "user"
	TrustExternal Trust = "external"
	TrustSystem   Trust = "system"
)

// Policy is the static, deployment-level configuration of which action
// classes are gated and at what externalRatio threshold (spec §9 Open
// Questions: "the exact list of gated actions and their taint threshold
// per deployment profile" — resolved here as an explicit, constructible
// value rather than a hardcoded list).
type Policy struct {
	// Threshold is the externalRatio above which a gated action is denied.
	Threshold float64
	// Gated is the set of action classes subject to the threshold check.
	Gated map[protocol.Action]bool
}

// DefaultPolicy matches spec §4.4's named gated-action set with a
// threshold of 0.10, the value exercised by scenario S5.
func DefaultPolicy() Policy {
	return Policy{
		Threshold: 0.10,
		Gated: map[protocol.Action]bool{
			protocol.ActionMemoryWrite:      true,
			protocol.ActionWebFetch:         true,
			protocol.ActionWebSearch:        true,
			protocol.ActionIdentityWrite:    true,
			protocol.ActionUserWrite:        true,
			protocol.ActionSchedulerAddCron: true,
			protocol.ActionAgentDelegate:    true,
		},
	}
}

// counters holds one session's monotonic byte accounting.
type counters struct {
	trustedBytes  int64
	externalBytes int64
}

// Budget tracks every session's taint counters in process memory. The
// store is process-local and decays only on session termination (spec
// §4.4) — there is deliberately no persistence or cross-process sharing.
type Budget struct {
	policy Policy

	mu       sync.Mutex
	sessions map[string]*counters
}

// New constructs a Budget enforcing policy.
func New(policy Policy) *Budget {
	return &Budget{policy: policy, sessions: make(map[string]*counters)}
}

func (b *Budget) sessionCounters(sessionID string) *counters {
	c, ok := b.sessions[sessionID]
	if !ok {
		c = &counters{}
		b.sessions[sessionID] = c
	}
	return c
}

// RecordInbound increments the counter matching trust by bytes. System
// trust is not counted toward either bucket: it is exempt from gating by
// definition (CheckAction always admits a system-origin action).
func (b *Budget) RecordInbound(sessionID string, n int, trust Trust) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.sessionCounters(sessionID)
	switch trust {
	case TrustExternal:
		c.externalBytes += int64(n)
	case TrustUser:
		c.trustedBytes += int64(n)
	case TrustSystem:
		// exempt, not counted
	}
}

// Decision is the result of CheckAction (spec §4.4's {allowed, ratio,
// threshold, reason?}).
type Decision struct {
	Allowed   bool
	Ratio     float64
	Threshold float64
	Reason    string
}

// CheckAction evaluates whether action is admitted for sessionID given its
// current externalRatio, per spec §3: "admitted iff externalRatio ≤
// threshold OR the acting source is system." For actions outside the
// gated set, the check is a no-op that always allows.
func (b *Budget) CheckAction(sessionID string, action protocol.Action, actingTrust Trust) Decision {
	if !b.policy.Gated[action] {
		return Decision{Allowed: true}
	}
	if actingTrust == TrustSystem {
		return Decision{Allowed: true, Threshold: b.policy.Threshold}
	}

	b.mu.Lock()
	c := b.sessionCounters(sessionID)
	trusted, external := c.trustedBytes, c.externalBytes
	b.mu.Unlock()

	ratio := externalRatio(trusted, external)
	if ratio <= b.policy.Threshold {
		return Decision{Allowed: true, Ratio: ratio, Threshold: b.policy.Threshold}
	}
	return Decision{
		Allowed:   false,
		Ratio:     ratio,
		Threshold: b.policy.Threshold,
		Reason:    "external content ratio exceeds taint threshold",
	}
}

func externalRatio(trusted, external int64) float64 {
	total := trusted + external
	if total == 0 {
		return 0
	}
	return float64(external) / float64(total)
}

// Forget discards a session's counters. Called when the session's
// enclosing process tree (connection or scheduler-bound) discards it.
func (b *Budget) Forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// Snapshot returns the current byte counters for sessionID, mainly for
// audit-entry enrichment and tests.
func (b *Budget) Snapshot(sessionID string) (trustedBytes, externalBytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.sessionCounters(sessionID)
	return c.trustedBytes, c.externalBytes
}
