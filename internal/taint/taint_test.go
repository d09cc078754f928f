package taint

import (
	"testing"

	"github.com/nextlevelbuilder/cagehost/pkg/protocol"
)

func TestCheckActionAllowsNonGatedAction(t *testing.T) {
	b := New(DefaultPolicy())
	b.RecordInbound("s1", 10000, TrustExternal)
	d := b.CheckAction("s1", protocol.ActionMemoryRead, TrustUser)
	if !d.Allowed {
		t.Fatal("expected a non-gated action to always be allowed")
	}
}

func TestCheckActionGatesOnExternalRatio(t *testing.T) {
	// Scenario S5: 4000 bytes external, 100 bytes user, threshold 0.10.
	policy := Policy{Threshold: 0.10, Gated: map[protocol.Action]bool{protocol.ActionMemoryWrite: true}}
	b := New(policy)
	b.RecordInbound("sx", 4000, TrustExternal)
	b.RecordInbound("sx", 100, TrustUser)

	d := b.CheckAction("sx", protocol.ActionMemoryWrite, TrustUser)
	if d.Allowed {
		t.Fatalf("expected gated action to be blocked, ratio=%v threshold=%v", d.Ratio, d.Threshold)
	}
}

func TestCheckActionAllowsUnderThreshold(t *testing.T) {
	policy := Policy{Threshold: 0.5, Gated: map[protocol.Action]bool{protocol.ActionMemoryWrite: true}}
	b := New(policy)
	b.RecordInbound("s1", 10, TrustExternal)
	b.RecordInbound("s1", 100, TrustUser)

	d := b.CheckAction("s1", protocol.ActionMemoryWrite, TrustUser)
	if !d.Allowed {
		t.Fatalf("expected action under threshold to be allowed, ratio=%v", d.Ratio)
	}
}

func TestCheckActionAlwaysAllowsSystemTrust(t *testing.T) {
	policy := Policy{Threshold: 0.01, Gated: map[protocol.Action]bool{protocol.ActionMemoryWrite: true}}
	b := New(policy)
	b.RecordInbound("s1", 100000, TrustExternal)

	d := b.CheckAction("s1", protocol.ActionMemoryWrite, TrustSystem)
	if !d.Allowed {
		t.Fatal("expected system-origin action to always be admitted")
	}
}

func TestRecordInboundSystemTrustNotCounted(t *testing.T) {
	b := New(DefaultPolicy())
	b.RecordInbound("s1", 500, TrustSystem)
	trusted, external := b.Snapshot("s1")
	if trusted != 0 || external != 0 {
		t.Errorf("expected system bytes to be uncounted, got trusted=%d external=%d", trusted, external)
	}
}

func TestForgetClearsSession(t *testing.T) {
	b := New(DefaultPolicy())
	b.RecordInbound("s1", 500, TrustExternal)
	b.Forget("s1")
	trusted, external := b.Snapshot("s1")
	if trusted != 0 || external != 0 {
		t.Errorf("expected counters reset after Forget, got trusted=%d external=%d", trusted, external)
	}
}

func TestDefaultPolicyMatchesGatedActionSet(t *testing.T) {
	p := DefaultPolicy()
	want := []protocol.Action{
		protocol.ActionMemoryWrite,
		protocol.ActionWebFetch,
		protocol.ActionWebSearch,
		protocol.ActionIdentityWrite,
		protocol.ActionUserWrite,
		protocol.ActionSchedulerAddCron,
		protocol.ActionAgentDelegate,
	}
	for _, a := range want {
		if !p.Gated[a] {
			t.Errorf("expected %s to be gated by the default policy", a)
		}
	}
	if p.Threshold != 0.10 {
		t.Errorf("got threshold %v, want 0.10", p.Threshold)
	}
}
