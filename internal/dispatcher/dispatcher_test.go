package dispatcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nextlevelbuilder/cagehost/internal/audit"
	"github.com/nextlevelbuilder/cagehost/internal/schema"
	"github.com/nextlevelbuilder/cagehost/internal/taint"
	"github.com/nextlevelbuilder/cagehost/pkg/protocol"
)

func newTestDispatcher(t *testing.T, budget *taint.Budget, handlers map[protocol.Action]Handler, opts ...Option) (*Dispatcher, audit.Journal) {
	t.Helper()
	journal := audit.NewMemory(0)
	d := New(schema.Default(), budget, journal, handlers, opts...)
	return d, journal
}

func decodeResponse(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("response is not valid JSON: %v (%s)", err, raw)
	}
	return out
}

func TestHandleFrameRejectsUnknownFieldWithNoHandlerSideEffect(t *testing.T) {
	called := false
	handlers := map[protocol.Action]Handler{
		protocol.ActionMemoryRead: func(ctx context.Context, dctx Context, payload map[string]any) (map[string]any, error) {
			called = true
			return map[string]any{}, nil
		},
	}
	d, _ := newTestDispatcher(t, nil, handlers)

	raw, _ := json.Marshal(map[string]any{"action": "memory_read", "key": "x", "unexpected_field": "oops"})
	resp := decodeResponse(t, d.HandleFrame(context.Background(), Context{SessionID: "s1"}, raw))

	if resp["ok"] != false {
		t.Fatalf("expected ok:false for a payload with an unknown field, got %v", resp)
	}
	if called {
		t.Error("expected no handler side effect for a schema-invalid payload")
	}
}

func TestHandleFrameTaintBlocksGatedAction(t *testing.T) {
	policy := taint.Policy{Threshold: 0.10, Gated: map[protocol.Action]bool{protocol.ActionMemoryWrite: true}}
	budget := taint.New(policy)
	budget.RecordInbound("sx", 4000, taint.TrustExternal)
	budget.RecordInbound("sx", 100, taint.TrustUser)

	handlers := map[protocol.Action]Handler{
		protocol.ActionMemoryWrite: func(ctx context.Context, dctx Context, payload map[string]any) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	}
	d, journal := newTestDispatcher(t, budget, handlers)

	raw, _ := json.Marshal(map[string]any{"action": "memory_write", "key": "k", "value": "v"})
	resp := decodeResponse(t, d.HandleFrame(context.Background(), Context{SessionID: "sx", AgentID: "agentA"}, raw))

	if resp["ok"] != false || resp["taintBlocked"] != true {
		t.Fatalf("expected taintBlocked:true, got %v", resp)
	}

	entries, err := journal.Query(context.Background(), audit.Filter{Action: "ipc_taint_blocked"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one ipc_taint_blocked audit row, got %d", len(entries))
	}
}

func TestHandleDelegateEnforcesMaxDepth(t *testing.T) {
	delegateCalled := false
	delegate := func(ctx context.Context, req DelegateRequest) (*DelegateResult, error) {
		delegateCalled = true
		return &DelegateResult{Content: "done"}, nil
	}
	d, _ := newTestDispatcher(t, nil, map[protocol.Action]Handler{}, WithDelegate(delegate, 3, 2))

	raw, _ := json.Marshal(map[string]any{"action": "agent_delegate", "target_agent_id": "child", "task": "do it"})
	resp := decodeResponse(t, d.HandleFrame(context.Background(), Context{SessionID: "s1", AgentID: "parent@depth:2"}, raw))

	if resp["ok"] != false {
		t.Fatalf("expected delegation at max depth to fail, got %v", resp)
	}
	if delegateCalled {
		t.Error("expected the delegate callback not to be invoked once max depth is reached")
	}
}

func TestHandleDelegateEnforcesMaxConcurrent(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	delegate := func(ctx context.Context, req DelegateRequest) (*DelegateResult, error) {
		started <- struct{}{}
		<-release
		return &DelegateResult{Content: "ok"}, nil
	}
	d, _ := newTestDispatcher(t, nil, map[protocol.Action]Handler{}, WithDelegate(delegate, 1, 5))

	raw, _ := json.Marshal(map[string]any{"action": "agent_delegate", "target_agent_id": "child", "task": "t"})

	done := make(chan []byte, 1)
	go func() {
		done <- d.HandleFrame(context.Background(), Context{SessionID: "s1", AgentID: "parent"}, raw)
	}()
	<-started

	resp := decodeResponse(t, d.HandleFrame(context.Background(), Context{SessionID: "s1", AgentID: "parent"}, raw))
	if resp["ok"] != false {
		t.Fatalf("expected a second concurrent delegation beyond maxConcurrent=1 to fail, got %v", resp)
	}

	close(release)
	<-done
}

func TestHandleFramePanicRecoveredAsHandlerError(t *testing.T) {
	handlers := map[protocol.Action]Handler{
		protocol.ActionMemoryRead: func(ctx context.Context, dctx Context, payload map[string]any) (map[string]any, error) {
			panic("boom")
		},
	}
	d, journal := newTestDispatcher(t, nil, handlers)

	raw, _ := json.Marshal(map[string]any{"action": "memory_read", "key": "k"})
	resp := decodeResponse(t, d.HandleFrame(context.Background(), Context{SessionID: "s1"}, raw))
	if resp["ok"] != false {
		t.Fatalf("expected ok:false after handler panic, got %v", resp)
	}

	entries, _ := journal.Query(context.Background(), audit.Filter{Action: "ipc_handler_error"})
	if len(entries) != 1 {
		t.Fatalf("expected one ipc_handler_error audit row, got %d", len(entries))
	}
}

func TestChildAgentIDEncodesDepth(t *testing.T) {
	if got := childAgentID("parent", 1); got != "parent@depth:1" {
		t.Errorf("got %q, want parent@depth:1", got)
	}
	if got := agentDepth("parent@depth:1"); got != 1 {
		t.Errorf("got depth %d, want 1", got)
	}
	if got := agentDepth("parent"); got != 0 {
		t.Errorf("got depth %d, want 0 for an agentId with no suffix", got)
	}
}
