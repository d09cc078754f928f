package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/cagehost/internal/audit"
	"github.com/nextlevelbuilder/cagehost/internal/router"
	"github.com/nextlevelbuilder/cagehost/internal/sandbox"
	"github.com/nextlevelbuilder/cagehost/internal/scanner"
	"github.com/nextlevelbuilder/cagehost/internal/store"
	"github.com/nextlevelbuilder/cagehost/internal/taint"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	base := t.TempDir()

	canary := router.NewMemoryCanaryStore()
	r := router.New(scanner.New(nil), taint.New(taint.DefaultPolicy()), canary, audit.NewMemory(0))
	mgr := sandbox.NewManager(sandbox.NewSubprocessBackend())

	deps := Deps{
		Router:        r,
		Canary:        canary,
		Sandbox:       mgr,
		Conversation:  store.NewMemoryConversationJournal(),
		Journal:       audit.NewMemory(0),
		WorkspaceRoot: NewWorkspaceFactory(base, "agent-1", "user-1"),
		Command:       "/bin/cat",
		AgentID:       "agent-1",
		Models:        []ModelInfo{{ID: "cage-default", Created: 1, OwnedBy: "cagehost"}},
	}
	return NewServer(deps)
}

func TestHandleModels(t *testing.T) {
	// Avoid the router/canary plumbing entirely for this endpoint.
	s := NewServer(Deps{Models: []ModelInfo{{ID: "cage-default", Created: 1, OwnedBy: "cagehost"}}})
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["object"] != "list" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHandleChatCompletionsEmptyMessagesRejected(t *testing.T) {
	s := NewServer(Deps{})
	reqBody, _ := json.Marshal(map[string]any{"messages": []any{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty messages, got %d", w.Code)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	s := NewServer(Deps{Token: "secret"})
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", w.Code)
	}
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	s := NewServer(Deps{Token: "secret", Models: []ModelInfo{{ID: "m"}}})
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid bearer token, got %d", w.Code)
	}
}

// TestHandleChatCompletionsFullTurnLeaksCanary drives a complete turn
// through a real subprocess backend (/bin/cat, which echoes its stdin
// payload back verbatim on stdout). Because that stdin payload contains
// the inbound canary-wrapped message, the echoed stdout necessarily
// contains the canary token — this exercises spec §4.7's outbound
// canary-leak redaction path end to end rather than requiring a
// purpose-built echo agent.
func TestHandleChatCompletionsFullTurnLeaksCanary(t *testing.T) {
	s := testServer(t)
	reqBody, _ := json.Marshal(map[string]any{
		"model":      "cage-default",
		"session_id": "11111111-1111-1111-1111-111111111111",
		"messages":   []chatMessage{{Role: "user", Content: "hello agent"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	choices, _ := body["choices"].([]any)
	if len(choices) != 1 {
		t.Fatalf("expected 1 choice, got %+v", body)
	}
	choice, _ := choices[0].(map[string]any)
	if choice["finish_reason"] != "content_filter" {
		t.Fatalf("expected content_filter finish reason from the canary leak, got %+v", choice)
	}
}
