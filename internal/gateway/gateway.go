// Package gateway implements the external completions HTTP surface of
// spec §4.11/C11: an OpenAI-shaped chat-completions endpoint that drives
// one full turn through the router, a sandboxed agent process, and the
// conversation journal. Grounded on the teacher's internal/gateway
// (Server/BuildMux/authMiddleware) and internal/http (writeJSON,
// extractBearerToken, per-handler RegisterRoutes), generalized from the
// teacher's multi-route managed-mode API surface down to this host's two
// routes.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/cagehost/internal/audit"
	"github.com/nextlevelbuilder/cagehost/internal/dispatcher"
	"github.com/nextlevelbuilder/cagehost/internal/router"
	"github.com/nextlevelbuilder/cagehost/internal/sandbox"
	"github.com/nextlevelbuilder/cagehost/internal/store"
)

// ModelInfo describes one entry returned by GET /v1/models.
type ModelInfo struct {
	ID      string
	Created int64
	OwnedBy string
}

// Deps wires the gateway to the rest of the host: the router for
// inbound/outbound content processing, the sandbox manager to spawn the
// agent, and the conversation journal for turn history (spec §4.11
// steps 2, 4-5, 8).
type Deps struct {
	Router       *router.Router
	Canary       router.CanaryStore
	Sandbox      *sandbox.Manager
	Conversation store.ConversationJournal
	Journal      audit.Journal

	// Dispatcher serves the IPC channel (spec §4.6) the sandboxed agent
	// dials back into over the per-turn socket at
	// Mounts.DispatcherSock. Nil means the spawned agent gets no
	// dispatcher access (useful for a pure echo/test command).
	Dispatcher *dispatcher.Dispatcher

	// WorkspaceRoot wires a fresh per-turn scratch workspace (spec §4.11
	// step 3: "create a fresh workspace. Copy skills into it").
	WorkspaceRoot WorkspaceFactory
	SkillsDir     string

	AgentID string
	Command string
	Args    []string
	Limits  sandbox.Limits

	Models []ModelInfo

	// Token authenticates requests in TCP bind mode (config.GatewayConfig
	// enforces non-empty at startup when Mode=="tcp"); ignored for socket
	// mode, where OS permissions on the socket file are the boundary.
	Token string

	// RateRPS/RateBurst bound requests per session (spec's generalization
	// of the teacher's internal/channels/ratelimit.go sliding window onto
	// golang.org/x/time/rate). Zero disables limiting.
	RateRPS   float64
	RateBurst int

	Log *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

// WorkspaceFactory creates a turn-scoped workspace rooted at base, used
// only for the duration of one completion and destroyed afterward
// (spec §4.11: "the temporary workspace is removed best-effort in all
// paths").
type WorkspaceFactory func(sessionID string) (TurnWorkspace, error)

// TurnWorkspace is the minimal filesystem contract the gateway needs
// from a per-turn workspace; internal/session.Workspace satisfies it via
// the small adapter in workspace.go.
type TurnWorkspace interface {
	Path() string
	WriteSkills(skillsDir string) error
	WriteFile(name, content string) error
	Destroy() error
}

// Server is the gateway's HTTP handler set.
type Server struct {
	deps Deps

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer builds a Server. deps.Router, deps.Sandbox, and
// deps.Conversation must be non-nil.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps, limiters: make(map[string]*rate.Limiter)}
}

// Mux registers the gateway's two API routes plus an unauthenticated
// GET /healthz probe on a fresh ServeMux.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/chat/completions", s.authMiddleware(s.handleChatCompletions))
	mux.HandleFunc("GET /v1/models", s.authMiddleware(s.handleModels))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authMiddleware enforces the bearer token in TCP bind mode. Socket mode
// (s.deps.Token == "") trusts OS file permissions on the socket, matching
// spec §4.11's "local stream socket (no auth required)".
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Token != "" && extractBearerToken(r) != s.deps.Token {
			writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "invalid_request_error", ""))
			return
		}
		next(w, r)
	}
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	data := make([]map[string]any, 0, len(s.deps.Models))
	for _, m := range s.deps.Models {
		data = append(data, map[string]any{
			"id": m.ID, "object": "model", "created": m.Created, "owned_by": m.OwnedBy,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

// limiterFor returns (creating if needed) the per-session token bucket.
func (s *Server) limiterFor(sessionID string) *rate.Limiter {
	if s.deps.RateRPS <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[sessionID]
	if !ok {
		burst := s.deps.RateBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(s.deps.RateRPS), burst)
		s.limiters[sessionID] = l
	}
	return l
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorBody(message, errType, code string) map[string]any {
	e := map[string]any{"message": message, "type": errType}
	if code != "" {
		e["code"] = code
	}
	return map[string]any{"error": e}
}

func (d *Deps) audit(ctx context.Context, action, sessionID string, result audit.Result, args map[string]any) {
	if d.Journal == nil {
		return
	}
	d.Journal.Log(ctx, audit.Entry{SessionID: sessionID, Action: action, Result: result, Args: args})
}
