// Package handlers implements the dispatcher.Handler table for every
// action in the schema registry besides agent_delegate (which the
// dispatcher package handles directly — see internal/dispatcher/delegate.go)
// and llm_call, which has no handler, so the dispatcher rejects it with a
// "no handler registered" error.
// Each handler is grounded on the teacher's internal/tools package: one
// file per tool/action family, a Deps struct carrying the concrete
// collaborators rather than ambient singletons (spec §9: "model providers
// as values with explicit Deps structs passed at construction").
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/cagehost/internal/audit"
	"github.com/nextlevelbuilder/cagehost/internal/dispatcher"
	"github.com/nextlevelbuilder/cagehost/internal/scheduler"
	"github.com/nextlevelbuilder/cagehost/internal/session"
	"github.com/nextlevelbuilder/cagehost/internal/store"
	"github.com/nextlevelbuilder/cagehost/pkg/protocol"
)

// WorkspaceResolver looks up the Workspace for a session, so handlers
// never have to know how a session id maps to on-disk tiers (that's
// internal/session's job).
type WorkspaceResolver func(sessionID string) session.Workspace

// Deps carries every collaborator the action handlers need. Built once at
// host startup (cmd/gateway.go) and passed to Build.
type Deps struct {
	Memory       store.MemoryStore
	Journal      audit.Journal
	Scheduler    *scheduler.Scheduler
	Workspace    WorkspaceResolver
	SkillsDir    string
	HTTPClient   *http.Client
	WebSearcher  WebSearcher
	Browser      BrowserBackend
	Proposals    *ProposalStore
	Log          *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

func (d Deps) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Build assembles the action -> Handler table (minus agent_delegate and
// llm_call) from deps.
func Build(deps Deps) map[protocol.Action]dispatcher.Handler {
	h := map[protocol.Action]dispatcher.Handler{
		protocol.ActionMemoryWrite: deps.memoryWrite,
		protocol.ActionMemoryQuery: deps.memoryQuery,
		protocol.ActionMemoryRead:  deps.memoryRead,
		protocol.ActionMemoryDelete: deps.memoryDelete,
		protocol.ActionMemoryList:  deps.memoryList,

		protocol.ActionWebFetch:  deps.webFetch,
		protocol.ActionWebSearch: deps.webSearch,

		protocol.ActionBrowserLaunch:     deps.browserLaunch,
		protocol.ActionBrowserNavigate:   deps.browserNavigate,
		protocol.ActionBrowserSnapshot:   deps.browserSnapshot,
		protocol.ActionBrowserClick:      deps.browserClick,
		protocol.ActionBrowserType:       deps.browserType,
		protocol.ActionBrowserScreenshot: deps.browserScreenshot,
		protocol.ActionBrowserClose:      deps.browserClose,

		protocol.ActionSkillRead:    deps.skillRead,
		protocol.ActionSkillList:    deps.skillList,
		protocol.ActionSkillPropose: deps.skillPropose,

		protocol.ActionAuditQuery: deps.auditQuery,

		protocol.ActionIdentityWrite: deps.identityWrite,
		protocol.ActionUserWrite:     deps.userWrite,

		protocol.ActionSchedulerAddCron:    deps.schedulerAddCron,
		protocol.ActionSchedulerRunAt:      deps.schedulerRunAt,
		protocol.ActionSchedulerRemoveCron: deps.schedulerRemoveCron,
		protocol.ActionSchedulerListJobs:   deps.schedulerListJobs,

		protocol.ActionWorkspaceRead:  deps.workspaceRead,
		protocol.ActionWorkspaceWrite: deps.workspaceWrite,
		protocol.ActionWorkspaceList:  deps.workspaceList,

		protocol.ActionProposalList:   deps.proposalList,
		protocol.ActionProposalReview: deps.proposalReview,
	}
	return h
}

func str(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func num(payload map[string]any, key string) float64 {
	v, _ := payload[key].(float64)
	return v
}

func boolean(payload map[string]any, key string) bool {
	v, _ := payload[key].(bool)
	return v
}
