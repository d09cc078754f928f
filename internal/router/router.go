// Package router implements the inbound/outbound content pipeline of spec
// §4.7: wrapping external content in canary-bearing markers on the way in,
// and scanning for secret/canary leakage on the way out.
package router

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/cagehost/internal/audit"
	"github.com/nextlevelbuilder/cagehost/internal/scanner"
	"github.com/nextlevelbuilder/cagehost/internal/taint"
)

// CanaryStore is the per-session canary slot the router reads and writes.
// A separate interface (rather than a bare map) so the dispatcher's
// session registry can own the storage and its locking.
type CanaryStore interface {
	Set(sessionID, token string)
	Get(sessionID string) string
}

// Router ties the scanner and taint budget together behind processInbound
// and processOutbound.
type Router struct {
	scanner *scanner.Scanner
	budget  *taint.Budget
	canary  CanaryStore
	journal audit.Journal
}

func New(s *scanner.Scanner, budget *taint.Budget, canary CanaryStore, journal audit.Journal) *Router {
	return &Router{scanner: s, budget: budget, canary: canary, journal: journal}
}

// InboundMessage is the minimal shape processInbound needs (spec §3
// Inbound message, trimmed to what the router touches).
type InboundMessage struct {
	ID        string
	SessionID string
	Source    string // channel/provider name, e.g. "cli"
	Content   string
}

// InboundResult is processInbound's return value (spec §4.7).
type InboundResult struct {
	Queued     bool
	MessageID  string
	SessionID  string
	CanaryToken string
	ScanResult scanner.Result
	Wrapped    string
}

// ProcessInbound runs spec §4.7's five inbound steps.
func (r *Router) ProcessInbound(ctx context.Context, msg InboundMessage) (InboundResult, error) {
	result := r.scanner.ClassifyInbound(msg.Content)

	if result.Verdict == scanner.Block {
		r.audit(ctx, "router_inbound:blocked", msg.SessionID, audit.ResultBlocked, map[string]any{
			"patterns": result.Patterns, "reason": result.Reason,
		})
		return InboundResult{Queued: false, ScanResult: result}, nil
	}

	token, err := r.scanner.IssueCanary()
	if err != nil {
		return InboundResult{}, fmt.Errorf("router: issue canary: %w", err)
	}
	r.canary.Set(msg.SessionID, token)

	wrapped := wrapExternalContent(msg.Source, token, msg.Content)

	if r.budget != nil {
		r.budget.RecordInbound(msg.SessionID, len([]byte(msg.Content)), taint.TrustExternal)
	}

	r.audit(ctx, "router_inbound", msg.SessionID, audit.ResultSuccess, map[string]any{
		"messageId": msg.ID, "verdict": string(result.Verdict),
	})

	return InboundResult{
		Queued:      true,
		MessageID:   msg.ID,
		SessionID:   msg.SessionID,
		CanaryToken: token,
		ScanResult:  result,
		Wrapped:     wrapped,
	}, nil
}

func wrapExternalContent(source, canaryToken, content string) string {
	return fmt.Sprintf(
		"<external_content trust=\"external\" source=%q canary=%q>\n%s\n</external_content>",
		source, canaryToken, content,
	)
}

const canaryLeakRedaction = "[Response redacted: canary token leaked]"

// OutboundResult is processOutbound's return value (spec §4.7).
type OutboundResult struct {
	Content      string
	ScanResult   scanner.Result
	CanaryLeaked bool
}

// ProcessOutbound runs spec §4.7's three outbound steps. An empty
// canaryToken never triggers a false leak (spec §4.7 invariant iii).
func (r *Router) ProcessOutbound(ctx context.Context, content, sessionID, canaryToken string) (OutboundResult, error) {
	result := r.scanner.ClassifyOutbound(content)

	out := content
	if result.Verdict == scanner.Block {
		out = "[Response redacted: content policy violation]"
	}

	leaked := false
	if canaryToken != "" && r.scanner.CheckCanary(out, canaryToken) {
		leaked = true
		out = canaryLeakRedaction
		r.audit(ctx, "canary_leaked", sessionID, audit.ResultBlocked, nil)
	}

	r.audit(ctx, "router_outbound", sessionID, audit.ResultSuccess, map[string]any{
		"verdict": string(result.Verdict), "canaryLeaked": leaked,
	})

	return OutboundResult{Content: out, ScanResult: result, CanaryLeaked: leaked}, nil
}

func (r *Router) audit(ctx context.Context, action, sessionID string, result audit.Result, args map[string]any) {
	if r.journal == nil {
		return
	}
	r.journal.Log(ctx, audit.Entry{SessionID: sessionID, Action: action, Result: result, Args: args})
}
