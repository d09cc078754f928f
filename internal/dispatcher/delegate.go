package dispatcher

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"golang.org/x/sync/semaphore"
)

// depthSuffix encodes the delegation depth onto an agentId, matching spec
// §4.6's "the agentId carries an encoded depth suffix" — chosen as a
// trailing `@depth:<N>` rather than a separate field so the dispatcher's
// context plumbing (which only ever carries agentId as a bare string, the
// way the teacher's session keys encode channel/user/chat as colon
// segments) doesn't need a parallel depth parameter threaded everywhere.
var depthSuffixPattern = regexp.MustCompile(`@depth:(\d+)$`)

// agentDepth returns the depth encoded in agentID, defaulting to 0 for an
// agentID with no suffix (a top-level, non-delegated agent).
func agentDepth(agentID string) int {
	m := depthSuffixPattern.FindStringSubmatch(agentID)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// childAgentID strips any existing depth suffix from agentID and appends
// one encoding depth.
func childAgentID(agentID string, depth int) string {
	base := depthSuffixPattern.ReplaceAllString(agentID, "")
	return fmt.Sprintf("%s@depth:%d", base, depth)
}

// DelegateRequest is the payload handed to a DelegateFunc.
type DelegateRequest struct {
	SessionID     string
	TargetAgentID string
	Prompt        string
}

// DelegateResult is what a successful delegation returns to the caller.
type DelegateResult struct {
	Content string
}

// DelegateFunc performs the actual cross-agent call. It is supplied by the
// host embedding the dispatcher so this package never depends on the
// concrete agent-run machinery (spec §9: "model providers as values with
// explicit Deps structs passed at construction").
type DelegateFunc func(ctx context.Context, req DelegateRequest) (*DelegateResult, error)

// delegationLimits holds the two invariants of spec §4.6 Delegation.
type delegationLimits struct {
	sem      *semaphore.Weighted
	maxDepth int
}

const (
	defaultMaxConcurrentDelegations = 3
	defaultMaxDelegationDepth       = 2
)

func newDelegationLimits(maxConcurrent, maxDepth int) delegationLimits {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentDelegations
	}
	if maxDepth <= 0 {
		maxDepth = defaultMaxDelegationDepth
	}
	return delegationLimits{sem: semaphore.NewWeighted(int64(maxConcurrent)), maxDepth: maxDepth}
}

// handleDelegate enforces the concurrency and depth invariants of spec
// §4.6 before invoking d.delegate. The semaphore is acquired before any
// await and released in a guaranteed-run defer, matching the spec's
// wording exactly.
func (d *Dispatcher) handleDelegate(ctx context.Context, dctx Context, targetAgentID, prompt string) (*DelegateResult, error) {
	if d.delegate == nil {
		return nil, fmt.Errorf("agent_delegate: no delegate callback configured")
	}

	depth := agentDepth(dctx.AgentID)
	if depth >= d.limits.maxDepth {
		return nil, fmt.Errorf("agent_delegate: Max delegation depth %d exceeded", d.limits.maxDepth)
	}

	if !d.limits.sem.TryAcquire(1) {
		return nil, fmt.Errorf("agent_delegate: max concurrent delegations reached")
	}
	defer d.limits.sem.Release(1)

	childCtx := context.WithValue(ctx, agentIDContextKey{}, childAgentID(dctx.AgentID, depth+1))
	return d.delegate(childCtx, DelegateRequest{
		SessionID:     dctx.SessionID,
		TargetAgentID: targetAgentID,
		Prompt:        prompt,
	})
}

type agentIDContextKey struct{}

// agentDelegateHandler adapts handleDelegate to the Handler signature so it
// can be installed into the dispatcher's action table like any other
// action.
func (d *Dispatcher) agentDelegateHandler(ctx context.Context, dctx Context, payload map[string]any) (map[string]any, error) {
	targetAgentID, _ := payload["target_agent_id"].(string)
	task, _ := payload["task"].(string)

	result, err := d.handleDelegate(ctx, dctx, targetAgentID, task)
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": result.Content}, nil
}
