// Package dispatcher implements the per-connection server loop of spec
// §4.6: parse frame, envelope-validate, schema-validate, taint-check,
// dispatch to a handler, audit, reply.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/cagehost/internal/audit"
	"github.com/nextlevelbuilder/cagehost/internal/frame"
	"github.com/nextlevelbuilder/cagehost/internal/schema"
	"github.com/nextlevelbuilder/cagehost/internal/taint"
	"github.com/nextlevelbuilder/cagehost/pkg/protocol"
)

// Context is the per-request identity the dispatcher hands to a Handler,
// mirroring spec §4.6 step 5's "{sessionId, agentId}".
type Context struct {
	SessionID string
	AgentID   string
}

// Handler implements one action's business logic. It returns the result
// fields to merge into the success response, or an error to turn into a
// failure response (audited as ipc_handler_error).
type Handler func(ctx context.Context, dctx Context, payload map[string]any) (map[string]any, error)

// Dispatcher wires together the schema registry, taint budget, audit
// journal, and action handler table behind one connection-serving loop.
type Dispatcher struct {
	schemas  *schema.Registry
	budget   *taint.Budget
	journal  audit.Journal
	handlers map[protocol.Action]Handler
	delegate DelegateFunc
	limits   delegationLimits
	log      *slog.Logger
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithDelegate installs the callback invoked by agent_delegate, and the
// concurrency/depth limits that gate it (spec §4.6 Delegation). Passing
// non-positive limits falls back to the spec's defaults (3 and 2).
func WithDelegate(fn DelegateFunc, maxConcurrent, maxDepth int) Option {
	return func(d *Dispatcher) {
		d.delegate = fn
		d.limits = newDelegationLimits(maxConcurrent, maxDepth)
	}
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// New builds a Dispatcher. handlers supplies the action table; any action
// missing from it that still passes schema validation fails with
// ipc_handler_error, per spec §7 ("Programmer errors ... return an error
// response ... do not crash the host").
func New(schemas *schema.Registry, budget *taint.Budget, journal audit.Journal, handlers map[protocol.Action]Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		schemas:  schemas,
		budget:   budget,
		journal:  journal,
		handlers: handlers,
		limits:   newDelegationLimits(0, 0),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if _, explicit := d.handlers[protocol.ActionAgentDelegate]; !explicit {
		if d.handlers == nil {
			d.handlers = make(map[protocol.Action]Handler)
		}
		d.handlers[protocol.ActionAgentDelegate] = d.agentDelegateHandler
	}
	return d
}

const previewLimit = 500

func preview(b []byte) string {
	if len(b) <= previewLimit {
		return string(b)
	}
	return string(b[:previewLimit])
}

func (d *Dispatcher) auditLog(ctx context.Context, sessionID, action string, result audit.Result, extra map[string]any, durationMs int64) {
	entry := audit.Entry{
		SessionID:  sessionID,
		Action:     action,
		Result:     result,
		Args:       extra,
		DurationMs: durationMs,
	}
	if _, err := d.journal.Log(ctx, entry); err != nil {
		d.log.Warn("dispatcher: audit log failed", "action", action, "error", err)
	}
}

// HandleFrame runs the full spec §4.6 pipeline over one raw frame payload
// and returns the encoded response frame payload. dctx.SessionID must
// already be known to the caller (the connection's bound session); dctx.AgentID
// seeds the delegation depth encoding.
func (d *Dispatcher) HandleFrame(ctx context.Context, dctx Context, raw []byte) []byte {
	start := time.Now()

	// (1) parse JSON
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		d.auditLog(ctx, dctx.SessionID, "ipc_parse_error", audit.ResultError, map[string]any{"preview": preview(raw)}, 0)
		return encode(protocol.Err("malformed JSON payload"))
	}

	// (2) envelope-validate
	var env protocol.Envelope
	actionRaw, _ := payload["action"].(string)
	env.Action = protocol.Action(actionRaw)
	if env.Action == "" || !d.schemas.Known(env.Action) {
		d.auditLog(ctx, dctx.SessionID, "ipc_unknown_action", audit.ResultError, map[string]any{"action": actionRaw}, 0)
		return encode(protocol.Err(fmt.Sprintf("unknown action %q", actionRaw)))
	}

	// (3) action schema strict-validate
	if err := d.schemas.Validate(env.Action, payload); err != nil {
		d.auditLog(ctx, dctx.SessionID, "ipc_validation_failure", audit.ResultError,
			map[string]any{"action": string(env.Action), "preview": preview(raw), "error": err.Error()}, 0)
		return encode(protocol.Err(err.Error()))
	}

	// (4) taint check
	if d.budget != nil {
		decision := d.budget.CheckAction(dctx.SessionID, env.Action, trustOf(dctx))
		if !decision.Allowed {
			d.auditLog(ctx, dctx.SessionID, "ipc_taint_blocked", audit.ResultBlocked,
				map[string]any{"action": string(env.Action), "ratio": decision.Ratio, "threshold": decision.Threshold}, 0)
			return encode(protocol.TaintBlockedErr(decision.Reason))
		}
	}

	// (5) dispatch
	handler, ok := d.handlers[env.Action]
	if !ok {
		d.auditLog(ctx, dctx.SessionID, "ipc_handler_error", audit.ResultError,
			map[string]any{"action": string(env.Action), "error": "no handler registered"}, 0)
		return encode(protocol.Err("no handler registered for action"))
	}

	result, err := runHandler(ctx, dctx, payload, handler)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		// (7) handler exception
		d.auditLog(ctx, dctx.SessionID, "ipc_handler_error", audit.ResultError,
			map[string]any{"action": string(env.Action), "error": err.Error()}, durationMs)
		return encode(protocol.Err(err.Error()))
	}

	// (6) success
	d.auditLog(ctx, dctx.SessionID, string(env.Action), audit.ResultSuccess, nil, durationMs)
	return encode(protocol.Ok(result))
}

// runHandler recovers from a handler panic and turns it into an error so a
// single misbehaving action handler never crashes the host connection
// loop (spec §7: "do not crash the host").
func runHandler(ctx context.Context, dctx Context, payload map[string]any, handler Handler) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, dctx, payload)
}

func trustOf(dctx Context) taint.Trust {
	if dctx.AgentID == "system" {
		return taint.TrustSystem
	}
	return taint.TrustUser
}

func encode(resp protocol.Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		// Marshaling a Response literally cannot fail (its fields are all
		// JSON-safe), but degrade to a minimal error frame rather than panic.
		return []byte(`{"ok":false,"error":"internal: response encoding failed"}`)
	}
	return b
}

// Serve runs the per-connection frame loop: read a frame, dispatch it,
// write the response frame, until the peer closes the connection or a
// framing error aborts it (spec §4.1: "no internal framing errors are
// recoverable; the connection is closed").
func (d *Dispatcher) Serve(ctx context.Context, rw io.ReadWriter, dctx Context) error {
	r := frame.NewReader(rw)
	for {
		payload, err := r.ReadFrame()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		resp := d.HandleFrame(ctx, dctx, payload)
		if err := frame.WriteFrame(rw, resp); err != nil {
			return err
		}
	}
}
