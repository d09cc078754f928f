package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/cagehost/internal/audit"
	"github.com/nextlevelbuilder/cagehost/internal/diagnose"
	"github.com/nextlevelbuilder/cagehost/internal/dispatcher"
	"github.com/nextlevelbuilder/cagehost/internal/router"
	"github.com/nextlevelbuilder/cagehost/internal/sandbox"
	"github.com/nextlevelbuilder/cagehost/internal/store"
	"github.com/nextlevelbuilder/cagehost/internal/tracing"
)

const (
	maxCompletionStdout = 4 << 20 // 4 MiB, mirroring the proxy's request-body cap (spec §4.8)
	defaultHistoryLimit = 20
)

// chatMessage is one OpenAI-shaped {role, content} entry.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the request body of POST /v1/chat/completions (spec
// §4.11/§6: "{model?, messages:[{role,content}…], stream?, max_tokens?,
// session_id?}").
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	MaxTokens int           `json:"max_tokens"`
	SessionID string        `json:"session_id"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body: "+err.Error(), "invalid_request_error", ""))
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("messages must not be empty", "invalid_request_error", "empty_messages"))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = newScratchSessionID()
	}

	if limiter := s.limiterFor(sessionID); limiter != nil && !limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, errorBody("rate limit exceeded for this session", "rate_limit_error", ""))
		return
	}

	lastUser := lastUserMessage(req.Messages)
	if lastUser == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("no user message found", "invalid_request_error", ""))
		return
	}

	result, err := s.runTurn(r.Context(), sessionID, req, lastUser)
	if err != nil {
		s.deps.logger().Error("gateway turn failed", "session", sessionID, "error", err)
		diag := diagnose.Classify(err)
		writeJSON(w, http.StatusBadGateway, errorBody(diag.Message, "server_error", diag.Label))
		return
	}

	if req.Stream {
		writeSSE(w, req.Model, result)
		return
	}
	writeJSON(w, http.StatusOK, chatCompletionResponse(req.Model, result))
}

// turnResult is what one full spec §4.11 turn produces.
type turnResult struct {
	content      string
	finishReason string // "stop" | "content_filter" | "error"
}

// runTurn executes spec §4.11 steps 2-8: inbound routing, workspace setup,
// sandbox spawn, outbound routing, and journal append.
func (s *Server) runTurn(ctx context.Context, sessionID string, req chatRequest, userMessage string) (turnResult, error) {
	d := &s.deps

	inbound, err := d.Router.ProcessInbound(ctx, router.InboundMessage{
		ID:        sessionID + ":" + time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
		Source:    "gateway",
		Content:   userMessage,
	})
	if err != nil {
		return turnResult{}, fmt.Errorf("gateway: inbound routing: %w", err)
	}
	if !inbound.Queued {
		return turnResult{finishReason: "content_filter", content: "This message was blocked by content policy: " + inbound.ScanResult.Reason}, nil
	}

	history, err := d.Conversation.History(ctx, sessionID, defaultHistoryLimit)
	if err != nil {
		return turnResult{}, fmt.Errorf("gateway: loading conversation history: %w", err)
	}

	ws, err := d.WorkspaceRoot(sessionID)
	if err != nil {
		return turnResult{}, fmt.Errorf("gateway: preparing workspace: %w", err)
	}
	defer func() {
		if derr := ws.Destroy(); derr != nil {
			d.logger().Warn("gateway: workspace cleanup failed", "session", sessionID, "error", derr)
		}
	}()

	if err := ws.WriteSkills(d.SkillsDir); err != nil {
		return turnResult{}, fmt.Errorf("gateway: %w", err)
	}
	if err := ws.WriteFile("CONTEXT.md", buildContextFile(sessionID, req.Model)); err != nil {
		return turnResult{}, fmt.Errorf("gateway: %w", err)
	}
	if err := ws.WriteFile("MESSAGE.txt", inbound.Wrapped); err != nil {
		return turnResult{}, fmt.Errorf("gateway: %w", err)
	}

	stdout, exit, err := s.spawnAndRun(ctx, sessionID, ws, history, inbound.Wrapped)
	if err != nil {
		return turnResult{}, fmt.Errorf("gateway: %w", err)
	}
	if exit.Code != 0 || exit.Err != nil {
		d.audit(ctx, "gateway_turn_failed", sessionID, audit.ResultError, map[string]any{
			"exitCode": exit.Code, "timedOut": exit.TimedOut,
		})
		return turnResult{finishReason: "error", content: fmt.Sprintf("agent exited with code %d", exit.Code)}, nil
	}

	outbound, err := d.Router.ProcessOutbound(ctx, stdout, sessionID, d.Canary.Get(sessionID))
	if err != nil {
		return turnResult{}, fmt.Errorf("gateway: outbound routing: %w", err)
	}

	now := time.Now().UTC()
	_ = d.Conversation.Append(ctx, store.Turn{SessionID: sessionID, Role: "user", Content: userMessage, Timestamp: now})
	_ = d.Conversation.Append(ctx, store.Turn{SessionID: sessionID, Role: "assistant", Content: outbound.Content, Timestamp: now})

	finish := "stop"
	if outbound.CanaryLeaked {
		finish = "content_filter"
	}
	return turnResult{content: outbound.Content, finishReason: finish}, nil
}

// spawnAndRun starts the agent under the sandbox manager, writes the
// {history, message} stdin payload, and concurrently drains stdout/
// stderr while awaiting exit (spec §4.11 steps 5-6), using errgroup the
// same way the teacher's subprocess tool runners fan stdout/stderr
// collection out across goroutines.
func (s *Server) spawnAndRun(ctx context.Context, sessionID string, ws TurnWorkspace, history []store.Turn, message string) (string, sandbox.ExitResult, error) {
	d := &s.deps

	backend, err := d.Sandbox.Select(ctx)
	if err != nil {
		return "", sandbox.ExitResult{}, fmt.Errorf("selecting sandbox backend: %w", err)
	}
	ctx, span := tracing.StartSandboxSpawn(ctx, backend.Name(), d.AgentID)
	defer span.End()

	limits := d.Limits
	if limits.Timeout == 0 {
		limits = sandbox.DefaultLimits()
	}

	mounts := sandbox.Mounts{ScratchPath: ws.Path()}
	closeIPC, err := s.listenIPC(ctx, sessionID, ws, &mounts)
	if err != nil {
		return "", sandbox.ExitResult{}, fmt.Errorf("starting dispatcher socket: %w", err)
	}
	defer closeIPC()

	proc, err := backend.Spawn(ctx, sandbox.Spec{
		AgentID: d.AgentID,
		Command: d.Command,
		Args:    d.Args,
		Mounts:  mounts,
		Limits:  limits,
	})
	if err != nil {
		return "", sandbox.ExitResult{}, fmt.Errorf("spawning sandbox: %w", err)
	}

	payload, err := json.Marshal(map[string]any{"history": history, "message": message})
	if err != nil {
		return "", sandbox.ExitResult{}, fmt.Errorf("encoding agent stdin payload: %w", err)
	}
	if _, err := proc.Stdin.Write(payload); err != nil {
		return "", sandbox.ExitResult{}, fmt.Errorf("writing agent stdin: %w", err)
	}
	if err := proc.Stdin.Close(); err != nil {
		return "", sandbox.ExitResult{}, fmt.Errorf("closing agent stdin: %w", err)
	}

	var stdout, stderr []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := io.ReadAll(io.LimitReader(proc.Stdout, maxCompletionStdout))
		stdout = b
		return err
	})
	g.Go(func() error {
		b, err := io.ReadAll(io.LimitReader(proc.Stderr, maxCompletionStdout))
		stderr = b
		return err
	})

	var exit sandbox.ExitResult
	g.Go(func() error {
		var err error
		exit, err = proc.Wait(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return "", sandbox.ExitResult{}, fmt.Errorf("collecting agent output: %w", err)
	}
	if len(stderr) > 0 {
		d.logger().Debug("gateway: agent stderr", "session", sessionID, "bytes", len(stderr))
	}
	return string(stdout), exit, nil
}

// listenIPC starts the per-turn dispatcher socket the sandboxed agent
// dials back into for every IPC action (spec §4.1/C6), sets
// mounts.DispatcherSock so the spawned process sees its path, and serves
// accepted connections with a Context fixed to this turn's session/agent
// identity (spec §4.6 step 5). The returned closer stops accepting and
// removes the socket file; safe to call even if no connection ever
// arrived. A nil Deps.Dispatcher disables IPC for this turn entirely.
func (s *Server) listenIPC(ctx context.Context, sessionID string, ws TurnWorkspace, mounts *sandbox.Mounts) (func(), error) {
	d := &s.deps
	if d.Dispatcher == nil {
		return func() {}, nil
	}

	sockPath := filepath.Join(ws.Path(), ".dispatcher.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", sockPath, err)
	}
	mounts.DispatcherSock = sockPath

	dctx := dispatcher.Context{SessionID: sessionID, AgentID: d.AgentID}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				if err := d.Dispatcher.Serve(ctx, conn, dctx); err != nil {
					d.logger().Debug("gateway: dispatcher connection closed", "session", sessionID, "error", err)
				}
			}()
		}
	}()

	return func() { ln.Close() }, nil
}

// RunCronTurn drives one scheduler-fired turn (spec §4.10: "scheduled
// invocations run through C11/C7/C9 the same as a user turn") through the
// exact same pipeline as an HTTP completion, without a request/response
// cycle. The caller (cmd's scheduler.DispatchFunc) supplies the job's
// already-resolved session id and prompt.
func (s *Server) RunCronTurn(ctx context.Context, sessionID, prompt string) (string, error) {
	result, err := s.runTurn(ctx, sessionID, chatRequest{SessionID: sessionID}, prompt)
	if err != nil {
		return "", err
	}
	return result.content, nil
}

func lastUserMessage(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func buildContextFile(sessionID, model string) string {
	return fmt.Sprintf("# Session Context\n\nsession_id: %s\nmodel: %s\n", sessionID, model)
}

func chatCompletionResponse(model string, result turnResult) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-" + time.Now().UTC().Format("20060102150405.000000000"),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": result.content,
			},
			"finish_reason": result.finishReason,
		}},
	}
}

// writeSSE emits the four-chunk stream spec §4.11 step 9 requires: a role
// chunk, a content chunk, a finish_reason chunk, then the terminal
// "data: [DONE]" line. It runs only after the turn has completed:
// spawnAndRun reads the sandbox's whole stdout (capped at
// maxCompletionStdout) into memory first, so nothing is streamed to the
// client until the full response is buffered.
func writeSSE(w http.ResponseWriter, model string, result turnResult) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	bw := bufio.NewWriter(w)
	id := "chatcmpl-" + time.Now().UTC().Format("20060102150405.000000000")
	created := time.Now().Unix()

	emit := func(delta map[string]any, finishReason any) {
		chunk := map[string]any{
			"id": id, "object": "chat.completion.chunk", "created": created, "model": model,
			"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finishReason}},
		}
		b, _ := json.Marshal(chunk)
		fmt.Fprintf(bw, "data: %s\n\n", b)
		bw.Flush()
		if flusher != nil {
			flusher.Flush()
		}
	}

	emit(map[string]any{"role": "assistant"}, nil)
	emit(map[string]any{"content": result.content}, nil)
	emit(map[string]any{}, result.finishReason)
	fmt.Fprint(bw, "data: [DONE]\n\n")
	bw.Flush()
	if flusher != nil {
		flusher.Flush()
	}
}
