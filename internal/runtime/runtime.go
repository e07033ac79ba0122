// Package runtime implements the Session Runtime (C5), the central
// component: one instance per active session, owning the agent, the
// outbound connection binding, and all in-flight state. Generalizes the
// teacher's internal/session.Store (DB-backed metadata plus an in-memory
// per-session map guarded by sync.RWMutex) from a ring-buffer-of-PTY-bytes
// model to an agent-handle-and-connection model.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentserver/sessionrt/internal/agentcore"
	"github.com/agentserver/sessionrt/internal/events"
	"github.com/agentserver/sessionrt/internal/sandbox"
	"github.com/agentserver/sessionrt/internal/skills"
	"github.com/rs/zerolog"
)

// Conn is the minimal connection contract the Gateway binds in. Send must
// be non-blocking and silently drop when the connection is closed. Close
// must be safe to call more than once and must unblock any goroutine
// reading from the underlying transport, so a displaced connection tears
// down promptly instead of lingering until its next idle-ping failure.
type Conn interface {
	Send(events.Event)
	Closed() bool
	Close()
}

// AgentFactory constructs a fresh agentcore.Agent for a runtime, given the
// working directory the agent should reason about (a container path when
// sandboxed, a host path otherwise) and the ToolExecutor wired to that
// sandbox, if any.
type AgentFactory func(cwd string, tools agentcore.ToolExecutor) agentcore.Agent

// PendingToolCall tracks an in-flight tool_start awaiting its tool_end, for
// the testable property "exactly one tool_end follows every tool_start
// before the next agent_end of that turn".
type PendingToolCall struct {
	ID   string
	Tool string
}

// Runtime is never persisted; it is destroyed on dispose. Its
// baseCtx outlives any single connection, so a turn started before a
// reconnect keeps running and its events simply resume flowing once
// rebind swaps in the new connection.
type Runtime struct {
	SessionID string
	UserID    string
	workDir   string // host path

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu               sync.Mutex // single-writer: serializes inbound command dispatch
	agent            agentcore.Agent
	unsubscribe      func()
	conn             Conn
	disposed         bool
	pendingToolCalls map[string]PendingToolCall

	sandboxed    bool
	containerCwd string
}

// Table is the process-wide sessionId → *Runtime singleton, holding live
// runtimes instead of ring buffers.
type Table struct {
	sandbox                 *sandbox.Manager
	agentFactory            AgentFactory
	workspaceRootFn         func(sessionID string) (string, error)
	containerWorkspacesRoot string
	workspacesRoot          string
	log                     zerolog.Logger

	mu       sync.RWMutex
	runtimes map[string]*Runtime
}

func NewTable(sb *sandbox.Manager, factory AgentFactory, workspaceRootFn func(string) (string, error), workspacesRoot, containerWorkspacesRoot string, log zerolog.Logger) *Table {
	return &Table{
		sandbox:                 sb,
		agentFactory:            factory,
		workspaceRootFn:         workspaceRootFn,
		workspacesRoot:          workspacesRoot,
		containerWorkspacesRoot: containerWorkspacesRoot,
		log:                     log.With().Str("component", "runtime").Logger(),
		runtimes:                make(map[string]*Runtime),
	}
}

// OpenOrRebind implements the open contract: if a runtime exists
// for sessionId it is rebound to the new connection without recreating the
// agent; otherwise one is created, ensuring a sandbox for the user first
// when enabled.
func (t *Table) OpenOrRebind(ctx context.Context, sessionID, userID string, conn Conn) (*Runtime, error) {
	t.mu.Lock()
	if rt, ok := t.runtimes[sessionID]; ok {
		t.mu.Unlock()
		rt.rebind(conn)
		return rt, nil
	}

	workDir, err := t.workspaceRootFn(sessionID)
	if err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("workspace root: %w", err)
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	rt := &Runtime{
		SessionID:        sessionID,
		UserID:           userID,
		workDir:          workDir,
		baseCtx:          baseCtx,
		cancelBase:       cancelBase,
		conn:             conn,
		pendingToolCalls: make(map[string]PendingToolCall),
	}

	cwd := workDir
	var tools agentcore.ToolExecutor
	if t.sandbox != nil && t.sandbox.IsEnabled() && userID != "" {
		if _, err := t.sandbox.Ensure(ctx, userID); err != nil {
			t.log.Warn().Err(err).Str("user_id", userID).Msg("sandbox ensure failed, continuing on host")
		} else {
			rt.sandboxed = true
			rt.containerCwd = rewritePrefix(workDir, t.workspacesRoot, t.containerWorkspacesRoot)
			cwd = rt.containerCwd
			tools = &sandboxTools{mgr: t.sandbox, userID: userID, hostWorkspacesRoot: t.workspacesRoot, containerWorkspacesRoot: t.containerWorkspacesRoot, log: t.log}
		}
	}

	rt.agent = t.agentFactory(cwd, tools)
	rt.unsubscribe = rt.agent.Subscribe(func(e agentcore.Event) {
		rt.dispatchAgentEvent(e)
	})

	t.runtimes[sessionID] = rt
	t.mu.Unlock()
	return rt, nil
}

func (t *Table) Get(sessionID string) (*Runtime, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rt, ok := t.runtimes[sessionID]
	return rt, ok
}

// Dispose removes and tears down a runtime. Idempotent.
func (t *Table) Dispose(sessionID string) {
	t.mu.Lock()
	rt, ok := t.runtimes[sessionID]
	if ok {
		delete(t.runtimes, sessionID)
	}
	t.mu.Unlock()
	if ok {
		rt.dispose()
	}
}

// DisposeAll tears down every runtime, for process shutdown.
func (t *Table) DisposeAll() {
	t.mu.Lock()
	runtimes := make([]*Runtime, 0, len(t.runtimes))
	for _, rt := range t.runtimes {
		runtimes = append(runtimes, rt)
	}
	t.runtimes = make(map[string]*Runtime)
	t.mu.Unlock()
	for _, rt := range runtimes {
		rt.dispose()
	}
}

func rewritePrefix(hostPath, hostRoot, containerRoot string) string {
	if len(hostPath) < len(hostRoot) || hostPath[:len(hostRoot)] != hostRoot {
		return hostPath
	}
	return containerRoot + hostPath[len(hostRoot):]
}

// rebind atomically swaps the active connection; in-flight agent events
// continue flowing, now to the new connection. The displaced connection is
// closed here rather than left to notice on its own, so it tears down
// immediately instead of lingering until a read error or a failed idle ping.
func (rt *Runtime) rebind(conn Conn) {
	rt.mu.Lock()
	old := rt.conn
	rt.conn = conn
	rt.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// send delivers one outward event through the send gate: a nil or closed
// connection drops the event rather than blocking or erroring, so a slow
// or vanished client never stalls the agent's event loop.
func (rt *Runtime) send(e events.Event) {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()
	if conn == nil || conn.Closed() {
		return
	}
	conn.Send(e)
}

func (rt *Runtime) dispatchAgentEvent(in agentcore.Event) {
	switch in.Kind {
	case agentcore.EventToolExecStart:
		rt.mu.Lock()
		rt.pendingToolCalls[in.ToolID] = PendingToolCall{ID: in.ToolID, Tool: in.ToolName}
		rt.mu.Unlock()
	case agentcore.EventToolExecEnd:
		rt.mu.Lock()
		delete(rt.pendingToolCalls, in.ToolID)
		rt.mu.Unlock()
	}

	out, ok := events.Translate(in)
	if !ok {
		return
	}
	rt.send(out)
}

func (rt *Runtime) SendPrompt(ctx context.Context, text string) error {
	rt.mu.Lock()
	agent, disposed := rt.agent, rt.disposed
	rt.mu.Unlock()
	if disposed {
		return fmt.Errorf("runtime disposed")
	}
	return agent.SendPrompt(ctx, text)
}

func (rt *Runtime) SendSteer(ctx context.Context, text string) error {
	rt.mu.Lock()
	agent, disposed := rt.agent, rt.disposed
	rt.mu.Unlock()
	if disposed {
		return fmt.Errorf("runtime disposed")
	}
	return agent.SendSteer(ctx, text)
}

// Abort cancels the current turn; any in-flight Sandbox.exec it started
// observes the same cancellation token and dies with Aborted.
func (rt *Runtime) Abort() {
	rt.mu.Lock()
	agent, disposed := rt.agent, rt.disposed
	rt.mu.Unlock()
	if disposed {
		return
	}
	agent.Abort()
}

func (rt *Runtime) Compact(ctx context.Context) error {
	rt.mu.Lock()
	agent, disposed := rt.agent, rt.disposed
	rt.mu.Unlock()
	if disposed {
		return fmt.Errorf("runtime disposed")
	}
	return agent.Compact(ctx)
}

// dispose cancels the runtime's base context, unsubscribes from the agent
// and disposes it. Idempotent. It does not close the bound connection or
// remove the Gateway's watcher subscription; that subscription ends when the
// connection's ServeHTTP call returns.
func (rt *Runtime) dispose() {
	rt.mu.Lock()
	if rt.disposed {
		rt.mu.Unlock()
		return
	}
	rt.disposed = true
	agent, unsub := rt.agent, rt.unsubscribe
	rt.mu.Unlock()

	rt.cancelBase()
	if unsub != nil {
		unsub()
	}
	if agent != nil {
		agent.Dispose()
	}
}

// InboundCommand is one decoded wire command from the client, matching
// the command alphabet.
type InboundCommand struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Skill string `json:"skill,omitempty"`
	Args  string `json:"args,omitempty"`
}

// SkillResolver looks up a named skill for skill_invoke commands; the
// Gateway supplies the per-session or global skill set.
type SkillResolver func(name string) (*skills.Skill, bool)

// HandleCommand is the single entry point for inbound client frames. abort
// runs synchronously (it only cancels a context); prompt/steer/compact/
// skill_invoke run on their own goroutine so a long-running turn never
// blocks the Gateway's read loop from delivering a concurrent abort. The
// agent's own history lock is what actually serializes turns against each
// other.
func (rt *Runtime) HandleCommand(_ context.Context, cmd InboundCommand, resolveSkill SkillResolver) {
	rt.mu.Lock()
	disposed := rt.disposed
	turnCtx := rt.baseCtx
	rt.mu.Unlock()
	if disposed {
		return
	}

	switch cmd.Type {
	case "prompt":
		go func() {
			if err := rt.SendPrompt(turnCtx, cmd.Text); err != nil {
				rt.EmitError(err.Error())
			}
		}()
	case "steer":
		go func() {
			if err := rt.SendSteer(turnCtx, cmd.Text); err != nil {
				rt.EmitError(err.Error())
			}
		}()
	case "abort":
		rt.Abort()
	case "compact":
		go func() {
			if err := rt.Compact(turnCtx); err != nil {
				rt.EmitError(err.Error())
			}
		}()
	case "skill_invoke":
		skill, ok := resolveSkill(cmd.Skill)
		if !ok {
			rt.EmitError(fmt.Sprintf("unknown skill %q", cmd.Skill))
			return
		}
		prompt, ok := skills.Expand(skill, cmd.Args)
		if !ok {
			rt.EmitError(fmt.Sprintf("skill %q disabled", cmd.Skill))
			return
		}
		go func() {
			rt.send(events.SkillStart(skill.Name, skill.Name))
			if err := rt.SendPrompt(turnCtx, prompt); err != nil {
				rt.EmitError(err.Error())
			}
			rt.send(events.SkillEnd(skill.Name))
		}()
	default:
		rt.EmitError(fmt.Sprintf("unknown command %q", cmd.Type))
	}
}

// FilesChanged forwards a watcher notification (stripped of its dotfile
// filtering, since C4 delivers all paths — see DESIGN.md) through the send
// gate as a files_changed event.
func (rt *Runtime) FilesChanged(paths []string) {
	rt.send(events.FilesChanged(paths))
}

// EmitError sends a wire error event (e.g. unknown/disabled skill, malformed
// frame) without touching the agent.
func (rt *Runtime) EmitError(message string) {
	rt.send(events.Error(message))
}

// sandboxTools adapts the Sandbox Manager into the ToolExecutor interface
// the agent drives for its bash tool: bash.exec is redirected to
// Sandbox.exec instead of running on the host.
type sandboxTools struct {
	mgr                     *sandbox.Manager
	userID                  string
	hostWorkspacesRoot      string
	containerWorkspacesRoot string
	log                     zerolog.Logger
}

func (s *sandboxTools) ExecBash(ctx context.Context, command, cwd string, onData func(stream int, data []byte), timeoutSeconds int) (int, error) {
	hostCwd := cwd
	if strings.HasPrefix(cwd, s.containerWorkspacesRoot) {
		hostCwd = s.hostWorkspacesRoot + strings.TrimPrefix(cwd, s.containerWorkspacesRoot)
	}

	var timeout time.Duration
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	res, err := s.mgr.Exec(ctx, s.userID, command, hostCwd, sandbox.ExecOptions{
		OnData: func(stream sandbox.Stream, data []byte) {
			if onData != nil {
				onData(int(stream), data)
			}
		},
		Timeout: timeout,
	})
	if err != nil {
		return 0, err
	}
	return res.ExitCode, nil
}
