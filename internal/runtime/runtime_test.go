package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentserver/sessionrt/internal/agentcore"
	"github.com/agentserver/sessionrt/internal/events"
	"github.com/agentserver/sessionrt/internal/skills"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent is a minimal agentcore.Agent double that lets a test drive
// events synchronously and observe what the Runtime asked it to do.
type fakeAgent struct {
	mu          sync.Mutex
	subscribers []func(agentcore.Event)
	prompts     []string
	steers      []string
	aborted     int
	compacted   int
	disposed    int
	sendErr     error
}

func (f *fakeAgent) Subscribe(onEvent func(agentcore.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers = append(f.subscribers, onEvent)
	return func() {}
}

func (f *fakeAgent) emit(e agentcore.Event) {
	f.mu.Lock()
	subs := append([]func(agentcore.Event){}, f.subscribers...)
	f.mu.Unlock()
	for _, s := range subs {
		s(e)
	}
}

func (f *fakeAgent) SendPrompt(ctx context.Context, text string) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, text)
	f.mu.Unlock()
	return f.sendErr
}

func (f *fakeAgent) SendSteer(ctx context.Context, text string) error {
	f.mu.Lock()
	f.steers = append(f.steers, text)
	f.mu.Unlock()
	return f.sendErr
}

func (f *fakeAgent) Abort() {
	f.mu.Lock()
	f.aborted++
	f.mu.Unlock()
}

func (f *fakeAgent) Compact(ctx context.Context) error {
	f.mu.Lock()
	f.compacted++
	f.mu.Unlock()
	return nil
}

func (f *fakeAgent) Dispose() {
	f.mu.Lock()
	f.disposed++
	f.mu.Unlock()
}

// fakeConn records every event sent to it and can simulate being closed.
type fakeConn struct {
	mu     sync.Mutex
	closed bool
	events []events.Event
}

func (c *fakeConn) Send(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events = append(c.events, e)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) snapshot() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event{}, c.events...)
}

func newTestTable(t *testing.T, agent *fakeAgent) *Table {
	t.Helper()
	tmp := t.TempDir()
	return NewTable(nil, func(cwd string, tools agentcore.ToolExecutor) agentcore.Agent {
		return agent
	}, func(sessionID string) (string, error) {
		return tmp, nil
	}, "", "", zerolog.Nop())
}

func TestOpenOrRebindCreatesThenRebindsSameRuntime(t *testing.T) {
	agent := &fakeAgent{}
	table := newTestTable(t, agent)
	connA := &fakeConn{}

	rt1, err := table.OpenOrRebind(context.Background(), "sess-1", "user-1", connA)
	require.NoError(t, err)

	connB := &fakeConn{}
	rt2, err := table.OpenOrRebind(context.Background(), "sess-1", "user-1", connB)
	require.NoError(t, err)

	assert.Same(t, rt1, rt2)
}

func TestDispatchAgentEventTracksToolStartThenClearsOnEnd(t *testing.T) {
	agent := &fakeAgent{}
	table := newTestTable(t, agent)
	conn := &fakeConn{}
	rt, err := table.OpenOrRebind(context.Background(), "sess-1", "user-1", conn)
	require.NoError(t, err)

	agent.emit(agentcore.Event{Kind: agentcore.EventToolExecStart, ToolID: "call-1", ToolName: "bash"})
	rt.mu.Lock()
	_, pending := rt.pendingToolCalls["call-1"]
	rt.mu.Unlock()
	assert.True(t, pending)

	agent.emit(agentcore.Event{Kind: agentcore.EventToolExecEnd, ToolID: "call-1", ToolName: "bash"})
	rt.mu.Lock()
	_, pending = rt.pendingToolCalls["call-1"]
	rt.mu.Unlock()
	assert.False(t, pending)

	got := conn.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "tool_start", got[0].Type)
	assert.Equal(t, "tool_end", got[1].Type)
}

func TestEventsDropWhenConnectionClosed(t *testing.T) {
	agent := &fakeAgent{}
	table := newTestTable(t, agent)
	conn := &fakeConn{}
	_, err := table.OpenOrRebind(context.Background(), "sess-1", "user-1", conn)
	require.NoError(t, err)

	conn.mu.Lock()
	conn.closed = true
	conn.mu.Unlock()

	agent.emit(agentcore.Event{Kind: agentcore.EventAgentStart})
	assert.Empty(t, conn.snapshot())
}

func TestReconnectMidTurnPreservesInFlightEvents(t *testing.T) {
	agent := &fakeAgent{}
	table := newTestTable(t, agent)
	connA := &fakeConn{}
	rt, err := table.OpenOrRebind(context.Background(), "sess-1", "user-1", connA)
	require.NoError(t, err)

	agent.emit(agentcore.Event{Kind: agentcore.EventAgentStart})
	assert.Len(t, connA.snapshot(), 1)

	// Connection A disconnects (marked closed by the Gateway) and B reconnects
	// before the turn's agent_end — the runtime is never disposed, so events
	// resume flowing to the new connection instead of being lost.
	connA.mu.Lock()
	connA.closed = true
	connA.mu.Unlock()

	connB := &fakeConn{}
	rt2, err := table.OpenOrRebind(context.Background(), "sess-1", "user-1", connB)
	require.NoError(t, err)
	assert.Same(t, rt, rt2)

	agent.emit(agentcore.Event{Kind: agentcore.EventMessageEnd})
	agent.emit(agentcore.Event{Kind: agentcore.EventAgentEnd})

	gotB := connB.snapshot()
	require.Len(t, gotB, 2)
	assert.Equal(t, "message_end", gotB[0].Type)
	assert.Equal(t, "agent_end", gotB[1].Type)
	assert.Len(t, connA.snapshot(), 1, "connection A must not receive events after disconnect")
}

func TestHandleCommandPromptDispatchesAsync(t *testing.T) {
	agent := &fakeAgent{}
	table := newTestTable(t, agent)
	conn := &fakeConn{}
	rt, err := table.OpenOrRebind(context.Background(), "sess-1", "user-1", conn)
	require.NoError(t, err)

	rt.HandleCommand(context.Background(), InboundCommand{Type: "prompt", Text: "hello"}, nil)

	require.Eventually(t, func() bool {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		return len(agent.prompts) == 1
	}, time.Second, time.Millisecond)
}

func TestHandleCommandAbortRunsSynchronously(t *testing.T) {
	agent := &fakeAgent{}
	table := newTestTable(t, agent)
	conn := &fakeConn{}
	rt, err := table.OpenOrRebind(context.Background(), "sess-1", "user-1", conn)
	require.NoError(t, err)

	rt.HandleCommand(context.Background(), InboundCommand{Type: "abort"}, nil)

	agent.mu.Lock()
	defer agent.mu.Unlock()
	assert.Equal(t, 1, agent.aborted)
}

func TestHandleCommandUnknownSkillEmitsError(t *testing.T) {
	agent := &fakeAgent{}
	table := newTestTable(t, agent)
	conn := &fakeConn{}
	rt, err := table.OpenOrRebind(context.Background(), "sess-1", "user-1", conn)
	require.NoError(t, err)

	resolve := func(name string) (*skills.Skill, bool) { return nil, false }
	rt.HandleCommand(context.Background(), InboundCommand{Type: "skill_invoke", Skill: "missing"}, resolve)

	require.Eventually(t, func() bool {
		return len(conn.snapshot()) == 1
	}, time.Second, time.Millisecond)
	got := conn.snapshot()
	assert.Equal(t, "error", got[0].Type)
	assert.Contains(t, got[0].Message, "missing")
}

func TestHandleCommandUnknownTypeEmitsError(t *testing.T) {
	agent := &fakeAgent{}
	table := newTestTable(t, agent)
	conn := &fakeConn{}
	rt, err := table.OpenOrRebind(context.Background(), "sess-1", "user-1", conn)
	require.NoError(t, err)

	rt.HandleCommand(context.Background(), InboundCommand{Type: "bogus"}, nil)

	got := conn.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0].Type)
}

func TestDisposeIsIdempotentAndStopsFurtherCommands(t *testing.T) {
	agent := &fakeAgent{}
	table := newTestTable(t, agent)
	conn := &fakeConn{}
	_, err := table.OpenOrRebind(context.Background(), "sess-1", "user-1", conn)
	require.NoError(t, err)

	table.Dispose("sess-1")
	table.Dispose("sess-1")

	agent.mu.Lock()
	disposedCount := agent.disposed
	agent.mu.Unlock()
	assert.Equal(t, 1, disposedCount)

	_, ok := table.Get("sess-1")
	assert.False(t, ok)
}

func TestDisposeAllTearsDownEveryRuntime(t *testing.T) {
	agentA := &fakeAgent{}
	agentB := &fakeAgent{}
	tmp := t.TempDir()
	i := 0
	agents := []*fakeAgent{agentA, agentB}
	table := NewTable(nil, func(cwd string, tools agentcore.ToolExecutor) agentcore.Agent {
		a := agents[i]
		i++
		return a
	}, func(sessionID string) (string, error) {
		return tmp, nil
	}, "", "", zerolog.Nop())

	_, err := table.OpenOrRebind(context.Background(), "sess-1", "user-1", &fakeConn{})
	require.NoError(t, err)
	_, err = table.OpenOrRebind(context.Background(), "sess-2", "user-1", &fakeConn{})
	require.NoError(t, err)

	table.DisposeAll()

	assert.Equal(t, 1, agentA.disposed)
	assert.Equal(t, 1, agentB.disposed)
	_, ok := table.Get("sess-1")
	assert.False(t, ok)
}
