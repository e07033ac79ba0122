// Package agentcore defines the narrow Agent contract the Session Runtime
// (C5) drives, the internal agent event vocabulary C2 translates, and one
// concrete backing implementation against the Anthropic API. The agent model
// API is an external collaborator: the Agent interface is the entire
// surface the rest of the system depends on.
package agentcore

import "context"

// EventKind enumerates the agent SDK's internal vocabulary, the input side
// of C2's translation table.
type EventKind string

const (
	EventAgentStart    EventKind = "agent_start"
	EventMessageUpdate EventKind = "message_update"
	EventMessageEnd    EventKind = "message_end"
	EventToolExecStart EventKind = "tool_execution_start"
	EventToolExecEnd   EventKind = "tool_execution_end"
	EventAgentEnd      EventKind = "agent_end"
)

// NestedKind covers the sub-events carried by message_update; only
// text_delta survives translation, everything else (thinking deltas, etc.)
// is dropped by C2.
type NestedKind string

const (
	NestedTextDelta NestedKind = "text_delta"
	NestedThinking  NestedKind = "thinking_delta"
)

// Event is the single envelope type every agent callback receives. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// message_update
	Nested NestedKind
	Delta  string

	// tool_execution_start / tool_execution_end
	ToolID      string
	ToolName    string
	ToolArgs    map[string]any
	ToolResult  string
	ToolIsError bool
}

// Agent is the contract Session Runtime (C5) drives. cwd is a host or
// container path depending on sandbox wiring (see internal/runtime).
type Agent interface {
	// Subscribe registers a callback invoked once per Event, in emission
	// order, for the lifetime of the agent. Returns an unsubscribe func.
	Subscribe(onEvent func(Event)) (unsubscribe func())

	SendPrompt(ctx context.Context, text string) error
	SendSteer(ctx context.Context, text string) error
	Abort()
	Compact(ctx context.Context) error

	// Dispose cancels any in-flight turn and releases resources. Idempotent.
	Dispose()
}

// ToolExecutor is how the Runtime overrides bash/read/edit/write. The agent
// implementation calls this instead of executing tools itself when sandbox
// mode is wired in.
type ToolExecutor interface {
	ExecBash(ctx context.Context, command string, cwd string, onData func(stream int, data []byte), timeoutSeconds int) (exitCode int, err error)
}
