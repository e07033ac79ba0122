package agentcore

import (
	"context"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AnthropicAgent is the concrete Agent backing implementation wired into
// internal/runtime by cmd/serve as every session's agent. It streams the SDK's
// message events and re-emits them as agentcore.Event values, which
// internal/events then translates to the outward wire alphabet.
type AnthropicAgent struct {
	client anthropic.Client
	model  anthropic.Model
	cwd    string
	tools  ToolExecutor
	log    zerolog.Logger

	mu          sync.Mutex
	history     []anthropic.MessageParam
	subscribers []func(Event)
	cancelTurn  context.CancelFunc
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

func NewAnthropicAgent(cfg AnthropicConfig, cwd string, tools ToolExecutor, log zerolog.Logger) *AnthropicAgent {
	return &AnthropicAgent{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  anthropic.Model(cfg.Model),
		cwd:    cwd,
		tools:  tools,
		log:    log.With().Str("component", "agentcore").Logger(),
	}
}

func (a *AnthropicAgent) Subscribe(onEvent func(Event)) func() {
	a.mu.Lock()
	a.subscribers = append(a.subscribers, onEvent)
	idx := len(a.subscribers) - 1
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if idx < len(a.subscribers) {
			a.subscribers[idx] = nil
		}
	}
}

func (a *AnthropicAgent) emit(e Event) {
	a.mu.Lock()
	subs := make([]func(Event), len(a.subscribers))
	copy(subs, a.subscribers)
	a.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(e)
		}
	}
}

// SendPrompt runs one turn to completion, streaming deltas and tool calls as
// Events in order: agent_start precedes the turn's first
// message_delta/tool_start, tool_start precedes its tool_end, message_end
// precedes agent_end.
func (a *AnthropicAgent) SendPrompt(ctx context.Context, text string) error {
	turnCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelTurn = cancel
	a.history = append(a.history, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
	history := append([]anthropic.MessageParam(nil), a.history...)
	a.mu.Unlock()
	defer cancel()

	a.emit(Event{Kind: EventAgentStart})

	stream := a.client.Messages.NewStreaming(turnCtx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 8192,
		Messages:  history,
	})

	var acc anthropic.Message
	var textBuf string
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			a.emit(Event{Kind: EventMessageEnd})
			a.emit(Event{Kind: EventAgentEnd})
			return err
		}

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok {
				textBuf += delta.Text
				a.emit(Event{Kind: EventMessageUpdate, Nested: NestedTextDelta, Delta: delta.Text})
			}
		case anthropic.ContentBlockStartEvent:
			if toolUse, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				a.emit(Event{Kind: EventToolExecStart, ToolID: toolUse.ID, ToolName: toolUse.Name})
			}
		case anthropic.MessageStopEvent:
			a.emit(Event{Kind: EventMessageEnd})
		}
	}
	if err := stream.Err(); err != nil {
		a.emit(Event{Kind: EventAgentEnd})
		return err
	}

	a.mu.Lock()
	a.history = append(a.history, acc.ToParam())
	a.mu.Unlock()

	a.runToolCalls(turnCtx, acc)

	a.emit(Event{Kind: EventAgentEnd})
	return nil
}

// runToolCalls executes any tool_use blocks the model requested, via the
// ToolExecutor (the Runtime's sandbox-wired bash.exec when sandboxed),
// pairing each with its tool_end before the turn ends.
func (a *AnthropicAgent) runToolCalls(ctx context.Context, msg anthropic.Message) {
	for _, block := range msg.Content {
		toolUse, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		var out string
		var isError bool
		if cmd, ok := toolUse.Input["command"].(string); ok && a.tools != nil {
			var buf []byte
			exitCode, err := a.tools.ExecBash(ctx, cmd, a.cwd, func(_ int, data []byte) {
				buf = append(buf, data...)
			}, 0)
			if err != nil {
				out, isError = err.Error(), true
			} else {
				out = string(buf)
				isError = exitCode != 0
			}
		}
		a.emit(Event{Kind: EventToolExecEnd, ToolID: toolUse.ID, ToolName: toolUse.Name, ToolResult: out, ToolIsError: isError})
	}
}

func (a *AnthropicAgent) SendSteer(ctx context.Context, text string) error {
	a.mu.Lock()
	a.history = append(a.history, anthropic.NewUserMessage(anthropic.NewTextBlock("[steer] "+text)))
	a.mu.Unlock()
	return nil
}

func (a *AnthropicAgent) Abort() {
	a.mu.Lock()
	cancel := a.cancelTurn
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Compact keeps only the most recent history message to keep the context
// window bounded; earlier messages are discarded, not summarized. It emits
// no context_usage event.
func (a *AnthropicAgent) Compact(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) <= 1 {
		return nil
	}
	summaryID := uuid.NewString()
	a.log.Debug().Str("summary_id", summaryID).Int("messages", len(a.history)).Msg("compacting history")
	a.history = a.history[len(a.history)-1:]
	return nil
}

func (a *AnthropicAgent) Dispose() {
	a.Abort()
}
