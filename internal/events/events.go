// Package events implements the Event Translator (C2): a pure function
// mapping internal/agentcore's agent event vocabulary to the outward wire
// alphabet. No I/O, no state, no goroutines.
package events

import "github.com/agentserver/sessionrt/internal/agentcore"

type Kind string

const (
	KindAgentStart   Kind = "agent_start"
	KindMessageDelta Kind = "message_delta"
	KindMessageEnd   Kind = "message_end"
	KindToolStart    Kind = "tool_start"
	KindToolEnd      Kind = "tool_end"
	KindAgentEnd     Kind = "agent_end"
	KindSkillStart   Kind = "skill_start"
	KindSkillEnd     Kind = "skill_end"
	KindFilesChanged Kind = "files_changed"
	KindContextUsage Kind = "context_usage"
	KindError        Kind = "error"
)

// Event is the outward wire shape. Fields are JSON-tagged for direct
// marshaling by internal/gateway; only the fields relevant to Kind are set.
type Event struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Result  string         `json:"result,omitempty"`
	IsError bool           `json:"isError,omitempty"`

	Skill string `json:"skill,omitempty"`
	Label string `json:"label,omitempty"`

	Paths []string `json:"paths,omitempty"`

	Tokens        int     `json:"tokens,omitempty"`
	ContextWindow int     `json:"contextWindow,omitempty"`
	Percent       float64 `json:"percent,omitempty"`

	Message string `json:"message,omitempty"`
}

// Translate maps one internal agent event to its outward form. The second
// return is false when the internal event has no wire counterpart
// ("Anything else → drop").
func Translate(in agentcore.Event) (Event, bool) {
	switch in.Kind {
	case agentcore.EventAgentStart:
		return Event{Type: string(KindAgentStart)}, true

	case agentcore.EventMessageUpdate:
		if in.Nested != agentcore.NestedTextDelta {
			return Event{}, false
		}
		return Event{Type: string(KindMessageDelta), Text: in.Delta}, true

	case agentcore.EventMessageEnd:
		return Event{Type: string(KindMessageEnd)}, true

	case agentcore.EventToolExecStart:
		return Event{Type: string(KindToolStart), Tool: in.ToolName, Args: in.ToolArgs}, true

	case agentcore.EventToolExecEnd:
		return Event{Type: string(KindToolEnd), Tool: in.ToolName, Result: in.ToolResult, IsError: in.ToolIsError}, true

	case agentcore.EventAgentEnd:
		return Event{Type: string(KindAgentEnd)}, true

	default:
		return Event{}, false
	}
}

// SkillStart/SkillEnd, FilesChanged, ContextUsage and Error have no internal
// agentcore counterpart. SkillStart/SkillEnd, FilesChanged and Error are
// constructed in internal/runtime (skill expansion, the watcher subscription
// and command/malformed-frame handling respectively); nothing in
// internal/runtime constructs ContextUsage.
func SkillStart(skill, label string) Event {
	return Event{Type: string(KindSkillStart), Skill: skill, Label: label}
}
func SkillEnd(skill string) Event       { return Event{Type: string(KindSkillEnd), Skill: skill} }
func FilesChanged(paths []string) Event { return Event{Type: string(KindFilesChanged), Paths: paths} }
func ContextUsage(tokens, contextWindow int) Event {
	percent := 0.0
	if contextWindow > 0 {
		percent = float64(tokens) / float64(contextWindow) * 100
	}
	return Event{Type: string(KindContextUsage), Tokens: tokens, ContextWindow: contextWindow, Percent: percent}
}
func Error(message string) Event { return Event{Type: string(KindError), Message: message} }
