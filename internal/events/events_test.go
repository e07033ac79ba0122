package events

import (
	"testing"

	"github.com/agentserver/sessionrt/internal/agentcore"
	"github.com/stretchr/testify/assert"
)

func TestTranslateAgentStart(t *testing.T) {
	out, ok := Translate(agentcore.Event{Kind: agentcore.EventAgentStart})
	assert.True(t, ok)
	assert.Equal(t, string(KindAgentStart), out.Type)
}

func TestTranslateTextDeltaCarriesText(t *testing.T) {
	out, ok := Translate(agentcore.Event{
		Kind:   agentcore.EventMessageUpdate,
		Nested: agentcore.NestedTextDelta,
		Delta:  "hello",
	})
	assert.True(t, ok)
	assert.Equal(t, string(KindMessageDelta), out.Type)
	assert.Equal(t, "hello", out.Text)
}

func TestTranslateThinkingDeltaIsDropped(t *testing.T) {
	_, ok := Translate(agentcore.Event{
		Kind:   agentcore.EventMessageUpdate,
		Nested: agentcore.NestedThinking,
		Delta:  "reasoning...",
	})
	assert.False(t, ok)
}

func TestTranslateUnknownKindIsDropped(t *testing.T) {
	_, ok := Translate(agentcore.Event{Kind: agentcore.EventKind("something_else")})
	assert.False(t, ok)
}

func TestTranslateToolStartAndEndPairing(t *testing.T) {
	start, ok := Translate(agentcore.Event{
		Kind:     agentcore.EventToolExecStart,
		ToolID:   "call-1",
		ToolName: "bash",
		ToolArgs: map[string]any{"command": "ls"},
	})
	assert.True(t, ok)
	assert.Equal(t, string(KindToolStart), start.Type)
	assert.Equal(t, "bash", start.Tool)

	end, ok := Translate(agentcore.Event{
		Kind:        agentcore.EventToolExecEnd,
		ToolID:      "call-1",
		ToolName:    "bash",
		ToolResult:  "ok",
		ToolIsError: false,
	})
	assert.True(t, ok)
	assert.Equal(t, string(KindToolEnd), end.Type)
	assert.Equal(t, "bash", end.Tool)
	assert.False(t, end.IsError)
}

func TestContextUsagePercentHandlesZeroWindow(t *testing.T) {
	e := ContextUsage(500, 0)
	assert.Equal(t, 0.0, e.Percent)
}

func TestContextUsagePercentComputed(t *testing.T) {
	e := ContextUsage(50, 200)
	assert.Equal(t, 25.0, e.Percent)
}

func TestSkillStartAndEndCarrySkillName(t *testing.T) {
	start := SkillStart("deploy", "Deploy")
	assert.Equal(t, string(KindSkillStart), start.Type)
	assert.Equal(t, "deploy", start.Skill)
	assert.Equal(t, "Deploy", start.Label)

	end := SkillEnd("deploy")
	assert.Equal(t, string(KindSkillEnd), end.Type)
	assert.Equal(t, "deploy", end.Skill)
}

func TestFilesChangedCarriesPaths(t *testing.T) {
	e := FilesChanged([]string{"a.go", "b.go"})
	assert.Equal(t, string(KindFilesChanged), e.Type)
	assert.Equal(t, []string{"a.go", "b.go"}, e.Paths)
}

func TestErrorCarriesMessage(t *testing.T) {
	e := Error("boom")
	assert.Equal(t, string(KindError), e.Type)
	assert.Equal(t, "boom", e.Message)
}
