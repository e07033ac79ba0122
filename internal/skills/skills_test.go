package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandWrapsBodyInSkillTag(t *testing.T) {
	skill := &Skill{Name: "deploy", Body: "run the deploy script", Enabled: true}
	prompt, ok := Expand(skill, "")
	assert.True(t, ok)
	assert.Equal(t, `<skill name="deploy">run the deploy script</skill>`, prompt)
}

func TestExpandAppendsUserRequestWhenArgsNonEmpty(t *testing.T) {
	skill := &Skill{Name: "deploy", Body: "run it", Enabled: true}
	prompt, ok := Expand(skill, "to staging")
	assert.True(t, ok)
	assert.Equal(t, "<skill name=\"deploy\">run it</skill>\nUser request: to staging", prompt)
}

func TestExpandDisabledSkillReturnsNotOK(t *testing.T) {
	skill := &Skill{Name: "deploy", Body: "run it", Enabled: false}
	_, ok := Expand(skill, "")
	assert.False(t, ok)
}

func TestExpandNilSkillReturnsNotOK(t *testing.T) {
	_, ok := Expand(nil, "")
	assert.False(t, ok)
}
