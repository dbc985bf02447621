package selfimprove

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashureev/agentchat/internal/domain"
)

func TestSampleExcerpts(t *testing.T) {
	var msgs []*domain.Message
	for i := 0; i < 30; i++ {
		msgs = append(msgs,
			&domain.Message{Content: "user message", IsUser: true},
			&domain.Message{Content: strings.Repeat("é", 300), IsUser: false},
		)
	}

	user, agent := sampleExcerpts(msgs)
	assert.Len(t, user, MaxExcerpts)
	assert.Len(t, agent, MaxExcerpts)
	assert.Equal(t, ExcerptRunes, len([]rune(agent[0])))
	assert.Equal(t, "user message", user[0])
}

func TestSampleExcerptsKeepsNewestFirst(t *testing.T) {
	msgs := []*domain.Message{
		{Content: "newest", IsUser: true},
		{Content: "older", IsUser: true},
	}
	user, agent := sampleExcerpts(msgs)
	assert.Equal(t, []string{"newest", "older"}, user)
	assert.Empty(t, agent)
}

func TestBuildAnalysisPrompt(t *testing.T) {
	current := domain.Snapshot{Name: "Helper", Description: "Helps", SystemPrompt: "Be helpful."}
	prompt := BuildAnalysisPrompt(current, []string{"how do I use channels?"}, nil)

	for _, want := range []string{
		"- Name: Helper",
		"- Description: Helps",
		"- System Prompt: Be helpful.",
		"- how do I use channels?",
		"Recent Agent Responses:\n- (none)",
		`"communicationStyle"`,
		`"systemPrompt"`,
		`"reason"`,
	} {
		assert.Contains(t, prompt, want)
	}
}
