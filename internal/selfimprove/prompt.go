package selfimprove

import (
	"strings"

	"github.com/ashureev/agentchat/internal/domain"
)

// Sampling limits for an analysis cycle.
const (
	MaxAnalysisMessages = 100
	MinAnalysisMessages = 5
	MaxExcerpts         = 20
	ExcerptRunes        = 200
)

// sampleExcerpts splits newest-first messages into at most MaxExcerpts user
// and MaxExcerpts agent excerpts, each cut to ExcerptRunes.
func sampleExcerpts(msgs []*domain.Message) (user, agent []string) {
	for _, m := range msgs {
		if m.IsUser {
			if len(user) < MaxExcerpts {
				user = append(user, truncateRunes(m.Content, ExcerptRunes))
			}
		} else if len(agent) < MaxExcerpts {
			agent = append(agent, truncateRunes(m.Content, ExcerptRunes))
		}
	}
	return user, agent
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// BuildAnalysisPrompt renders the single-turn analysis request for an agent.
func BuildAnalysisPrompt(current domain.Snapshot, userExcerpts, agentExcerpts []string) string {
	var b strings.Builder

	b.WriteString("Analyze the following conversation patterns between a user and an AI agent ")
	b.WriteString("to suggest improvements to the agent's system prompt.\n\n")

	b.WriteString("Current Agent:\n")
	b.WriteString("- Name: " + current.Name + "\n")
	b.WriteString("- Description: " + current.Description + "\n")
	b.WriteString("- System Prompt: " + current.SystemPrompt + "\n\n")

	b.WriteString("Recent User Messages:\n")
	writeBullets(&b, userExcerpts)
	b.WriteString("\nRecent Agent Responses:\n")
	writeBullets(&b, agentExcerpts)

	b.WriteString(`
Please analyze:
1. What themes and topics are most common in the conversations?
2. What style of communication does the user prefer?
3. Are there gaps in the agent's responses or areas for improvement?
4. What specific expertise or personality traits would make the agent more effective?

Based on this analysis, suggest an improved:
- Agent Name (if needed)
- Agent Description
- System Prompt

Respond with a single JSON object and nothing else, using exactly this structure:
{
  "analysis": {
    "themes": ["theme1", "theme2"],
    "communicationStyle": "description",
    "gaps": ["gap1", "gap2"],
    "recommendations": ["rec1", "rec2"]
  },
  "improvements": {
    "name": "new name",
    "description": "new description",
    "systemPrompt": "new system prompt",
    "reason": "explanation of why these changes would improve the agent"
  }
}`)

	return b.String()
}

func writeBullets(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("- (none)\n")
		return
	}
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
}
