package selfimprove

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validReplyJSON = `{
  "analysis": {
    "themes": ["go", "concurrency"],
    "communicationStyle": "terse",
    "gaps": ["no examples"],
    "recommendations": ["show code"]
  },
  "improvements": {
    "name": "Gopher",
    "description": "Go expert",
    "systemPrompt": "You are a Go expert. Show code.",
    "reason": "users mostly ask about Go"
  }
}`

func TestParseAnalysisReplyWrappedInProse(t *testing.T) {
	raw := "Sure! Here is the analysis you asked for:\n```json\n" + validReplyJSON + "\n```\nLet me know {if} you need more."

	reply, err := ParseAnalysisReply(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "concurrency"}, reply.Analysis.Themes)
	assert.Equal(t, "terse", reply.Analysis.CommunicationStyle)
	assert.Equal(t, "Gopher", reply.Improvements.Name)
	assert.Equal(t, "users mostly ask about Go", reply.Improvements.Reason)
	assert.JSONEq(t, `{"themes":["go","concurrency"],"communicationStyle":"terse","gaps":["no examples"],"recommendations":["show code"]}`,
		string(reply.AnalysisJSON))
}

func TestParseAnalysisReplyBracesInsideStrings(t *testing.T) {
	raw := strings.Replace(validReplyJSON, "You are a Go expert. Show code.", `Use {braces} and \"quotes\" freely }`, 1)

	reply, err := ParseAnalysisReply(raw)
	require.NoError(t, err)
	assert.Equal(t, `Use {braces} and "quotes" freely }`, reply.Improvements.SystemPrompt)
}

func TestParseAnalysisReplyParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"prose only", "I could not analyze this conversation."},
		{"unbalanced", `{"analysis": {"themes": []`},
		{"not json", `{analysis: nope}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnalysisReply(tt.raw)
			var pe *ParseError
			assert.True(t, errors.As(err, &pe), "got %v", err)
		})
	}
}

func TestParseAnalysisReplyShapeErrors(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"missing analysis", `{"improvements":{}}`, "analysis"},
		{"analysis not object", `{"analysis":[],"improvements":{}}`, "analysis"},
		{"missing improvements", `{"analysis":{}}`, "improvements"},
		{"missing themes", strings.Replace(validReplyJSON, `"themes": ["go", "concurrency"],`, "", 1), "analysis.themes"},
		{"themes not strings", strings.Replace(validReplyJSON, `["go", "concurrency"]`, `["go", 7]`, 1), "analysis.themes"},
		{"style not string", strings.Replace(validReplyJSON, `"terse"`, `42`, 1), "analysis.communicationStyle"},
		{"missing reason", strings.Replace(validReplyJSON, `,
    "reason": "users mostly ask about Go"`, "", 1), "improvements.reason"},
		{"null system prompt", strings.Replace(validReplyJSON, `"You are a Go expert. Show code."`, `null`, 1), "improvements.systemPrompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnalysisReply(tt.raw)
			var se *ShapeError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tt.field, se.Field)
		})
	}
}

func TestFindJSONObject(t *testing.T) {
	got, ok := findJSONObject(`He said "wait" then {"a":{"b":"}"}} and {"c":1}`)
	require.True(t, ok)
	assert.Equal(t, `{"a":{"b":"}"}}`, got)

	_, ok = findJSONObject("} no object {")
	assert.False(t, ok)
}
