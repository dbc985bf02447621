package selfimprove

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/ashureev/agentchat/internal/domain"
)

// Reply is a validated analysis reply.
type Reply struct {
	Analysis domain.Analysis
	// AnalysisJSON is the "analysis" object exactly as the model wrote it.
	AnalysisJSON json.RawMessage
	Improvements domain.Improvements
}

var errNoJSON = errors.New("no JSON object found in response")

// ParseAnalysisReply extracts the first balanced JSON object from raw and
// checks every required field. Missing or mistyped fields are rejected with a
// ShapeError; nothing is defaulted.
func ParseAnalysisReply(raw string) (*Reply, error) {
	obj, ok := findJSONObject(raw)
	if !ok {
		return nil, &ParseError{Err: errNoJSON}
	}
	if !gjson.Valid(obj) {
		return nil, &ParseError{Err: fmt.Errorf("invalid JSON object")}
	}

	root := gjson.Parse(obj)
	analysis := root.Get("analysis")
	if !analysis.IsObject() {
		return nil, &ShapeError{Field: "analysis", Want: "an object"}
	}
	improvements := root.Get("improvements")
	if !improvements.IsObject() {
		return nil, &ShapeError{Field: "improvements", Want: "an object"}
	}

	checks := []struct {
		parent gjson.Result
		prefix string
		field  string
		array  bool
	}{
		{analysis, "analysis", "themes", true},
		{analysis, "analysis", "communicationStyle", false},
		{analysis, "analysis", "gaps", true},
		{analysis, "analysis", "recommendations", true},
		{improvements, "improvements", "name", false},
		{improvements, "improvements", "description", false},
		{improvements, "improvements", "systemPrompt", false},
		{improvements, "improvements", "reason", false},
	}
	for _, c := range checks {
		v := c.parent.Get(c.field)
		path := c.prefix + "." + c.field
		if c.array {
			if !isStringArray(v) {
				return nil, &ShapeError{Field: path, Want: "an array of strings"}
			}
			continue
		}
		if v.Type != gjson.String {
			return nil, &ShapeError{Field: path, Want: "a string"}
		}
	}

	reply := &Reply{AnalysisJSON: json.RawMessage(analysis.Raw)}
	if err := json.Unmarshal([]byte(analysis.Raw), &reply.Analysis); err != nil {
		return nil, &ParseError{Err: err}
	}
	if err := json.Unmarshal([]byte(improvements.Raw), &reply.Improvements); err != nil {
		return nil, &ParseError{Err: err}
	}
	return reply, nil
}

func isStringArray(v gjson.Result) bool {
	if !v.IsArray() {
		return false
	}
	ok := true
	v.ForEach(func(_, item gjson.Result) bool {
		if item.Type != gjson.String {
			ok = false
		}
		return ok
	})
	return ok
}

// findJSONObject returns the first balanced {...} span, skipping braces that
// appear inside JSON strings. Quotes in prose before the object are ignored.
func findJSONObject(input string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(input); i++ {
		ch := input[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' && depth > 0 {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return input[start : i+1], true
			}
		}
	}
	return "", false
}
