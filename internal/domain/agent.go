package domain

import "time"

// DefaultModel is used when an agent has no preferred model.
const DefaultModel = "deepseek-v3"

// Agent is a named system-prompt preset bound to a preferred LLM backend.
// UserID is empty for shared default agents.
type Agent struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	SystemPrompt   string    `json:"systemPrompt"`
	PreferredModel string    `json:"preferredModel"`
	IsDefault      bool      `json:"isDefault"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Snapshot returns the revisable triple of the agent.
func (a *Agent) Snapshot() Snapshot {
	return Snapshot{
		Name:         a.Name,
		Description:  a.Description,
		SystemPrompt: a.SystemPrompt,
	}
}

// Model returns the preferred model, falling back to DefaultModel.
func (a *Agent) Model() string {
	if a.PreferredModel == "" {
		return DefaultModel
	}
	return a.PreferredModel
}

// OwnedBy reports whether userID owns the agent and may change it.
// Shared defaults are visible to every user but owned by none.
func (a *Agent) OwnedBy(userID string) bool {
	return !a.IsDefault && a.UserID != "" && a.UserID == userID
}

// DefaultAgents returns the shared agents seeded into an empty database.
func DefaultAgents() []*Agent {
	return []*Agent{
		{
			Name:           "General Assistant",
			Description:    "A helpful assistant for everyday questions",
			SystemPrompt:   "You are a helpful, concise assistant. Answer clearly and ask for clarification when a request is ambiguous.",
			PreferredModel: DefaultModel,
			IsDefault:      true,
		},
		{
			Name:           "Code Reviewer",
			Description:    "Reviews code for correctness and readability",
			SystemPrompt:   "You are a senior software engineer reviewing code. Point out bugs first, then readability issues, and show corrected snippets.",
			PreferredModel: DefaultModel,
			IsDefault:      true,
		},
		{
			Name:           "Writing Coach",
			Description:    "Helps improve clarity and tone of written text",
			SystemPrompt:   "You are a writing coach. Suggest concrete edits that improve clarity and tone while keeping the author's voice.",
			PreferredModel: DefaultModel,
			IsDefault:      true,
		},
	}
}
