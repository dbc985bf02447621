package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode selects what happens to a proposal once analysis produced it.
type Mode string

const (
	// ModeAuto applies proposals immediately.
	ModeAuto Mode = "auto"
	// ModeManual waits for a human decision.
	ModeManual Mode = "manual"
	// ModeDisabled records proposals as an audit trail only.
	ModeDisabled Mode = "disabled"
)

// ParseMode converts a wire value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAuto, ModeManual, ModeDisabled:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Defaults for a freshly created settings record.
const (
	DefaultMode     = ModeManual
	DefaultInterval = 5
)

// Settings is the per-user self-improvement configuration.
type Settings struct {
	UserID    string    `json:"-"`
	Enabled   bool      `json:"isEnabled"`
	Mode      Mode      `json:"mode"`
	Interval  int       `json:"promptInterval"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// DefaultSettings returns the record created lazily on first read.
func DefaultSettings(userID string) *Settings {
	return &Settings{
		UserID:   userID,
		Enabled:  false,
		Mode:     DefaultMode,
		Interval: DefaultInterval,
	}
}

// PromptCount tracks user prompts for a (conversation, agent) pair since the last analysis.
type PromptCount struct {
	ConversationID string
	AgentID        string
	Count          int
	LastAnalyzedAt *time.Time
}

// Snapshot is the revisable part of an agent.
type Snapshot struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"systemPrompt"`
}

// Analysis is the structured usage analysis returned by the model.
type Analysis struct {
	Themes             []string `json:"themes"`
	CommunicationStyle string   `json:"communicationStyle"`
	Gaps               []string `json:"gaps"`
	Recommendations    []string `json:"recommendations"`
}

// Improvements is the model's proposed rewrite of an agent.
type Improvements struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"systemPrompt"`
	Reason       string `json:"reason"`
}

// Snapshot drops the reason from the proposal.
func (i Improvements) Snapshot() Snapshot {
	return Snapshot{
		Name:         i.Name,
		Description:  i.Description,
		SystemPrompt: i.SystemPrompt,
	}
}

// RevisionProposal is an immutable history record of a suggested agent rewrite.
// Only Applied changes after creation, and only from false to true.
// UserID is the user whose conversations produced it; only that user sees it.
type RevisionProposal struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agentId"`
	UserID    string          `json:"-"`
	Previous  Snapshot        `json:"previous"`
	Proposed  Snapshot        `json:"proposed"`
	Analysis  json.RawMessage `json:"analysisData,omitempty"`
	Reason    string          `json:"improvementReason"`
	Applied   bool            `json:"isApplied"`
	CreatedAt time.Time       `json:"createdAt"`
}
