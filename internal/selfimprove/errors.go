package selfimprove

import "fmt"

// ValidationError rejects a settings update.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotAssociatedError means the conversation has no agent bound.
type NotAssociatedError struct {
	ConversationID string
}

func (e *NotAssociatedError) Error() string {
	return fmt.Sprintf("no agent associated with conversation %s", e.ConversationID)
}

// ConversationNotFoundError means the conversation is missing or owned by someone else.
type ConversationNotFoundError struct {
	ConversationID string
}

func (e *ConversationNotFoundError) Error() string {
	return fmt.Sprintf("conversation %s not found", e.ConversationID)
}

// AgentNotFoundError means the agent is missing or not visible to the user.
type AgentNotFoundError struct {
	AgentID string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent %s not found", e.AgentID)
}

// ProposalNotFoundError means the proposal is missing or belongs to another agent.
type ProposalNotFoundError struct {
	ProposalID string
	AgentID    string
}

func (e *ProposalNotFoundError) Error() string {
	return fmt.Sprintf("improvement %s not found for agent %s", e.ProposalID, e.AgentID)
}

// InsufficientDataError means there are too few messages to analyze.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("not enough conversation data for analysis: have %d messages, need %d", e.Have, e.Need)
}

// ProviderError wraps a failed or timed-out model call.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("analysis provider: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ParseError means the model reply held no parseable JSON object.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse analysis reply: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ShapeError means the reply parsed but a required field is missing or mistyped.
type ShapeError struct {
	Field string
	Want  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("analysis reply: field %q must be %s", e.Field, e.Want)
}

// StaleProposalError means the agent changed after the proposal was created.
type StaleProposalError struct {
	ProposalID string
	AgentID    string
}

func (e *StaleProposalError) Error() string {
	return fmt.Sprintf("improvement %s is stale: agent %s changed since analysis", e.ProposalID, e.AgentID)
}

// SharedAgentError means the agent is a shared default, which revisions never modify.
type SharedAgentError struct {
	AgentID string
}

func (e *SharedAgentError) Error() string {
	return fmt.Sprintf("agent %s is a shared default and cannot be revised", e.AgentID)
}
