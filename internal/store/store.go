// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/agentchat/internal/domain"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	// or is not visible to the requesting user.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an optimistic update found the row
	// in a different state than expected.
	ErrConflict = errors.New("conflict")
)

// UserStore persists anonymous users.
type UserStore interface {
	// GetUser retrieves a user by ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// AgentStore is the agent CRUD collaborator.
type AgentStore interface {
	// GetAgentForUser returns the agent if it is owned by userID or is a shared default.
	GetAgentForUser(ctx context.Context, agentID, userID string) (*domain.Agent, error)

	// ListAgents returns the user's agents followed by shared defaults.
	ListAgents(ctx context.Context, userID string) ([]*domain.Agent, error)

	CreateAgent(ctx context.Context, agent *domain.Agent) error

	// UpdateAgent overwrites a user-owned agent's editable fields.
	UpdateAgent(ctx context.Context, agent *domain.Agent) error

	DeleteAgent(ctx context.Context, agentID, userID string) error

	// SeedDefaultAgents inserts shared defaults when none exist yet.
	SeedDefaultAgents(ctx context.Context, agents []*domain.Agent) (int, error)
}

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// GetConversation returns the conversation if it belongs to userID.
	GetConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error)

	// ListConversations returns the user's conversations, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]*domain.Conversation, error)

	DeleteConversation(ctx context.Context, conversationID, userID string) error

	SetConversationAgent(ctx context.Context, conversationID, agentID string) error
	SetConversationTitle(ctx context.Context, conversationID, title string) error
	TouchConversation(ctx context.Context, conversationID string) error

	AddMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns a conversation's messages oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)

	// RecentAgentMessages returns up to limit messages, newest first, across all of
	// the user's conversations bound to agentID.
	RecentAgentMessages(ctx context.Context, agentID, userID string, limit int) ([]*domain.Message, error)

	// ChatStats counts the user's conversations and messages.
	ChatStats(ctx context.Context, userID string) (*domain.ChatStats, error)
}

// SettingsStore persists per-user self-improvement settings.
type SettingsStore interface {
	// GetOrCreateSettings returns the user's settings, creating defaults on first read.
	GetOrCreateSettings(ctx context.Context, userID string) (*domain.Settings, error)

	// UpsertSettings writes already-validated settings.
	UpsertSettings(ctx context.Context, settings *domain.Settings) error
}

// PromptCounter tracks user prompts per (conversation, agent) pair.
type PromptCounter interface {
	// IncrementPromptCount atomically adds one and returns the new count.
	IncrementPromptCount(ctx context.Context, conversationID, agentID string) (int, error)

	// GetPromptCount returns the current record. Returns ErrNotFound when no prompt was tracked.
	GetPromptCount(ctx context.Context, conversationID, agentID string) (*domain.PromptCount, error)

	// MarkAnalyzed stamps the time of the last analysis cycle.
	MarkAnalyzed(ctx context.Context, conversationID, agentID string, at time.Time) error
}

// RevisionStore persists revision proposals.
type RevisionStore interface {
	// RecordRevision inserts a proposal and returns its generated ID.
	RecordRevision(ctx context.Context, proposal *domain.RevisionProposal) (string, error)

	// ListRevisions returns up to limit proposals userID produced for the agent, newest first.
	ListRevisions(ctx context.Context, agentID, userID string, limit int) ([]*domain.RevisionProposal, error)

	// GetRevision returns the proposal if userID produced it, ErrNotFound otherwise.
	GetRevision(ctx context.Context, id, userID string) (*domain.RevisionProposal, error)

	// MarkRevisionApplied sets the applied flag. Calling it again is a no-op.
	MarkRevisionApplied(ctx context.Context, id string) error

	// ApplyRevision copies the proposed triple onto the agent and marks the
	// proposal applied in one transaction. The agent row is only updated if it
	// still matches proposal.Previous; otherwise ErrConflict is returned.
	ApplyRevision(ctx context.Context, proposal *domain.RevisionProposal) (*domain.Agent, error)
}

// Repository is the full persistence surface used by the server.
type Repository interface {
	UserStore
	AgentStore
	ConversationStore
	SettingsStore
	PromptCounter
	RevisionStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
