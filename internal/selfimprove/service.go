// Package selfimprove tracks prompts per conversation, analyzes an agent's
// recent conversations with a language model, and records and applies the
// resulting revision proposals.
package selfimprove

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/agentchat/internal/config"
	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/llm"
	"github.com/ashureev/agentchat/internal/store"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	AgentReader
	MessageReader
	store.SettingsStore
	store.PromptCounter
	store.RevisionStore

	GetConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error)
}

// SettingsUpdate is a full replacement of a user's settings.
type SettingsUpdate struct {
	Enabled  bool
	Mode     string
	Interval int
}

// Service exposes the self-improvement operations to HTTP handlers and the CLI.
type Service struct {
	store      Store
	analyzer   *Analyzer
	applicator *Applicator
	cfg        config.SelfImproveConfig
	logger     *slog.Logger
}

// NewService wires the analyzer and applicator over st.
func NewService(st Store, completer llm.Completer, cfg config.SelfImproveConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      st,
		analyzer:   NewAnalyzer(st, st, st, completer, cfg.AnalysisModel, cfg.AnalysisTimeout, logger),
		applicator: NewApplicator(st, st, logger),
		cfg:        cfg,
		logger:     logger.With("component", "selfimprove"),
	}
}

// GetSettings returns the user's settings, creating defaults on first read.
func (s *Service) GetSettings(ctx context.Context, userID string) (*domain.Settings, error) {
	return s.store.GetOrCreateSettings(ctx, userID)
}

// UpdateSettings validates and stores new settings.
func (s *Service) UpdateSettings(ctx context.Context, userID string, upd SettingsUpdate) (*domain.Settings, error) {
	mode, err := domain.ParseMode(upd.Mode)
	if err != nil {
		return nil, &ValidationError{Field: "mode", Reason: "must be one of auto, manual, disabled"}
	}
	if upd.Interval < 1 {
		return nil, &ValidationError{Field: "promptInterval", Reason: "must be a positive integer"}
	}

	settings := &domain.Settings{
		UserID:   userID,
		Enabled:  upd.Enabled,
		Mode:     mode,
		Interval: upd.Interval,
	}
	if err := s.store.UpsertSettings(ctx, settings); err != nil {
		return nil, err
	}
	s.logger.Info("Settings updated",
		"user_id", userID,
		"enabled", settings.Enabled,
		"mode", settings.Mode,
		"interval", settings.Interval)
	return settings, nil
}

// TrackPrompt counts one user prompt for the conversation's bound agent and
// returns the new count.
func (s *Service) TrackPrompt(ctx context.Context, userID, conversationID string) (int, error) {
	conv, err := s.store.GetConversation(ctx, conversationID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, &ConversationNotFoundError{ConversationID: conversationID}
	}
	if err != nil {
		return 0, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.HasAgent() {
		return 0, &NotAssociatedError{ConversationID: conversationID}
	}
	return s.store.IncrementPromptCount(ctx, conversationID, conv.AgentID)
}

// Analyze runs an analysis cycle on demand.
func (s *Service) Analyze(ctx context.Context, userID, agentID string) (*AnalysisResult, error) {
	return s.analyzer.Analyze(ctx, agentID, userID)
}

// Apply applies a stored proposal to its agent.
func (s *Service) Apply(ctx context.Context, userID, agentID, proposalID string) (*domain.Agent, error) {
	return s.applicator.Apply(ctx, agentID, proposalID, userID)
}

// History lists the proposals the user produced for the agent, newest first.
func (s *Service) History(ctx context.Context, userID, agentID string, limit int) ([]*domain.RevisionProposal, error) {
	if _, err := s.store.GetAgentForUser(ctx, agentID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &AgentNotFoundError{AgentID: agentID}
		}
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if limit <= 0 || limit > store.DefaultHistoryLimit {
		limit = store.DefaultHistoryLimit
	}
	return s.store.ListRevisions(ctx, agentID, userID, limit)
}
