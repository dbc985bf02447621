// Package chat runs a single chat turn: it stores the user's message, asks
// the conversation's agent for a reply and hands the turn to the
// self-improvement hook.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/llm"
	"github.com/ashureev/agentchat/internal/selfimprove"
	"github.com/ashureev/agentchat/internal/store"
)

const (
	maxTitleRunes  = 50
	fallbackWords  = 4
	titleMaxTokens = 20
	titleTemp      = 0.3
)

const titleInstruction = "Generate a short, concise title (max 4-5 words) for a conversation that starts with the following user message. Return only the title, nothing else."

// Store is the persistence surface a chat turn needs.
type Store interface {
	GetConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error)
	GetAgentForUser(ctx context.Context, agentID, userID string) (*domain.Agent, error)
	SetConversationAgent(ctx context.Context, conversationID, agentID string) error
	SetConversationTitle(ctx context.Context, conversationID, title string) error
	TouchConversation(ctx context.Context, conversationID string) error
	AddMessage(ctx context.Context, msg *domain.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)
}

// TurnHook is notified after a turn has been stored.
type TurnHook interface {
	Schedule(ctx context.Context, turn selfimprove.Turn)
}

// Result is a completed turn.
type Result struct {
	UserMessage *domain.Message `json:"userMessage"`
	AIMessage   *domain.Message `json:"aiMessage"`
	Title       string          `json:"title,omitempty"`
	AgentID     string          `json:"agentId,omitempty"`
}

// Service runs chat turns.
type Service struct {
	store     Store
	completer llm.Completer
	hook      TurnHook
	logger    *slog.Logger
}

// NewService creates a chat service. hook may be nil.
func NewService(st Store, completer llm.Completer, hook TurnHook, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		completer: completer,
		hook:      hook,
		logger:    logger.With("component", "chat"),
	}
}

// Send stores text as the user's message, binds agentID to the conversation
// when given, and stores the model's reply.
func (s *Service) Send(ctx context.Context, userID, conversationID, text, agentID string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &selfimprove.ValidationError{Field: "message", Reason: "content is required"}
	}

	conv, err := s.store.GetConversation(ctx, conversationID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &selfimprove.ConversationNotFoundError{ConversationID: conversationID}
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	agent, err := s.resolveAgent(ctx, conv, agentID, userID)
	if err != nil {
		return nil, err
	}

	userMsg := &domain.Message{ConversationID: conv.ID, Content: text, IsUser: true}
	if err := s.store.AddMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	history, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	model := domain.DefaultModel
	var systemPrompt string
	if agent != nil {
		model = agent.Model()
		systemPrompt = agent.SystemPrompt
	}

	reply, err := s.completer.Complete(ctx, llm.Request{
		Model:    model,
		Messages: buildMessages(systemPrompt, history),
	})
	if err != nil {
		return nil, &selfimprove.ProviderError{Err: err}
	}

	aiMsg := &domain.Message{ConversationID: conv.ID, Content: reply, IsUser: false}
	if err := s.store.AddMessage(ctx, aiMsg); err != nil {
		return nil, fmt.Errorf("store reply: %w", err)
	}
	if err := s.store.TouchConversation(ctx, conv.ID); err != nil {
		s.logger.Warn("Failed to touch conversation", "error", err, "conversation_id", conv.ID)
	}

	res := &Result{UserMessage: userMsg, AIMessage: aiMsg, AgentID: conv.AgentID}
	if conv.Title == domain.DefaultConversationTitle {
		res.Title = s.generateTitle(ctx, model, text)
		if err := s.store.SetConversationTitle(ctx, conv.ID, res.Title); err != nil {
			s.logger.Warn("Failed to set conversation title", "error", err, "conversation_id", conv.ID)
			res.Title = ""
		}
	}

	if s.hook != nil && conv.HasAgent() {
		s.hook.Schedule(ctx, selfimprove.Turn{
			UserID:         userID,
			ConversationID: conv.ID,
			AgentID:        conv.AgentID,
		})
	}

	return res, nil
}

// resolveAgent returns the agent that answers this turn, rebinding the
// conversation when agentID differs from the bound one. conv.AgentID is
// updated in place.
func (s *Service) resolveAgent(ctx context.Context, conv *domain.Conversation, agentID, userID string) (*domain.Agent, error) {
	if agentID == "" {
		agentID = conv.AgentID
	}
	if agentID == "" {
		return nil, nil
	}

	agent, err := s.store.GetAgentForUser(ctx, agentID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &selfimprove.AgentNotFoundError{AgentID: agentID}
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}

	if agentID != conv.AgentID {
		if err := s.store.SetConversationAgent(ctx, conv.ID, agentID); err != nil {
			return nil, fmt.Errorf("bind agent: %w", err)
		}
		s.logger.Info("Conversation agent changed",
			"conversation_id", conv.ID,
			"from", conv.AgentID,
			"to", agentID)
		conv.AgentID = agentID
	}
	return agent, nil
}

func buildMessages(systemPrompt string, history []*domain.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	for _, m := range history {
		role := llm.RoleAssistant
		if m.IsUser {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return msgs
}

// generateTitle asks the model for a short title and falls back to the
// first words of the message.
func (s *Service) generateTitle(ctx context.Context, model, firstMessage string) string {
	title, err := s.completer.Complete(ctx, llm.Request{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: titleInstruction},
			{Role: llm.RoleUser, Content: firstMessage},
		},
		MaxTokens:   titleMaxTokens,
		Temperature: titleTemp,
	})
	title = strings.Trim(strings.TrimSpace(title), `"'`)
	if err != nil || title == "" {
		if err != nil {
			s.logger.Debug("Title generation failed, using fallback", "error", err)
		}
		return fallbackTitle(firstMessage)
	}
	return truncate(title, maxTitleRunes)
}

func fallbackTitle(message string) string {
	words := strings.Fields(message)
	if len(words) <= fallbackWords {
		return truncate(strings.Join(words, " "), maxTitleRunes)
	}
	return truncate(strings.Join(words[:fallbackWords], " "), maxTitleRunes-3) + "..."
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
