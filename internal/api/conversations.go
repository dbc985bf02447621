package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agentchat/internal/chat"
	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/store"
)

// ChatService runs a chat turn.
type ChatService interface {
	Send(ctx context.Context, userID, conversationID, text, agentID string) (*chat.Result, error)
}

// ConversationStore is the storage the conversation routes need.
type ConversationStore interface {
	store.ConversationStore
	GetAgentForUser(ctx context.Context, agentID, userID string) (*domain.Agent, error)
}

// ConversationHandler handles conversations and chat turns.
type ConversationHandler struct {
	store  ConversationStore
	chat   ChatService
	logger *slog.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(st ConversationStore, chatSvc ChatService, logger *slog.Logger) *ConversationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationHandler{
		store:  st,
		chat:   chatSvc,
		logger: logger.With("component", "api.conversations"),
	}
}

// RegisterRoutes registers conversation routes.
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/conversations", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/stats", h.Stats)
		r.Get("/{conversationID}", h.Get)
		r.Delete("/{conversationID}", h.Delete)
		r.Post("/{conversationID}/messages", h.SendMessage)
	})
}

// List returns the caller's conversations, most recent first.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	convs, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if convs == nil {
		convs = []*domain.Conversation{}
	}
	OK(w, map[string]interface{}{"conversations": convs})
}

// Stats returns conversation and message counts for the caller.
func (h *ConversationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	stats, err := h.store.ChatStats(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	OK(w, map[string]interface{}{"stats": stats})
}

type createConversationRequest struct {
	Title   string `json:"title"`
	AgentID string `json:"agentId"`
}

// Create starts a conversation, optionally bound to an agent.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createConversationRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if req.AgentID != "" {
		if _, err := h.store.GetAgentForUser(r.Context(), req.AgentID, userID); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
	}

	conv := &domain.Conversation{UserID: userID, AgentID: req.AgentID, Title: req.Title}
	if err := h.store.CreateConversation(r.Context(), conv); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{"success": true, "conversation": conv})
}

// Get returns a conversation with its messages.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conv, err := h.store.GetConversation(r.Context(), chi.URLParam(r, "conversationID"), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	msgs, err := h.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	OK(w, map[string]interface{}{"conversation": conv, "messages": msgs})
}

// Delete removes a conversation and its messages.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteConversation(r.Context(), chi.URLParam(r, "conversationID"), userID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	OK(w, map[string]interface{}{"message": "conversation deleted"})
}

type sendMessageRequest struct {
	Message string `json:"message"`
	AgentID string `json:"agentId"`
}

// SendMessage runs a chat turn in the conversation.
func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.chat.Send(r.Context(), userID, chi.URLParam(r, "conversationID"), req.Message, req.AgentID)
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	body := map[string]interface{}{
		"userMessage": res.UserMessage,
		"aiMessage":   res.AIMessage,
	}
	if res.Title != "" {
		body["title"] = res.Title
	}
	OK(w, body)
}
