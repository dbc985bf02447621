package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/store"
)

// AgentHandler handles agent CRUD.
type AgentHandler struct {
	agents store.AgentStore
	logger *slog.Logger
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(agents store.AgentStore, logger *slog.Logger) *AgentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentHandler{agents: agents, logger: logger.With("component", "api.agents")}
}

// RegisterRoutes registers agent routes.
func (h *AgentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/agents", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Put("/{agentID}", h.Update)
		r.Delete("/{agentID}", h.Delete)
	})
}

type agentRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	SystemPrompt   string `json:"systemPrompt"`
	PreferredModel string `json:"preferredModel"`
}

func (req *agentRequest) validate() error {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	req.SystemPrompt = strings.TrimSpace(req.SystemPrompt)
	if req.Name == "" || req.Description == "" || req.SystemPrompt == "" {
		return errors.New("name, description, and system prompt are required")
	}
	return nil
}

// List returns the caller's agents and the shared defaults.
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	agents, err := h.agents.ListAgents(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if agents == nil {
		agents = []*domain.Agent{}
	}
	OK(w, map[string]interface{}{"agents": agents})
}

// Create adds an agent owned by the caller.
func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req agentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	agent := &domain.Agent{
		UserID:         userID,
		Name:           req.Name,
		Description:    req.Description,
		SystemPrompt:   req.SystemPrompt,
		PreferredModel: req.PreferredModel,
	}
	if err := h.agents.CreateAgent(r.Context(), agent); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.Info("Agent created", "user_id", userID, "agent_id", agent.ID)
	JSON(w, http.StatusCreated, map[string]interface{}{"success": true, "agent": agent})
}

// Update edits a caller-owned agent. Shared defaults are read-only here.
func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req agentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	agent, ok := h.loadEditable(w, r, userID)
	if !ok {
		return
	}
	agent.Name = req.Name
	agent.Description = req.Description
	agent.SystemPrompt = req.SystemPrompt
	if req.PreferredModel != "" {
		agent.PreferredModel = req.PreferredModel
	}
	if err := h.agents.UpdateAgent(r.Context(), agent); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	OK(w, map[string]interface{}{"agent": agent})
}

// Delete removes a caller-owned agent.
func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	agent, ok := h.loadEditable(w, r, userID)
	if !ok {
		return
	}
	if err := h.agents.DeleteAgent(r.Context(), agent.ID, userID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.Info("Agent deleted", "user_id", userID, "agent_id", agent.ID)
	OK(w, map[string]interface{}{"message": "agent deleted"})
}

func (h *AgentHandler) loadEditable(w http.ResponseWriter, r *http.Request, userID string) (*domain.Agent, bool) {
	agent, err := h.agents.GetAgentForUser(r.Context(), chi.URLParam(r, "agentID"), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return nil, false
	}
	if !agent.OwnedBy(userID) {
		Error(w, http.StatusForbidden, "cannot modify default agents")
		return nil, false
	}
	return agent, true
}
