package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/identity"
	"github.com/ashureev/agentchat/internal/selfimprove"
)

// SelfImproveService is the self-improvement surface exposed over HTTP.
type SelfImproveService interface {
	GetSettings(ctx context.Context, userID string) (*domain.Settings, error)
	UpdateSettings(ctx context.Context, userID string, upd selfimprove.SettingsUpdate) (*domain.Settings, error)
	TrackPrompt(ctx context.Context, userID, conversationID string) (int, error)
	Analyze(ctx context.Context, userID, agentID string) (*selfimprove.AnalysisResult, error)
	Apply(ctx context.Context, userID, agentID, proposalID string) (*domain.Agent, error)
	History(ctx context.Context, userID, agentID string, limit int) ([]*domain.RevisionProposal, error)
}

// SelfImproveHandler handles /api/self-improvement endpoints.
type SelfImproveHandler struct {
	svc     SelfImproveService
	limiter *RateLimiter
	stream  http.Handler
	logger  *slog.Logger
}

// NewSelfImproveHandler creates the handler. limiter and stream may be nil.
func NewSelfImproveHandler(svc SelfImproveService, limiter *RateLimiter, stream http.Handler, logger *slog.Logger) *SelfImproveHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SelfImproveHandler{
		svc:     svc,
		limiter: limiter,
		stream:  stream,
		logger:  logger.With("component", "api.selfimprove"),
	}
}

// RegisterRoutes registers self-improvement routes.
func (h *SelfImproveHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/self-improvement", func(r chi.Router) {
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
		r.Post("/conversations/{conversationID}/track-prompt", h.TrackPrompt)
		r.Post("/agents/{agentID}/analyze", h.Analyze)
		r.Get("/agents/{agentID}/history", h.History)
		r.Post("/agents/{agentID}/apply-improvement/{historyID}", h.Apply)
		if h.stream != nil {
			r.Get("/stream", h.stream.ServeHTTP)
		}
	})
}

// GetSettings returns the caller's settings, creating defaults on first read.
func (h *SelfImproveHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	settings, err := h.svc.GetSettings(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	OK(w, map[string]interface{}{"settings": settings})
}

type settingsRequest struct {
	IsEnabled      *bool  `json:"isEnabled"`
	Mode           string `json:"mode"`
	PromptInterval *int   `json:"promptInterval"`
}

// UpdateSettings replaces the caller's settings.
func (h *SelfImproveHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.IsEnabled == nil {
		Error(w, http.StatusBadRequest, "invalid isEnabled: must be a boolean")
		return
	}
	if req.PromptInterval == nil {
		Error(w, http.StatusBadRequest, "invalid promptInterval: must be a positive integer")
		return
	}

	settings, err := h.svc.UpdateSettings(r.Context(), userID, selfimprove.SettingsUpdate{
		Enabled:  *req.IsEnabled,
		Mode:     req.Mode,
		Interval: *req.PromptInterval,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	OK(w, map[string]interface{}{"settings": settings})
}

// TrackPrompt counts a user prompt for the conversation's agent.
func (h *SelfImproveHandler) TrackPrompt(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	count, err := h.svc.TrackPrompt(r.Context(), userID, chi.URLParam(r, "conversationID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	OK(w, map[string]interface{}{"promptCount": count})
}

// Analyze runs an on-demand analysis of the agent.
func (h *SelfImproveHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	agentID := chi.URLParam(r, "agentID")

	if h.limiter != nil && !h.limiter.Allow(userID) {
		h.logger.Warn("Analyze rate limited",
			"user_id", userID,
			"agent_id", agentID,
			"ip", identity.IPFromRequest(r))
		Error(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
		return
	}

	result, err := h.svc.Analyze(r.Context(), userID, agentID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	OK(w, map[string]interface{}{
		"analysisId":   result.ProposalID,
		"analysis":     result.Analysis,
		"improvements": result.Improvements,
		"currentAgent": result.Current,
	})
}

// historyEntry is the flat wire form of a revision proposal.
type historyEntry struct {
	ID                   string          `json:"id"`
	PreviousName         string          `json:"previousName"`
	PreviousDescription  string          `json:"previousDescription"`
	PreviousSystemPrompt string          `json:"previousSystemPrompt"`
	NewName              string          `json:"newName"`
	NewDescription       string          `json:"newDescription"`
	NewSystemPrompt      string          `json:"newSystemPrompt"`
	AnalysisData         json.RawMessage `json:"analysisData"`
	ImprovementReason    string          `json:"improvementReason"`
	IsApplied            bool            `json:"isApplied"`
	CreatedAt            time.Time       `json:"createdAt"`
}

func toHistoryEntry(p *domain.RevisionProposal) historyEntry {
	analysis := p.Analysis
	if len(analysis) == 0 {
		analysis = json.RawMessage("null")
	}
	return historyEntry{
		ID:                   p.ID,
		PreviousName:         p.Previous.Name,
		PreviousDescription:  p.Previous.Description,
		PreviousSystemPrompt: p.Previous.SystemPrompt,
		NewName:              p.Proposed.Name,
		NewDescription:       p.Proposed.Description,
		NewSystemPrompt:      p.Proposed.SystemPrompt,
		AnalysisData:         analysis,
		ImprovementReason:    p.Reason,
		IsApplied:            p.Applied,
		CreatedAt:            p.CreatedAt,
	}
}

// History lists the agent's revision proposals, newest first.
func (h *SelfImproveHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			Error(w, http.StatusBadRequest, "invalid limit: must be a positive integer")
			return
		}
		limit = n
	}

	proposals, err := h.svc.History(r.Context(), userID, chi.URLParam(r, "agentID"), limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	history := make([]historyEntry, 0, len(proposals))
	for _, p := range proposals {
		history = append(history, toHistoryEntry(p))
	}
	OK(w, map[string]interface{}{"history": history})
}

// Apply copies a stored proposal onto its agent.
func (h *SelfImproveHandler) Apply(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	agent, err := h.svc.Apply(r.Context(), userID, chi.URLParam(r, "agentID"), chi.URLParam(r, "historyID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	OK(w, map[string]interface{}{"agent": agent})
}
