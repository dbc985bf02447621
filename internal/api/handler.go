// Package api provides HTTP handlers for the agentchat API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/agentchat/internal/identity"
	"github.com/ashureev/agentchat/internal/selfimprove"
	"github.com/ashureev/agentchat/internal/store"
)

const maxBodyBytes = 1 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"success":false,"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// OK writes a success envelope merged with fields.
func OK(w http.ResponseWriter, fields map[string]interface{}) {
	body := map[string]interface{}{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	JSON(w, http.StatusOK, body)
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// writeServiceError maps service errors to status codes. Unknown errors are
// logged and reported as 500 without leaking details.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		validation    *selfimprove.ValidationError
		notAssociated *selfimprove.NotAssociatedError
		insufficient  *selfimprove.InsufficientDataError
		convNotFound  *selfimprove.ConversationNotFoundError
		agentNotFound *selfimprove.AgentNotFoundError
		propNotFound  *selfimprove.ProposalNotFoundError
		stale         *selfimprove.StaleProposalError
		provider      *selfimprove.ProviderError
		parse         *selfimprove.ParseError
		shape         *selfimprove.ShapeError
		sharedAgent   *selfimprove.SharedAgentError
	)

	switch {
	case errors.As(err, &validation),
		errors.As(err, &notAssociated),
		errors.As(err, &insufficient):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &convNotFound),
		errors.As(err, &agentNotFound),
		errors.As(err, &propNotFound),
		errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.As(err, &sharedAgent):
		Error(w, http.StatusForbidden, err.Error())
	case errors.As(err, &stale):
		Error(w, http.StatusConflict, err.Error())
	case errors.As(err, &provider):
		logger.Warn("Model provider failed", "error", err)
		Error(w, http.StatusBadGateway, "language model request failed")
	case errors.As(err, &parse), errors.As(err, &shape):
		logger.Warn("Model reply rejected", "error", err)
		Error(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("Request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// requireUser returns the caller's user ID or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}
