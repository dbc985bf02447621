//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/agentchat/internal/selfimprove"
	"github.com/ashureev/agentchat/internal/store"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, "nope")

	var got map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["success"] != false || got["error"] != "nope" {
		t.Errorf("Unexpected envelope: %v", got)
	}
}

func TestOKEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	OK(w, map[string]interface{}{"promptCount": 3})

	var got map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["success"] != true || got["promptCount"] != float64(3) {
		t.Errorf("Unexpected envelope: %v", got)
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &selfimprove.ValidationError{Field: "mode", Reason: "bad"}, http.StatusBadRequest},
		{"not associated", &selfimprove.NotAssociatedError{ConversationID: "c"}, http.StatusBadRequest},
		{"insufficient", &selfimprove.InsufficientDataError{Have: 1, Need: 5}, http.StatusBadRequest},
		{"conversation", &selfimprove.ConversationNotFoundError{ConversationID: "c"}, http.StatusNotFound},
		{"agent", &selfimprove.AgentNotFoundError{AgentID: "a"}, http.StatusNotFound},
		{"proposal", &selfimprove.ProposalNotFoundError{ProposalID: "p", AgentID: "a"}, http.StatusNotFound},
		{"store not found", fmt.Errorf("agent x: %w", store.ErrNotFound), http.StatusNotFound},
		{"stale", &selfimprove.StaleProposalError{ProposalID: "p", AgentID: "a"}, http.StatusConflict},
		{"shared agent", &selfimprove.SharedAgentError{AgentID: "a"}, http.StatusForbidden},
		{"provider", &selfimprove.ProviderError{Err: errors.New("timeout")}, http.StatusBadGateway},
		{"parse", &selfimprove.ParseError{Err: errors.New("no json")}, http.StatusBadGateway},
		{"shape", &selfimprove.ShapeError{Field: "analysis.themes", Want: "an array of strings"}, http.StatusBadGateway},
		{"wrapped", fmt.Errorf("outer: %w", &selfimprove.StaleProposalError{}), http.StatusConflict},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, discardLogger, tt.err)
			if w.Code != tt.want {
				t.Errorf("writeServiceError(%v) = %d, want %d", tt.err, w.Code, tt.want)
			}
		})
	}
}

func TestWriteServiceErrorHidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	writeServiceError(w, discardLogger, errors.New("secret path /var/db"))

	var got map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "internal error" {
		t.Errorf("Expected generic message, got %v", got["error"])
	}
}
