package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 2048

// OpenAIClient talks to any OpenAI-compatible /chat/completions endpoint.
// DeepSeek and OpenAI are both served by it.
type OpenAIClient struct {
	name       string
	baseURL    string
	apiKey     string
	models     map[string]string // application model → wire model
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client for provider name. models maps application
// model names to the provider's wire model; unmapped names are sent unchanged.
// timeout applies only to requests whose context has no deadline.
func NewOpenAIClient(name, baseURL, apiKey string, models map[string]string, timeout time.Duration, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		models:     models,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger.With("component", "llm", "provider", name),
	}
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

func (c *OpenAIClient) wireModel(model string) string {
	if m, ok := c.models[model]; ok {
		return m
	}
	return model
}

// Complete sends a non-streaming chat completion and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withDefaultTimeout(ctx, c.timeout)
	defer cancel()

	body := chatCompletionRequest{
		Model:       c.wireModel(req.Model),
		Messages:    req.Messages,
		MaxTokens:   req.maxTokens(),
		Temperature: req.temperature(),
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return "", &APIError{Provider: c.name, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() || content.Type != gjson.String {
		return "", fmt.Errorf("%s response has no message content", c.name)
	}

	c.logger.Debug("Completion finished",
		"model", body.Model,
		"duration", time.Since(start),
		"prompt_tokens", gjson.GetBytes(raw, "usage.prompt_tokens").Int(),
		"completion_tokens", gjson.GetBytes(raw, "usage.completion_tokens").Int())

	return content.String(), nil
}
