package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiClient completes chats through the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	models  map[string]string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGeminiClient creates a Gemini-backed Completer.
func NewGeminiClient(ctx context.Context, apiKey string, models map[string]string, timeout time.Duration, logger *slog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		models:  models,
		timeout: timeout,
		logger:  logger.With("component", "llm", "provider", "gemini"),
	}, nil
}

// toGeminiContents splits system messages into a system instruction and maps
// the remaining turns onto Gemini's user/model roles.
func toGeminiContents(messages []Message) (*genai.Content, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	if len(system) == 0 {
		return nil, contents
	}
	return genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser), contents
}

// Complete sends the conversation to Gemini and returns the response text.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withDefaultTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if m, ok := c.models[model]; ok {
		model = m
	}

	system, contents := toGeminiContents(req.Messages)
	temperature := float32(req.temperature())

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       &temperature,
		MaxOutputTokens:   int32(req.maxTokens()),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini response has no text")
	}
	c.logger.Debug("Completion finished", "model", model)
	return text, nil
}
