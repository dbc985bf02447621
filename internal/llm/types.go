// Package llm provides chat-completion clients and model routing.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat-completion message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	// Model is the application-level model name (e.g. "deepseek-v3").
	Model    string
	Messages []Message

	// Zero values use the provider defaults.
	MaxTokens   int
	Temperature float64
}

// Completer produces a single text completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// withDefaultTimeout bounds ctx by d unless the caller already set a deadline.
// A caller deadline wins even when it is longer than d.
func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.7
)

func (r Request) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return defaultMaxTokens
}

func (r Request) temperature() float64 {
	if r.Temperature > 0 {
		return r.Temperature
	}
	return defaultTemperature
}
