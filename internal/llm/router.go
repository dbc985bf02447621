package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/agentchat/internal/config"
)

// Provider names.
const (
	ProviderDeepSeek = "deepseek"
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
)

// Router sends each request to the provider registered for its model.
type Router struct {
	clients  map[string]Completer // provider name → client
	models   map[string]string    // model name → provider name
	fallback Completer            // default client for unknown models
}

// NewRouter creates a router. fallback may be nil.
func NewRouter(fallback Completer) *Router {
	return &Router{
		clients:  make(map[string]Completer),
		models:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client for a provider name.
func (r *Router) AddProvider(name string, client Completer) {
	r.clients[name] = client
}

// AddModel maps a model name to a provider.
func (r *Router) AddModel(modelName, providerName string) {
	r.models[modelName] = providerName
}

func (r *Router) clientFor(model string) Completer {
	if provider, ok := r.models[model]; ok {
		if client, ok := r.clients[provider]; ok {
			return client
		}
	}
	return r.fallback
}

// Complete routes the request by model name.
func (r *Router) Complete(ctx context.Context, req Request) (string, error) {
	client := r.clientFor(req.Model)
	if client == nil {
		return "", fmt.Errorf("no provider configured for model %q", req.Model)
	}
	return client.Complete(ctx, req)
}

// NewFromConfig builds a Router with every provider that has credentials.
// DeepSeek is the fallback when configured; otherwise the first available
// provider is.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := NewRouter(nil)

	if cfg.DeepSeekAPIKey != "" {
		ds := NewOpenAIClient(ProviderDeepSeek, cfg.DeepSeekBaseURL, cfg.DeepSeekAPIKey,
			map[string]string{"deepseek-v3": "deepseek-chat"}, cfg.Timeout, logger)
		r.AddProvider(ProviderDeepSeek, ds)
		r.AddModel("deepseek-v3", ProviderDeepSeek)
		r.AddModel("deepseek-chat", ProviderDeepSeek)
		r.fallback = ds
	}

	if cfg.OpenAIAPIKey != "" {
		oa := NewOpenAIClient(ProviderOpenAI, cfg.OpenAIBaseURL, cfg.OpenAIAPIKey,
			map[string]string{"openai": "gpt-4o"}, cfg.Timeout, logger)
		r.AddProvider(ProviderOpenAI, oa)
		r.AddModel("gpt-4o", ProviderOpenAI)
		r.AddModel("openai", ProviderOpenAI)
		if r.fallback == nil {
			r.fallback = oa
		}
	}

	if cfg.GeminiAPIKey != "" {
		gm, err := NewGeminiClient(ctx, cfg.GeminiAPIKey,
			map[string]string{"gemini": "gemini-2.5-pro"}, cfg.Timeout, logger)
		if err != nil {
			return nil, err
		}
		r.AddProvider(ProviderGemini, gm)
		r.AddModel("gemini-2.5-pro", ProviderGemini)
		r.AddModel("gemini", ProviderGemini)
		if r.fallback == nil {
			r.fallback = gm
		}
	}

	if r.fallback == nil {
		logger.Warn("No LLM provider configured; completions will fail")
	}
	return r, nil
}
