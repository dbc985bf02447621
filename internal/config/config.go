// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port        string   `yaml:"port"`
	FrontendURL string   `yaml:"frontend_url"`
	DBPath      string   `yaml:"db_path"`
	LogLevel    string   `yaml:"log_level"`
	CORSOrigins []string `yaml:"cors_allowed_origins"`

	LLM         LLMConfig         `yaml:"llm"`
	SelfImprove SelfImproveConfig `yaml:"self_improve"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Retry       RetryConfig       `yaml:"retry"`
}

// LLMConfig configures the chat-completion providers.
type LLMConfig struct {
	DeepSeekAPIKey  string `yaml:"deepseek_api_key"`
	DeepSeekBaseURL string `yaml:"deepseek_base_url"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	DefaultModel    string `yaml:"default_model"`
	// Timeout bounds provider calls made without a deadline, such as chat
	// turns. Analysis calls carry their own AnalysisTimeout deadline.
	Timeout time.Duration `yaml:"timeout"`
}

// SelfImproveConfig controls the analysis pipeline.
type SelfImproveConfig struct {
	// AnalysisModel is the model used for conversation analysis regardless
	// of the analyzed agent's own preference.
	AnalysisModel   string        `yaml:"analysis_model"`
	AnalysisTimeout time.Duration `yaml:"analysis_timeout"`
	// Async runs the per-turn hook after the chat response is written.
	Async bool `yaml:"async"`
}

// RateLimitConfig throttles explicit analyze calls per user.
type RateLimitConfig struct {
	AnalyzeRequests int           `yaml:"analyze_requests"`
	AnalyzeWindow   time.Duration `yaml:"analyze_window"`
}

// RetryConfig controls SQLITE_BUSY retries.
type RetryConfig struct {
	DatabaseMaxRetries     int           `yaml:"database_max_retries"`
	DatabaseRetryBaseDelay time.Duration `yaml:"database_retry_base_delay"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:        "8080",
		DBPath:      "./data/agentchat.db",
		LogLevel:    "info",
		CORSOrigins: []string{"*"},
		LLM: LLMConfig{
			DeepSeekBaseURL: "https://api.deepseek.com/v1",
			OpenAIBaseURL:   "https://api.openai.com/v1",
			DefaultModel:    "deepseek-v3",
			Timeout:         30 * time.Second,
		},
		SelfImprove: SelfImproveConfig{
			AnalysisModel:   "deepseek-v3",
			AnalysisTimeout: 45 * time.Second,
			Async:           true,
		},
		RateLimit: RateLimitConfig{
			AnalyzeRequests: 5,
			AnalyzeWindow:   time.Minute,
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     3,
			DatabaseRetryBaseDelay: 50 * time.Millisecond,
		},
	}
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and
// then from environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.CORSOrigins = getEnvList("CORS_ALLOWED_ORIGINS", c.CORSOrigins)

	c.LLM.DeepSeekAPIKey = getEnv("DEEPSEEK_API_KEY", c.LLM.DeepSeekAPIKey)
	c.LLM.DeepSeekBaseURL = getEnv("DEEPSEEK_BASE_URL", c.LLM.DeepSeekBaseURL)
	c.LLM.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.LLM.OpenAIAPIKey)
	c.LLM.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.LLM.OpenAIBaseURL)
	c.LLM.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.LLM.GeminiAPIKey)
	c.LLM.DefaultModel = getEnv("DEFAULT_MODEL", c.LLM.DefaultModel)
	c.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", c.LLM.Timeout)

	c.SelfImprove.AnalysisModel = getEnv("ANALYSIS_MODEL", c.SelfImprove.AnalysisModel)
	c.SelfImprove.AnalysisTimeout = getEnvDuration("ANALYSIS_TIMEOUT", c.SelfImprove.AnalysisTimeout)
	c.SelfImprove.Async = getEnvBool("SELF_IMPROVE_ASYNC", c.SelfImprove.Async)

	c.RateLimit.AnalyzeRequests = getEnvInt("ANALYZE_RATE_LIMIT", c.RateLimit.AnalyzeRequests)
	c.RateLimit.AnalyzeWindow = getEnvDuration("ANALYZE_RATE_WINDOW", c.RateLimit.AnalyzeWindow)

	c.Retry.DatabaseMaxRetries = getEnvInt("DB_MAX_RETRIES", c.Retry.DatabaseMaxRetries)
	c.Retry.DatabaseRetryBaseDelay = getEnvDuration("DB_RETRY_BASE_DELAY", c.Retry.DatabaseRetryBaseDelay)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.SelfImprove.AnalysisTimeout <= 0 {
		return fmt.Errorf("ANALYSIS_TIMEOUT must be > 0")
	}
	if c.SelfImprove.AnalysisModel == "" {
		return fmt.Errorf("ANALYSIS_MODEL cannot be empty")
	}
	if c.RateLimit.AnalyzeRequests <= 0 {
		return fmt.Errorf("ANALYZE_RATE_LIMIT must be > 0")
	}
	if c.RateLimit.AnalyzeWindow <= 0 {
		return fmt.Errorf("ANALYZE_RATE_WINDOW must be > 0")
	}
	if c.Retry.DatabaseMaxRetries <= 0 {
		return fmt.Errorf("DB_MAX_RETRIES must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
