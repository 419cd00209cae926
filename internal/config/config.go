package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel             = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens         = 2048
	DefaultMaxToolIterations = 5
	DefaultBackendURL        = "http://127.0.0.1:8080"
	DefaultContextDays       = 30
	DefaultQueryTokens       = 4000
	DefaultBufSize           = 100

	// Six-field cron expressions (with seconds), matching the scheduler.
	DefaultRefreshSchedule   = "0 30 2 * * *"
	DefaultSummarizeSchedule = "0 0 3 * * *"
)

type Config struct {
	Backend  BackendConfig  `json:"backend"`
	Channels ChannelsConfig `json:"channels"`
	Provider ProviderConfig `json:"provider"`
	Agent    AgentConfig    `json:"agent"`
	Context  ContextConfig  `json:"context"`
}

// BackendConfig points at the event-history backend API.
type BackendConfig struct {
	BaseURL string `json:"baseUrl"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

// ProviderConfig selects the text-generation backend used for answer
// synthesis. An empty APIKey disables delegation; queries then fall back
// to local keyword matching.
type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type AgentConfig struct {
	Workspace         string `json:"workspace"`
	Model             string `json:"model"`
	MaxTokens         int    `json:"maxTokens"`
	MaxToolIterations int    `json:"maxToolIterations"`
}

// ContextConfig tunes the layered context core.
type ContextConfig struct {
	// Days of timeline history fetched when building a user's context.
	Days int `json:"days"`
	// QueryTokens is the default retrieval budget per query.
	QueryTokens int `json:"queryTokens"`
	// RefreshSchedule and SummarizeSchedule are cron expressions for the
	// nightly timeline refresh and the layer summarization chain.
	RefreshSchedule   string `json:"refreshSchedule,omitempty"`
	SummarizeSchedule string `json:"summarizeSchedule,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Backend: BackendConfig{
			BaseURL: DefaultBackendURL,
		},
		Channels: ChannelsConfig{},
		Provider: ProviderConfig{},
		Agent: AgentConfig{
			Workspace:         filepath.Join(home, ".dirsoul", "workspace"),
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			MaxToolIterations: DefaultMaxToolIterations,
		},
		Context: ContextConfig{
			Days:              DefaultContextDays,
			QueryTokens:       DefaultQueryTokens,
			RefreshSchedule:   DefaultRefreshSchedule,
			SummarizeSchedule: DefaultSummarizeSchedule,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".dirsoul")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if url := os.Getenv("DIRSOUL_API_URL"); url != "" {
		cfg.Backend.BaseURL = url
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if token := os.Getenv("DIRSOUL_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if key := os.Getenv("DIRSOUL_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("DIRSOUL_PROVIDER_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("DIRSOUL_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if days := os.Getenv("DIRSOUL_CONTEXT_DAYS"); days != "" {
		if parsed, err := strconv.Atoi(days); err == nil && parsed > 0 {
			cfg.Context.Days = parsed
		}
	}
	if tokens := os.Getenv("DIRSOUL_QUERY_TOKENS"); tokens != "" {
		if parsed, err := strconv.Atoi(tokens); err == nil && parsed > 0 {
			cfg.Context.QueryTokens = parsed
		}
	}

	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = DefaultBackendURL
	}
	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Context.Days <= 0 {
		cfg.Context.Days = DefaultContextDays
	}
	if cfg.Context.QueryTokens <= 0 {
		cfg.Context.QueryTokens = DefaultQueryTokens
	}
	if cfg.Context.RefreshSchedule == "" {
		cfg.Context.RefreshSchedule = DefaultRefreshSchedule
	}
	if cfg.Context.SummarizeSchedule == "" {
		cfg.Context.SummarizeSchedule = DefaultSummarizeSchedule
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
