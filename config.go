package llmcomplete

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	defaults "github.com/pb1729/llm-complete/default"
)

// Config represents the daemon configuration. The API credential is not part
// of it; that comes from the notebook host's settings registry.
type Config struct {
	Version    int              `json:"version"`
	Generation GenerationConfig `json:"generation"`
	Notebook   NotebookConfig   `json:"notebook"`
}

// GenerationConfig holds settings for the Messages API.
type GenerationConfig struct {
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	MaxTokens      int    `json:"max_tokens,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	MaxRetries     *int   `json:"max_retries,omitempty"`
}

// NotebookConfig holds settings for prompt assembly.
type NotebookConfig struct {
	// Language annotates code fences when the notebook carries no kernel language.
	Language string `json:"language"`
	// RedactShell scrubs secrets from shell-escape lines before prompting.
	RedactShell bool `json:"redact_shell,omitempty"`
}

// ConfigDir returns the config directory path.
// Resolution order: $LLM_COMPLETE_CONFIG_DIR > $XDG_CONFIG_HOME/llm-complete > ~/.config/llm-complete
func ConfigDir() string {
	if dir := os.Getenv("LLM_COMPLETE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "llm-complete")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "llm-complete-config")
	}
	return filepath.Join(home, ".config", "llm-complete")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// PromptPath returns the prompt template override path.
func PromptPath() string {
	return filepath.Join(ConfigDir(), "prompt.md")
}

// DefaultConfig returns the default configuration from the embedded default_config.json.
func DefaultConfig() *Config {
	var cfg Config
	if err := json.Unmarshal(defaults.DefaultConfigJSON, &cfg); err != nil {
		panic("llmcomplete: invalid embedded default_config.json: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
func LoadConfig() (*Config, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes a config file and fills missing fields from the defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	d := DefaultConfig()
	if cfg.Version == 0 {
		cfg.Version = d.Version
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = d.Generation.Model
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = d.Generation.MaxTokens
	}
	if cfg.Generation.TimeoutSeconds == 0 {
		cfg.Generation.TimeoutSeconds = d.Generation.TimeoutSeconds
	}
	if cfg.Generation.MaxRetries == nil {
		cfg.Generation.MaxRetries = d.Generation.MaxRetries
	}
	if cfg.Notebook.Language == "" {
		cfg.Notebook.Language = d.Notebook.Language
	}
	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.Generation.MaxTokens < 0 {
		warnings = append(warnings, "max_tokens is negative; the API will reject every request")
	}
	if cfg.Generation.TimeoutSeconds < 0 {
		warnings = append(warnings, "timeout_seconds is negative; requests will not be bounded")
	}
	if cfg.Generation.MaxRetries != nil && *cfg.Generation.MaxRetries < 0 {
		warnings = append(warnings, "max_retries is negative; treated as 0")
	}
	if ResolveAPIKey("") == "" {
		warnings = append(warnings, "LLM_COMPLETE_API_KEY is not set; the key must come from the notebook settings")
	}
	return warnings
}

// ResolveBaseURL returns the Messages API base URL (empty means the SDK default).
// Priority: $LLM_COMPLETE_BASE_URL env > config value.
func ResolveBaseURL(cfg *Config) string {
	if url := os.Getenv("LLM_COMPLETE_BASE_URL"); url != "" {
		return url
	}
	if cfg != nil {
		return cfg.Generation.BaseURL
	}
	return ""
}

// ResolveModel returns the model identifier.
// Priority: $LLM_COMPLETE_MODEL env > config value.
func ResolveModel(cfg *Config) string {
	if model := os.Getenv("LLM_COMPLETE_MODEL"); model != "" {
		return model
	}
	if cfg != nil {
		return cfg.Generation.Model
	}
	return ""
}

// ResolveAPIKey returns the API credential.
// Priority: $LLM_COMPLETE_API_KEY env > value read from the settings registry.
func ResolveAPIKey(fromSettings string) string {
	if key := os.Getenv("LLM_COMPLETE_API_KEY"); key != "" {
		return key
	}
	return fromSettings
}

// RequestTimeout returns the bound applied to a single model call.
func RequestTimeout(cfg *Config) time.Duration {
	if cfg == nil || cfg.Generation.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(cfg.Generation.TimeoutSeconds) * time.Second
}

// MaxRetries returns the SDK-level retry budget.
func MaxRetries(cfg *Config) int {
	if cfg == nil || cfg.Generation.MaxRetries == nil || *cfg.Generation.MaxRetries < 0 {
		return 0
	}
	return *cfg.Generation.MaxRetries
}
