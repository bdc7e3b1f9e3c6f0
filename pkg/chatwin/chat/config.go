// config.go defines the chatwin configuration: models, API endpoint, the
// context-window tunables, and history retention. Loaded from YAML with
// defaults overlaid.
package chat

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jholhewres/chatwin/pkg/chatwin/models"
	"gopkg.in/yaml.v3"
)

// Config holds all assistant configuration.
type Config struct {
	// Model is the LLM model to use for chat (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// SummaryModel is the low-cost model used for history condensation.
	// Defaults to Model when empty.
	SummaryModel string `yaml:"summary_model"`

	// Instructions are the base system prompt instructions.
	Instructions string `yaml:"instructions"`

	// API configures the LLM provider endpoint.
	API APIConfig `yaml:"api"`

	// Context configures the context-window optimizer.
	Context ContextConfig `yaml:"context"`

	// Models are registry overrides keyed by model id.
	Models map[string]models.Info `yaml:"models"`

	// History configures conversation persistence.
	History HistoryConfig `yaml:"history"`
}

// APIConfig configures the LLM provider endpoint.
type APIConfig struct {
	// BaseURL is the OpenAI-compatible API root (e.g. "https://api.openai.com/v1").
	BaseURL string `yaml:"base_url"`

	// APIKey is the API key. Prefer the keyring, vault or CHATWIN_API_KEY
	// over putting it here.
	APIKey string `yaml:"api_key"`
}

// ContextConfig holds the two optimizer tunables.
type ContextConfig struct {
	// TargetTokenLimit is the soft token ceiling for a request payload.
	TargetTokenLimit int `yaml:"target_token_limit"`

	// SummarizationEnabled gates LLM summarization of old history; when
	// false, overflow history is truncated instead.
	SummarizationEnabled *bool `yaml:"summarization_enabled"`
}

// HistoryConfig configures conversation persistence.
type HistoryConfig struct {
	// DatabasePath is the SQLite file location.
	DatabasePath string `yaml:"database_path"`

	// RetentionDays removes conversations idle longer than this many days.
	// Zero disables pruning.
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is the cron expression for the retention sweep.
	PruneSchedule string `yaml:"prune_schedule"`
}

// DefaultTargetTokenLimit is the default soft ceiling for request payloads.
const DefaultTargetTokenLimit = 50000

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	enabled := true
	return &Config{
		Model:        "gpt-4o-mini",
		SummaryModel: "gpt-4o-mini",
		API: APIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Context: ContextConfig{
			TargetTokenLimit:     DefaultTargetTokenLimit,
			SummarizationEnabled: &enabled,
		},
		History: HistoryConfig{
			PruneSchedule: "@daily",
		},
	}
}

// SummarizationEnabled resolves the tri-state flag (unset means enabled).
func (c *Config) SummarizationEnabled() bool {
	return c.Context.SummarizationEnabled == nil || *c.Context.SummarizationEnabled
}

// TargetTokenLimit resolves the soft ceiling, substituting the default for
// unset values.
func (c *Config) TargetTokenLimit() int {
	if c.Context.TargetTokenLimit <= 0 {
		return DefaultTargetTokenLimit
	}
	return c.Context.TargetTokenLimit
}

// DefaultConfigPath returns ~/.config/chatwin/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "chatwin", "config.yaml")
}

// LoadConfig reads a YAML config file, overlaying it on the defaults. A
// missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if cfg.SummaryModel == "" {
		cfg.SummaryModel = cfg.Model
	}

	return cfg, nil
}

// SaveConfig writes the config as YAML with owner-only permissions. The API
// key is never written to disk.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	sanitized := *cfg
	sanitized.API.APIKey = ""

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
