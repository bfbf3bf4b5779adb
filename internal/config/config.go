package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider names
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config represents the main rlm configuration
type Config struct {
	// Model service
	Provider ProviderConfig `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Agent loop and delegation
	Agent AgentConfig `json:"agent" yaml:"agent" mapstructure:"agent"`

	// Python interpreter
	Session SessionConfig `json:"session" yaml:"session" mapstructure:"session"`

	// Logging
	Logging LoggingConfig `json:"logging" yaml:"logging" mapstructure:"logging"`

	// Transcript files
	Transcript TranscriptConfig `json:"transcript" yaml:"transcript" mapstructure:"transcript"`

	// Prometheus endpoint
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" mapstructure:"metrics"`

	// OpenTelemetry
	Tracing TracingConfig `json:"tracing" yaml:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
}

// ProviderConfig holds model service configuration
type ProviderConfig struct {
	Name           string  `json:"name" yaml:"name" mapstructure:"name"` // anthropic, openai
	APIKey         string  `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	BaseURL        string  `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Model          string  `json:"model" yaml:"model" mapstructure:"model"`
	MaxTokens      int     `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature    float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	MaxRetries     int     `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	ThinkingBudget int     `json:"thinking_budget" yaml:"thinking_budget" mapstructure:"thinking_budget"` // anthropic only, 0 disables
}

// AgentConfig holds agent loop configuration
type AgentConfig struct {
	MaxDepth              int           `json:"max_depth" yaml:"max_depth" mapstructure:"max_depth"` // 0 = unlimited
	TruncateLimit         int           `json:"truncate_limit" yaml:"truncate_limit" mapstructure:"truncate_limit"`
	SubAgentTruncateLimit int           `json:"subagent_truncate_limit" yaml:"subagent_truncate_limit" mapstructure:"subagent_truncate_limit"`
	RootPromptFile        string        `json:"root_prompt_file" yaml:"root_prompt_file" mapstructure:"root_prompt_file"`
	SubAgentPromptFile    string        `json:"subagent_prompt_file" yaml:"subagent_prompt_file" mapstructure:"subagent_prompt_file"`
	Timeout               time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"` // 0 = none
}

// SessionConfig holds interpreter configuration
type SessionConfig struct {
	PythonPath string   `json:"python_path" yaml:"python_path" mapstructure:"python_path"`
	WorkDir    string   `json:"work_dir" yaml:"work_dir" mapstructure:"work_dir"`
	Env        []string `json:"env" yaml:"env" mapstructure:"env"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" yaml:"level" mapstructure:"level"`
	File      string `json:"file" yaml:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" yaml:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" yaml:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" yaml:"max_age" mapstructure:"max_age"`    // days
	Compress  bool   `json:"compress" yaml:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" yaml:"redaction" mapstructure:"redaction"`
}

// TranscriptConfig holds transcript configuration
type TranscriptConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Dir     string `json:"dir" yaml:"dir" mapstructure:"dir"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"` // empty disables
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" yaml:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:       ProviderAnthropic,
			Model:      "MiniMax-M2.5",
			MaxTokens:  2000,
			MaxRetries: 3,
		},
		Agent: AgentConfig{
			MaxDepth:              5,
			TruncateLimit:         10000,
			SubAgentTruncateLimit: 10000,
		},
		Session: SessionConfig{
			PythonPath: "python3",
		},
		Logging: LoggingConfig{
			Level:     "warn",
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Transcript: TranscriptConfig{
			Enabled: false,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "rlm",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Masked returns a copy with secrets hidden
func (c *Config) Masked() *Config {
	masked := *c
	masked.Session.Env = append([]string(nil), c.Session.Env...)
	masked.Provider.APIKey = maskSecret(c.Provider.APIKey)
	return &masked
}

func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Provider.Name != ProviderAnthropic && c.Provider.Name != ProviderOpenAI {
		return fmt.Errorf("invalid provider %s (must be: anthropic, openai)", c.Provider.Name)
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider model is required")
	}
	if c.Provider.MaxTokens <= 0 {
		return fmt.Errorf("provider max_tokens must be positive, got %d", c.Provider.MaxTokens)
	}
	if c.Provider.MaxRetries < 0 {
		return fmt.Errorf("provider max_retries must be >= 0")
	}
	if c.Provider.ThinkingBudget < 0 {
		return fmt.Errorf("provider thinking_budget must be >= 0")
	}

	if c.Agent.MaxDepth < 0 {
		return fmt.Errorf("agent max_depth must be >= 0")
	}
	if c.Agent.TruncateLimit < 0 || c.Agent.SubAgentTruncateLimit < 0 {
		return fmt.Errorf("agent truncate limits must be >= 0")
	}
	if c.Agent.Timeout < 0 {
		return fmt.Errorf("agent timeout must be >= 0")
	}

	if c.Session.PythonPath == "" {
		return fmt.Errorf("session python_path is required")
	}

	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}

	return nil
}

// RequireCredentials checks that the model service can be reached
func (c *Config) RequireCredentials() error {
	if c.Provider.APIKey == "" {
		envVar := "ANTHROPIC_API_KEY"
		if c.Provider.Name == ProviderOpenAI {
			envVar = "OPENAI_API_KEY"
		}
		return fmt.Errorf("no API key configured for %s: set provider.api_key or %s", c.Provider.Name, envVar)
	}
	return NewValidator().ValidateAPIKey(c.Provider.APIKey, c.Provider.Name)
}
