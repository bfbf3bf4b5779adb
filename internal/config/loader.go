package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvFile is the dotenv file read from the working directory
const DefaultEnvFile = ".env"

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    DefaultEnvFile,
	}
}

// WithEnvFile sets the dotenv file; empty disables it
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Load loads the configuration. Precedence, highest first: RLM_* environment
// variables, the config file, provider environment variables, defaults.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadEnvFile(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("RLM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := l.GetConfigPath()
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if filepath.Ext(configPath) == "" {
				v.SetConfigType("yaml")
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyProviderEnv(cfg)

	// Set data directory if not specified
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".rlm")
	}

	if cfg.Transcript.Dir == "" {
		cfg.Transcript.Dir = filepath.Join(cfg.DataDir, "transcripts")
	}

	return cfg, nil
}

func (l *Loader) loadEnvFile() error {
	if l.envFile == "" {
		return nil
	}
	if _, err := os.Stat(l.envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat env file: %w", err)
	}
	// Variables already present in the environment win
	if err := gotenv.Load(l.envFile); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", l.envFile, err)
	}
	return nil
}

// applyProviderEnv fills credentials from the variables the provider SDKs use
func applyProviderEnv(cfg *Config) {
	switch cfg.Provider.Name {
	case ProviderAnthropic:
		if cfg.Provider.APIKey == "" {
			cfg.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if cfg.Provider.BaseURL == "" {
			cfg.Provider.BaseURL = os.Getenv("ANTHROPIC_BASE_URL")
		}
	case ProviderOpenAI:
		if cfg.Provider.APIKey == "" {
			cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.Provider.BaseURL == "" {
			cfg.Provider.BaseURL = os.Getenv("OPENAI_BASE_URL")
		}
	}
}

// setDefaults registers every key so that RLM_* variables bind during Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.api_key", d.Provider.APIKey)
	v.SetDefault("provider.base_url", d.Provider.BaseURL)
	v.SetDefault("provider.model", d.Provider.Model)
	v.SetDefault("provider.max_tokens", d.Provider.MaxTokens)
	v.SetDefault("provider.temperature", d.Provider.Temperature)
	v.SetDefault("provider.max_retries", d.Provider.MaxRetries)
	v.SetDefault("provider.thinking_budget", d.Provider.ThinkingBudget)

	v.SetDefault("agent.max_depth", d.Agent.MaxDepth)
	v.SetDefault("agent.truncate_limit", d.Agent.TruncateLimit)
	v.SetDefault("agent.subagent_truncate_limit", d.Agent.SubAgentTruncateLimit)
	v.SetDefault("agent.root_prompt_file", d.Agent.RootPromptFile)
	v.SetDefault("agent.subagent_prompt_file", d.Agent.SubAgentPromptFile)
	v.SetDefault("agent.timeout", d.Agent.Timeout)

	v.SetDefault("session.python_path", d.Session.PythonPath)
	v.SetDefault("session.work_dir", d.Session.WorkDir)
	v.SetDefault("session.env", []string{})

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.redaction", d.Logging.Redaction)

	v.SetDefault("transcript.enabled", d.Transcript.Enabled)
	v.SetDefault("transcript.dir", d.Transcript.Dir)

	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("data_dir", d.DataDir)
}

// Save writes the configuration as YAML
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".rlm", "config.yaml")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
