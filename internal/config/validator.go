package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey checks the shape of an API key
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}
	if strings.TrimSpace(key) != key || strings.ContainsAny(key, " \t\r\n") {
		return fmt.Errorf("%s API key contains whitespace", provider)
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateThinkingBudget validates the extended thinking budget
func (v *Validator) ValidateThinkingBudget(budget, maxTokens int) error {
	if budget == 0 {
		return nil
	}
	if budget < 1024 {
		return fmt.Errorf("thinking budget must be at least 1024, got %d", budget)
	}
	if budget >= maxTokens {
		return fmt.Errorf("thinking budget (%d) must be less than max tokens (%d)", budget, maxTokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateMaxTokens(cfg.Provider.MaxTokens); err != nil {
		errors = append(errors, fmt.Errorf("provider: %w", err))
	}
	if err := v.ValidateTemperature(cfg.Provider.Temperature); err != nil {
		errors = append(errors, fmt.Errorf("provider: %w", err))
	}
	if cfg.Provider.Name == ProviderAnthropic {
		if err := v.ValidateThinkingBudget(cfg.Provider.ThinkingBudget, cfg.Provider.MaxTokens); err != nil {
			errors = append(errors, fmt.Errorf("provider: %w", err))
		}
	}
	if cfg.Provider.BaseURL != "" && !strings.HasPrefix(cfg.Provider.BaseURL, "http://") && !strings.HasPrefix(cfg.Provider.BaseURL, "https://") {
		errors = append(errors, fmt.Errorf("provider: base_url must be an http(s) URL, got %s", cfg.Provider.BaseURL))
	}

	for i, kv := range cfg.Session.Env {
		if !strings.Contains(kv, "=") {
			errors = append(errors, fmt.Errorf("session env %d: expected KEY=VALUE, got %q", i, kv))
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
