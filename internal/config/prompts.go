package config

import (
	"fmt"
	"os"
	"strings"
)

// Prompts holds system prompt overrides; empty fields keep the built-in text
type Prompts struct {
	Root     string
	SubAgent string
}

// LoadPrompts reads the prompt files named in the agent config
func (c *Config) LoadPrompts() (Prompts, error) {
	var p Prompts

	root, err := readPromptFile(c.Agent.RootPromptFile)
	if err != nil {
		return Prompts{}, fmt.Errorf("root prompt: %w", err)
	}
	p.Root = root

	sub, err := readPromptFile(c.Agent.SubAgentPromptFile)
	if err != nil {
		return Prompts{}, fmt.Errorf("sub-agent prompt: %w", err)
	}
	p.SubAgent = sub

	return p, nil
}

func readPromptFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("%s is empty", path)
	}
	return text, nil
}
