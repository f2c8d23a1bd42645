package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToolConfig describes a local command exposed as an action.
type ToolConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
	// Parameters is the JSON schema of the action arguments.
	Parameters map[string]any `yaml:"parameters" json:"parameters"`
}

// ConfigFile represents the structure of tools.yaml
type ConfigFile struct {
	Tools []ToolConfig `yaml:"tools" json:"tools"`
}

// LoadTools reads a configuration file (YAML or JSON).
func LoadTools(path string) ([]ToolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tools config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	for i, tool := range cfg.Tools {
		if tool.Name == "" {
			return nil, fmt.Errorf("tool %d: name is required", i)
		}
		if tool.Command == "" {
			return nil, fmt.Errorf("tool %q: command is required", tool.Name)
		}
	}
	return cfg.Tools, nil
}
