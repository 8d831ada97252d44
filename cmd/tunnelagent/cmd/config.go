package cmd

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// agentConfig is tunnelagent's local state, persisted next to the
// binary's invoking user, not the control plane.
type agentConfig struct {
	AgentToken string `yaml:"agent_token,omitempty"`
}

func loadConfig() (*agentConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &agentConfig{}, nil
		}
		return nil, err
	}
	var cfg agentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func saveConfig(cfg *agentConfig) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0o600)
}
