package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed YAML returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.fleet/config.yaml
// Project: .fleet/config.yaml (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".fleet", "config.yaml")
	projectPath := filepath.Join(".fleet", "config.yaml")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a YAML config file and merges it into the base config.
// Missing files are silently skipped. Malformed YAML returns an error.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Version != 0 {
		base.Version = loaded.Version
	}
	if loaded.DataDir != "" {
		base.DataDir = loaded.DataDir
	}

	if loaded.Runtime.Mode != "" {
		base.Runtime.Mode = loaded.Runtime.Mode
	}
	if loaded.Runtime.LazyDelegate != "" {
		base.Runtime.LazyDelegate = loaded.Runtime.LazyDelegate
	}
	if loaded.Runtime.AlwaysOn != nil {
		base.Runtime.AlwaysOn = loaded.Runtime.AlwaysOn
	}
	if loaded.Runtime.IdleShutdown != 0 {
		base.Runtime.IdleShutdown = loaded.Runtime.IdleShutdown
	}
	if loaded.Runtime.IdleCheckInterval != 0 {
		base.Runtime.IdleCheckInterval = loaded.Runtime.IdleCheckInterval
	}
	if loaded.Runtime.PollInterval != 0 {
		base.Runtime.PollInterval = loaded.Runtime.PollInterval
	}
	if loaded.Runtime.LeaseTimeout != 0 {
		base.Runtime.LeaseTimeout = loaded.Runtime.LeaseTimeout
	}
	if loaded.Runtime.StopGrace != 0 {
		base.Runtime.StopGrace = loaded.Runtime.StopGrace
	}

	if loaded.Reputation.PeerReviewAgents != nil {
		base.Reputation.PeerReviewAgents = loaded.Reputation.PeerReviewAgents
	}
	if loaded.Reputation.RoleVoteThreshold != 0 {
		base.Reputation.RoleVoteThreshold = loaded.Reputation.RoleVoteThreshold
	}
	if loaded.Reputation.MinClaimScore != 0 {
		base.Reputation.MinClaimScore = loaded.Reputation.MinClaimScore
	}
	if loaded.Reputation.DiagnosisModel != "" {
		base.Reputation.DiagnosisModel = loaded.Reputation.DiagnosisModel
	}

	for key, worker := range loaded.Workers {
		base.Workers[key] = worker
	}

	return nil
}

func (c *Config) validate() error {
	switch c.Runtime.Mode {
	case "process", "in_process", "lazy":
	default:
		return fmt.Errorf("invalid runtime mode %q", c.Runtime.Mode)
	}
	switch c.Runtime.LazyDelegate {
	case "", "process", "in_process":
	default:
		return fmt.Errorf("invalid lazy_delegate %q", c.Runtime.LazyDelegate)
	}
	if c.Reputation.RoleVoteThreshold < 0 || c.Reputation.RoleVoteThreshold > 1 {
		return fmt.Errorf("role_vote_threshold must be in [0, 1], got %v", c.Reputation.RoleVoteThreshold)
	}
	for id := range c.Workers {
		if id == "" {
			return fmt.Errorf("worker id must not be empty")
		}
	}
	return nil
}
