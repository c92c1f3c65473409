package config

import "time"

// DefaultConfig returns a configuration with every tunable at its
// built-in value. Loaded files are merged on top of this.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: ".fleet",
		Runtime: Runtime{
			Mode:              "in_process",
			LazyDelegate:      "in_process",
			IdleShutdown:      10 * time.Minute,
			IdleCheckInterval: 5 * time.Second,
			PollInterval:      2 * time.Second,
			LeaseTimeout:      15 * time.Minute,
			StopGrace:         5 * time.Second,
		},
		Reputation: Reputation{
			RoleVoteThreshold: 0.6,
			MinClaimScore:     0,
		},
		Workers: map[string]Worker{},
	}
}
