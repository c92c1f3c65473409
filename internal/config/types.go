package config

import (
	"fmt"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Worker defines one fleet member: its role description, model, and the
// fallbacks the evolution engine may substitute.
type Worker struct {
	Role           string   `yaml:"role"`
	Command        string   `yaml:"command,omitempty"` // Agent CLI binary; defaults to "claude"
	Model          string   `yaml:"model,omitempty"`
	FallbackModels []string `yaml:"fallback_models,omitempty"`
	Prompt         string   `yaml:"prompt,omitempty"`
}

// Runtime selects and parameterizes the concurrency backend.
type Runtime struct {
	Mode              string        `yaml:"mode"`                          // "process", "in_process", or "lazy"
	LazyDelegate      string        `yaml:"lazy_delegate,omitempty"`       // Backend the lazy mode runs workers on: "process" or "in_process"
	AlwaysOn          []string      `yaml:"always_on,omitempty"`           // Workers the lazy backend starts eagerly and never idles out
	IdleShutdown      time.Duration `yaml:"idle_shutdown,omitempty"`       // Idle period before the lazy backend stops a worker
	IdleCheckInterval time.Duration `yaml:"idle_check_interval,omitempty"` // Tick of the lazy backend's demand and idle monitor
	PollInterval      time.Duration `yaml:"poll_interval,omitempty"`       // Worker loop sleep when nothing is claimable
	LeaseTimeout      time.Duration `yaml:"lease_timeout,omitempty"`       // Claim lease driving stale recovery
	StopGrace         time.Duration `yaml:"stop_grace,omitempty"`          // Wait after a shutdown message before force-killing
}

// runtimeYAML is the file representation of Runtime: durations are Go
// duration strings ("15m", "5s"), not nanosecond integers.
type runtimeYAML struct {
	Mode              string   `yaml:"mode,omitempty"`
	LazyDelegate      string   `yaml:"lazy_delegate,omitempty"`
	AlwaysOn          []string `yaml:"always_on,omitempty"`
	IdleShutdown      string   `yaml:"idle_shutdown,omitempty"`
	IdleCheckInterval string   `yaml:"idle_check_interval,omitempty"`
	PollInterval      string   `yaml:"poll_interval,omitempty"`
	LeaseTimeout      string   `yaml:"lease_timeout,omitempty"`
	StopGrace         string   `yaml:"stop_grace,omitempty"`
}

func (r Runtime) MarshalYAML() (interface{}, error) {
	out := runtimeYAML{
		Mode:         r.Mode,
		LazyDelegate: r.LazyDelegate,
		AlwaysOn:     r.AlwaysOn,
	}
	out.IdleShutdown = formatDuration(r.IdleShutdown)
	out.IdleCheckInterval = formatDuration(r.IdleCheckInterval)
	out.PollInterval = formatDuration(r.PollInterval)
	out.LeaseTimeout = formatDuration(r.LeaseTimeout)
	out.StopGrace = formatDuration(r.StopGrace)
	return out, nil
}

func (r *Runtime) UnmarshalYAML(node *yaml.Node) error {
	var raw runtimeYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}
	r.Mode = raw.Mode
	r.LazyDelegate = raw.LazyDelegate
	r.AlwaysOn = raw.AlwaysOn

	for _, f := range []struct {
		key string
		in  string
		out *time.Duration
	}{
		{"idle_shutdown", raw.IdleShutdown, &r.IdleShutdown},
		{"idle_check_interval", raw.IdleCheckInterval, &r.IdleCheckInterval},
		{"poll_interval", raw.PollInterval, &r.PollInterval},
		{"lease_timeout", raw.LeaseTimeout, &r.LeaseTimeout},
		{"stop_grace", raw.StopGrace, &r.StopGrace},
	} {
		if f.in == "" {
			continue
		}
		d, err := time.ParseDuration(f.in)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", f.key, err)
		}
		*f.out = d
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

// Reputation parameterizes scoring and remediation.
type Reputation struct {
	PeerReviewAgents  []string `yaml:"peer_review_agents,omitempty"` // Workers eligible to receive review requests
	RoleVoteThreshold float64  `yaml:"role_vote_threshold,omitempty"`
	MinClaimScore     float64  `yaml:"min_claim_score,omitempty"` // Below this composite a worker declines to claim
	DiagnosisModel    string   `yaml:"diagnosis_model,omitempty"` // Model hint for the optional diagnosis summary
}

// Config is the top-level fleet configuration.
type Config struct {
	Version    int               `yaml:"version"`
	DataDir    string            `yaml:"data_dir,omitempty"`
	Runtime    Runtime           `yaml:"runtime"`
	Reputation Reputation        `yaml:"reputation"`
	Workers    map[string]Worker `yaml:"workers"`
}

// WorkerIDs returns the roster in map order.
func (c *Config) WorkerIDs() []string {
	ids := make([]string, 0, len(c.Workers))
	for id := range c.Workers {
		ids = append(ids, id)
	}
	return ids
}

// Shared state locations inside DataDir.

func (c *Config) BoardPath() string {
	return filepath.Join(c.DataDir, "tasks.json")
}

func (c *Config) MailboxDir() string {
	return filepath.Join(c.DataDir, "mailbox")
}

func (c *Config) ReputationPath() string {
	return filepath.Join(c.DataDir, "reputation.json")
}

func (c *Config) EvolutionDir() string {
	return filepath.Join(c.DataDir, "evolution")
}

func (c *Config) ArchivePath() string {
	return filepath.Join(c.DataDir, "archive.db")
}
