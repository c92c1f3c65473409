package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/fleet/internal/agent"
	"github.com/aristath/fleet/internal/config"
	"github.com/aristath/fleet/internal/events"
	"github.com/aristath/fleet/internal/evolution"
	"github.com/aristath/fleet/internal/mailbox"
	"github.com/aristath/fleet/internal/queue"
	"github.com/aristath/fleet/internal/reputation"
	"github.com/aristath/fleet/internal/runtime"
	"github.com/aristath/fleet/internal/worker"
)

const fleetDirName = ".fleet"

var (
	flagConfig  string
	flagDataDir string
)

// projectConfigPath returns the project config file, honoring --config.
func projectConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return filepath.Join(fleetDirName, "config.yaml")
}

func globalConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, fleetDirName, "config.yaml")
}

// loadConfig merges defaults, global, and project config, then applies
// command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globalConfigPath(), projectConfigPath())
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	return cfg, nil
}

// mustConfig loads the config, failing with a setup hint if the project
// has never been initialized.
func mustConfig() (*config.Config, error) {
	if flagConfig == "" {
		if _, err := os.Stat(projectConfigPath()); os.IsNotExist(err) {
			return nil, fmt.Errorf("fleet not initialized. Run: fleet init")
		}
	}
	return loadConfig()
}

// services bundles the shared-state handles most commands need.
type services struct {
	cfg     *config.Config
	queue   *queue.Queue
	mail    *mailbox.Mailbox
	tracker *reputation.Tracker
	engine  *evolution.Engine
	bus     *events.Bus
}

func openServices() (*services, error) {
	cfg, err := mustConfig()
	if err != nil {
		return nil, err
	}

	q := queue.New(cfg.BoardPath(), queue.WithLeaseTimeout(cfg.Runtime.LeaseTimeout))
	tracker := reputation.NewTracker(cfg.ReputationPath())
	models := config.NewFileModelStore(projectConfigPath())
	bus := events.NewBus()

	opts := []evolution.Option{evolution.WithBus(bus)}
	if cfg.Reputation.DiagnosisModel != "" {
		opts = append(opts, evolution.WithChat(agent.NewChat("claude", "", 30*time.Second)))
	}
	engine := evolution.New(evolution.Config{
		Dir:            cfg.EvolutionDir(),
		Team:           cfg.WorkerIDs(),
		VoteThreshold:  cfg.Reputation.RoleVoteThreshold,
		DiagnosisModel: cfg.Reputation.DiagnosisModel,
	}, q, tracker, models, opts...)

	return &services{
		cfg:     cfg,
		queue:   q,
		mail:    mailbox.New(cfg.MailboxDir()),
		tracker: tracker,
		engine:  engine,
		bus:     bus,
	}, nil
}

// workerDefs converts the config roster into runtime definitions.
func workerDefs(cfg *config.Config) []runtime.WorkerDef {
	defs := make([]runtime.WorkerDef, 0, len(cfg.Workers))
	for id, w := range cfg.Workers {
		defs = append(defs, runtime.WorkerDef{
			ID:     id,
			Role:   w.Role,
			Model:  w.Model,
			Prompt: w.Prompt,
		})
	}
	return defs
}

// newWorkerLoop assembles the full claim-execute-review loop for one
// worker, shared by the in-process runtime and the worker subcommand.
func newWorkerLoop(svc *services, bus *events.Bus, def runtime.WorkerDef) (*worker.Loop, error) {
	wcfg, ok := svc.cfg.Workers[def.ID]
	if !ok {
		return nil, fmt.Errorf("worker %q not in config", def.ID)
	}

	command := wcfg.Command
	if command == "" {
		command = "claude"
	}

	executor := &agent.CommandExecutor{
		Command: command,
		Model:   def.Model,
		Timeout: svc.cfg.Runtime.LeaseTimeout,
	}

	peers := svc.cfg.Reputation.PeerReviewAgents
	if len(peers) == 0 {
		peers = svc.cfg.WorkerIDs()
	}

	sched := reputation.NewScheduler(svc.tracker, svc.engine, reputation.WithBus(bus))

	return worker.NewLoop(worker.Config{
		ID:            def.ID,
		Role:          def.Role,
		Prompt:        def.Prompt,
		Peers:         peers,
		PollInterval:  svc.cfg.Runtime.PollInterval,
		MinClaimScore: svc.cfg.Reputation.MinClaimScore,
	}, svc.queue, svc.mail, svc.tracker, sched, svc.engine,
		executor, &agent.CommandReviewer{Executor: executor}, bus), nil
}

// ensureDataDirs creates the shared-state layout.
func ensureDataDirs(cfg *config.Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.MailboxDir(), cfg.EvolutionDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
