package runtime

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/aristath/fleet/internal/mailbox"
)

// ProcessConfig parameterizes the child-process runtime.
type ProcessConfig struct {
	Exe        string // Fleet binary; defaults to the current executable
	ConfigPath string // Passed to children via --config
	StopGrace  time.Duration
}

type childProc struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// ProcessRuntime runs each worker as a supervised child process invoking
// the hidden worker subcommand. Children get their own process group so
// the whole subprocess tree can be terminated together.
type ProcessRuntime struct {
	defs map[string]WorkerDef
	mail *mailbox.Mailbox
	cfg  ProcessConfig

	mu    sync.Mutex
	procs map[string]*childProc
}

// NewProcess creates a child-process runtime over the given roster.
func NewProcess(defs []WorkerDef, mail *mailbox.Mailbox, cfg ProcessConfig) (*ProcessRuntime, error) {
	if cfg.Exe == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving fleet binary: %w", err)
		}
		cfg.Exe = exe
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	return &ProcessRuntime{
		defs:  defMap(defs),
		mail:  mail,
		cfg:   cfg,
		procs: make(map[string]*childProc),
	}, nil
}

// Start spawns a worker child. Starting an already-running worker is a
// no-op.
func (r *ProcessRuntime) Start(ctx context.Context, id string) error {
	if _, ok := r.defs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.procs[id]; ok {
		select {
		case <-p.done:
			delete(r.procs, id)
		default:
			return nil
		}
	}

	args := []string{"worker", "--id", id}
	if r.cfg.ConfigPath != "" {
		args = append(args, "--config", r.cfg.ConfigPath)
	}
	cmd := exec.CommandContext(ctx, r.cfg.Exe, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // Own process group for clean subtree termination
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting worker %s: %w", id, err)
	}

	p := &childProc{cmd: cmd, done: make(chan struct{})}
	r.procs[id] = p

	go func() {
		err := cmd.Wait()
		close(p.done)
		if err != nil {
			log.Printf("WARNING: worker %s process exited: %v", id, err)
		}
	}()

	return nil
}

// StartAll spawns every worker in the roster.
func (r *ProcessRuntime) StartAll(ctx context.Context) error {
	for id := range r.defs {
		if err := r.Start(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Stop asks the worker to wind down via its mailbox, waits out the
// grace period, then kills the whole process group.
func (r *ProcessRuntime) Stop(id string) error {
	r.mu.Lock()
	p, ok := r.procs[id]
	if ok {
		delete(r.procs, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if err := r.mail.Send("runtime", id, "wind down", mailbox.TypeShutdown); err != nil {
		log.Printf("WARNING: shutdown message for %s: %v", id, err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(r.cfg.StopGrace):
	}

	if err := killProcessGroup(p.cmd); err != nil {
		return fmt.Errorf("stopping worker %s: %w", id, err)
	}
	<-p.done
	return nil
}

// StopAll stops every running worker.
func (r *ProcessRuntime) StopAll() error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.procs))
	for id := range r.procs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := r.Stop(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsAlive reports whether the worker's child process is still running.
func (r *ProcessRuntime) IsAlive(id string) bool {
	r.mu.Lock()
	p, ok := r.procs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// AgentIDs returns the roster.
func (r *ProcessRuntime) AgentIDs() []string {
	return idsOf(r.defs)
}

// EnsureRunning is unsupported: process workers are expected always-on,
// and a silent respawn would mask a crashed child. Start them explicitly.
func (r *ProcessRuntime) EnsureRunning(ctx context.Context, id string) error {
	return fmt.Errorf("%w: worker %s runs as a supervised process", ErrEnsureUnsupported, id)
}

// killProcessGroup sends SIGKILL to the entire process group (negative
// pid) so child processes of the worker die with it.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}
