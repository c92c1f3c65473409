package runtime

import (
	"context"
	"errors"
	"fmt"
)

// Mode selects how workers are hosted.
type Mode int

const (
	// ModeInProcess runs each worker as a goroutine in the fleet
	// process. The zero value, matching the config default.
	ModeInProcess Mode = iota
	// ModeProcess runs each worker as a supervised child process.
	ModeProcess
	// ModeLazy wraps another mode, starting workers on demand and
	// stopping them when idle.
	ModeLazy
)

func (m Mode) String() string {
	switch m {
	case ModeProcess:
		return "process"
	case ModeInProcess:
		return "in_process"
	case ModeLazy:
		return "lazy"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a config string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "process":
		return ModeProcess, nil
	case "in_process", "":
		return ModeInProcess, nil
	case "lazy":
		return ModeLazy, nil
	default:
		return 0, fmt.Errorf("unknown runtime mode %q", s)
	}
}

// WorkerDef is the static description of one fleet member.
type WorkerDef struct {
	ID     string
	Role   string
	Model  string
	Prompt string
}

// ErrUnknownWorker is returned for operations on ids outside the roster.
var ErrUnknownWorker = errors.New("unknown worker")

// ErrEnsureUnsupported is returned by backends whose workers are
// expected always-on and must not be respawned on demand.
var ErrEnsureUnsupported = errors.New("ensure_running not supported by this runtime")

// Runtime starts and stops workers. Implementations differ in where the
// worker actually executes; callers treat them uniformly.
type Runtime interface {
	Start(ctx context.Context, id string) error
	StartAll(ctx context.Context) error
	Stop(id string) error
	StopAll() error
	IsAlive(id string) bool
	AgentIDs() []string

	// EnsureRunning starts the worker if it is not currently alive.
	EnsureRunning(ctx context.Context, id string) error
}

func defMap(defs []WorkerDef) map[string]WorkerDef {
	m := make(map[string]WorkerDef, len(defs))
	for _, d := range defs {
		m[d.ID] = d
	}
	return m
}

func idsOf(defs map[string]WorkerDef) []string {
	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	return ids
}
