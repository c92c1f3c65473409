package config

import (
	"fmt"
	"time"

	"github.com/aristath/fleet/internal/lockfile"
)

// FileModelStore reads and rewrites worker model assignments in a config
// file on disk. Model swaps approved by the evolution engine go through
// here so a restarted fleet picks up the new assignment.
type FileModelStore struct {
	path     string
	lockWait time.Duration
}

// NewFileModelStore returns a store backed by the config file at path.
func NewFileModelStore(path string) *FileModelStore {
	return &FileModelStore{path: path, lockWait: 10 * time.Second}
}

// WorkerModel returns the current model and fallbacks for a worker.
// Unknown workers report empty values.
func (s *FileModelStore) WorkerModel(agentID string) (string, []string) {
	cfg, err := Load("", s.path)
	if err != nil {
		return "", nil
	}
	w, ok := cfg.Workers[agentID]
	if !ok {
		return "", nil
	}
	return w.Model, w.FallbackModels
}

// SetWorkerModel rewrites the worker's model assignment in place.
// The read-modify-write runs under the config lock so concurrent swaps
// do not clobber each other.
func (s *FileModelStore) SetWorkerModel(agentID, model string) error {
	return lockfile.WithLock(s.path+".lock", s.lockWait, func() error {
		cfg, err := Load("", s.path)
		if err != nil {
			return err
		}
		w, ok := cfg.Workers[agentID]
		if !ok {
			return fmt.Errorf("unknown worker %q", agentID)
		}
		w.Model = model
		cfg.Workers[agentID] = w
		return Save(cfg, s.path)
	})
}
