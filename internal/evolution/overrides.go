package evolution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aristath/fleet/internal/lockfile"
)

// overrideDoc is the persisted per-worker override state: an ordered list of
// constraint blocks appended by the prompt path.
type overrideDoc struct {
	Blocks []string `json:"blocks"`
}

func (e *Engine) overridePath(agentID string) string {
	return filepath.Join(e.cfg.Dir, "overrides", agentID+".json")
}

// appendOverride adds one constraint block, deduplicated against existing
// content and capped at the most recent MaxOverrides blocks.
func (e *Engine) appendOverride(agentID, block string) error {
	block = strings.TrimSpace(block)
	if block == "" {
		return nil
	}

	path := e.overridePath(agentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("evolution: ensure override dir: %w", err)
	}

	return lockfile.WithLock(path+".lock", 10*time.Second, func() error {
		doc, err := loadOverrides(path)
		if err != nil {
			return err
		}

		for _, existing := range doc.Blocks {
			if existing == block {
				return nil // Already present
			}
		}

		doc.Blocks = append(doc.Blocks, block)
		if len(doc.Blocks) > e.cfg.MaxOverrides {
			doc.Blocks = doc.Blocks[len(doc.Blocks)-e.cfg.MaxOverrides:]
		}
		return saveOverrides(path, doc)
	})
}

// clearOverrides removes every constraint block for the worker.
func (e *Engine) clearOverrides(agentID string) error {
	path := e.overridePath(agentID)
	return lockfile.WithLock(path+".lock", 10*time.Second, func() error {
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("evolution: clear overrides for %s: %w", agentID, err)
		}
		return nil
	})
}

// Overrides returns the worker's override instructions as one text block,
// ready to append to its prompt. Empty when no remediation is in effect.
func (e *Engine) Overrides(agentID string) (string, error) {
	path := e.overridePath(agentID)

	var text string
	err := lockfile.WithLock(path+".lock", 10*time.Second, func() error {
		doc, err := loadOverrides(path)
		if err != nil {
			return err
		}
		text = strings.Join(doc.Blocks, "\n\n")
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func loadOverrides(path string) (*overrideDoc, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &overrideDoc{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("evolution: read overrides: %w", err)
	}
	var doc overrideDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("evolution: parse overrides: %w", err)
	}
	return &doc, nil
}

func saveOverrides(path string, doc *overrideDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("evolution: marshal overrides: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("evolution: write overrides: %w", err)
	}
	return os.Rename(tmp, path)
}
