package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.Mode != "in_process" {
		t.Errorf("default mode = %q, want in_process", cfg.Runtime.Mode)
	}
	if cfg.Runtime.LeaseTimeout != 15*time.Minute {
		t.Errorf("default lease = %v, want 15m", cfg.Runtime.LeaseTimeout)
	}
	if cfg.Reputation.RoleVoteThreshold != 0.6 {
		t.Errorf("default vote threshold = %v, want 0.6", cfg.Reputation.RoleVoteThreshold)
	}
	if cfg.Runtime.LazyDelegate != "in_process" {
		t.Errorf("default lazy delegate = %q, want in_process", cfg.Runtime.LazyDelegate)
	}
	if cfg.Runtime.IdleCheckInterval != 5*time.Second {
		t.Errorf("default idle check interval = %v, want 5s", cfg.Runtime.IdleCheckInterval)
	}
}

func TestLoadLazyTunables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	writeFile(t, path, "runtime:\n  mode: lazy\n  lazy_delegate: process\n  idle_check_interval: 30s\n")

	cfg, err := Load("", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.LazyDelegate != "process" {
		t.Errorf("lazy delegate = %q, want process", cfg.Runtime.LazyDelegate)
	}
	if cfg.Runtime.IdleCheckInterval != 30*time.Second {
		t.Errorf("idle check interval = %v, want 30s", cfg.Runtime.IdleCheckInterval)
	}

	writeFile(t, path, "runtime:\n  lazy_delegate: sideways\n")
	if _, err := Load("", path); err == nil {
		t.Error("expected invalid lazy_delegate to be rejected")
	}
}

func TestLoadMissingFilesNotError(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.yaml"), filepath.Join(dir, "also-nope.yaml"))
	if err != nil {
		t.Fatalf("Load with missing files: %v", err)
	}
	if cfg.Runtime.Mode != "in_process" {
		t.Errorf("mode = %q, want default", cfg.Runtime.Mode)
	}
}

func TestLoadMergePrecedence(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "global.yaml")
	project := filepath.Join(dir, "project.yaml")

	writeFile(t, global, `
runtime:
  mode: process
  poll_interval: 5s
workers:
  coder:
    role: backend coder
    model: model-a
  tester:
    role: test writer
`)
	writeFile(t, project, `
runtime:
  mode: lazy
workers:
  coder:
    role: backend coder
    model: model-b
`)

	cfg, err := Load(global, project)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.Mode != "lazy" {
		t.Errorf("mode = %q, want lazy (project wins)", cfg.Runtime.Mode)
	}
	if cfg.Runtime.PollInterval != 5*time.Second {
		t.Errorf("poll interval = %v, want 5s from global", cfg.Runtime.PollInterval)
	}
	if cfg.Workers["coder"].Model != "model-b" {
		t.Errorf("coder model = %q, want model-b (project wins)", cfg.Workers["coder"].Model)
	}
	if _, ok := cfg.Workers["tester"]; !ok {
		t.Error("tester from global config missing after merge")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	writeFile(t, path, "runtime: [not a mapping")
	if _, err := Load("", path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestLoadInvalidMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	writeFile(t, path, "runtime:\n  mode: threads\n")
	if _, err := Load("", path); err == nil {
		t.Fatal("expected error for invalid runtime mode")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet", "config.yaml")

	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "state")
	cfg.Workers["coder"] = Worker{
		Role:           "backend coder",
		Model:          "model-a",
		FallbackModels: []string{"model-b", "model-c"},
		Prompt:         "You write Go.",
	}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w := loaded.Workers["coder"]
	if w.Model != "model-a" || len(w.FallbackModels) != 2 {
		t.Errorf("round trip lost worker fields: %+v", w)
	}
	if loaded.DataDir != cfg.DataDir {
		t.Errorf("data dir = %q, want %q", loaded.DataDir, cfg.DataDir)
	}
}

func TestFileModelStoreSwap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Workers["coder"] = Worker{
		Role:           "backend coder",
		Model:          "model-a",
		FallbackModels: []string{"model-b"},
	}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	store := NewFileModelStore(path)
	current, fallbacks := store.WorkerModel("coder")
	if current != "model-a" {
		t.Errorf("current = %q, want model-a", current)
	}
	if len(fallbacks) != 1 || fallbacks[0] != "model-b" {
		t.Errorf("fallbacks = %v, want [model-b]", fallbacks)
	}

	if err := store.SetWorkerModel("coder", "model-b"); err != nil {
		t.Fatalf("SetWorkerModel: %v", err)
	}
	current, _ = store.WorkerModel("coder")
	if current != "model-b" {
		t.Errorf("current after swap = %q, want model-b", current)
	}

	if err := store.SetWorkerModel("ghost", "model-x"); err == nil {
		t.Error("expected error for unknown worker")
	}
}

func TestDataDirPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/fleet"
	if got := cfg.BoardPath(); got != "/var/lib/fleet/tasks.json" {
		t.Errorf("BoardPath = %q", got)
	}
	if got := cfg.MailboxDir(); got != "/var/lib/fleet/mailbox" {
		t.Errorf("MailboxDir = %q", got)
	}
	if got := cfg.ReputationPath(); got != "/var/lib/fleet/reputation.json" {
		t.Errorf("ReputationPath = %q", got)
	}
}
