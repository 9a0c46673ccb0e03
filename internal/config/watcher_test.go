package config_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parivox/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
personas:
  default: BadeBhaiya
  entries:
    - key: BadeBhaiya
      voice: Charon
`

const watcherUpdatedYAML = `
server:
  log_level: debug
personas:
  default: BadeBhaiya
  entries:
    - key: BadeBhaiya
      voice: Charon
    - key: IncomeAgent
      voice: Achird
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime moves the file's mtime forward so coarse filesystem clocks
// cannot hide a rewrite from the watcher.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func newTestWatcher(t *testing.T, content string, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parivox.yaml")
	writeFile(t, path, content)
	w, err := config.NewWatcher(path, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := newTestWatcher(t, watcherValidYAML, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	type change struct{ old, new *config.Config }
	changes := make(chan change, 4)
	w, path := newTestWatcher(t, watcherValidYAML, func(old, new *config.Config) {
		changes <- change{old, new}
	})

	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path)

	var got change
	select {
	case got = <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
	if got.old.Server.LogLevel != config.LogInfo || got.new.Server.LogLevel != config.LogDebug {
		t.Errorf("log levels: old %q new %q", got.old.Server.LogLevel, got.new.Server.LogLevel)
	}
	if d := config.Diff(got.old, got.new); len(d.PersonaChanges) != 1 || !d.PersonaChanges[0].Added {
		t.Errorf("diff: %+v", d.PersonaChanges)
	}
	if w.Current() != got.new {
		t.Error("Current() should return the reloaded config")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	w, path := newTestWatcher(t, watcherValidYAML, func(_, _ *config.Config) { calls.Add(1) })
	before := w.Current()

	writeFile(t, path, watcherInvalidYAML)
	bumpMtime(t, path)
	time.Sleep(200 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", n)
	}
	if w.Current() != before {
		t.Error("Current() should still hold the previous config")
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, watcherInvalidYAML)
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := newTestWatcher(t, watcherValidYAML, nil)
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	_, path := newTestWatcher(t, watcherValidYAML, func(_, _ *config.Config) { calls.Add(1) })

	bumpMtime(t, path)
	time.Sleep(200 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", n)
	}
}
