package agentdriver

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDispatchesOnAgentName(t *testing.T) {
	cases := map[string]string{
		"trae-agent":  "trae-agent",
		"gemini-cli":  "gemini-cli",
		"claude-code": "claude-code",
		"openhands":   "openhands",
		"api-direct":  "api-direct",
	}
	for name, wantName := range cases {
		driver, err := New(Config{Name: name})
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if driver.Name() != wantName {
			t.Errorf("New(%q).Name() = %q, want %q", name, driver.Name(), wantName)
		}
	}
}

func TestNewRejectsUnknownAgent(t *testing.T) {
	if _, err := New(Config{Name: "unknown-agent"}); err == nil {
		t.Fatal("expected an error for an unsupported agent name")
	}
}

func TestLockRepoExcludesConcurrentAcquisition(t *testing.T) {
	dir := t.TempDir()
	m := &Manager{SwapDir: dir, Logger: discardLogger()}

	release, err := m.LockRepo("django")
	if err != nil {
		t.Fatalf("LockRepo: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		release2, err := m.LockRepo("django")
		if err != nil {
			t.Errorf("second LockRepo: %v", err)
			return
		}
		release2()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second LockRepo acquired the lock before the first was released")
	case <-time.After(200 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(3 * time.Second):
		t.Fatal("second LockRepo never acquired the lock after release")
	}
}

func TestRemoveAllLocksClearsLockFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a/b.repo.lock", "c/d.repo.lock"} {
		path := filepath.Join(dir, filepath.Base(name))
		if err := os.WriteFile(path, []byte("123"), 0o644); err != nil {
			t.Fatalf("os.WriteFile: %v", err)
		}
	}

	RemoveAllLocks(dir, discardLogger())

	matches, _ := filepath.Glob(filepath.Join(dir, "*.repo.lock"))
	if len(matches) != 0 {
		t.Errorf("expected all lock files removed, got %v", matches)
	}
}
