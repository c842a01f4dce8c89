package scheduler

import (
	"path/filepath"
	"testing"

	"github.com/featbench/featbench/internal/harness"
)

func TestResultStoreAddPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")

	store, err := NewResultStore(path, nil)
	if err != nil {
		t.Fatalf("NewResultStore: %v", err)
	}
	if err := store.Add(&harness.EvalResult{AgentName: "claude-code", InstanceID: "django__django-1", Success: true}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reloaded, err := NewResultStore(path, nil)
	if err != nil {
		t.Fatalf("NewResultStore (reload): %v", err)
	}
	if !reloaded.HasResult("claude-code", "django__django-1") {
		t.Fatal("expected reloaded store to contain the persisted result")
	}
	if len(reloaded.All()) != 1 {
		t.Fatalf("expected 1 result, got %d", len(reloaded.All()))
	}
}

func TestResultStoreHasResultFalseForUnknownPair(t *testing.T) {
	store, err := NewResultStore(filepath.Join(t.TempDir(), "results.json"), nil)
	if err != nil {
		t.Fatalf("NewResultStore: %v", err)
	}
	if store.HasResult("claude-code", "nonexistent") {
		t.Fatal("expected no result for an unknown pair")
	}
}

func TestResultStoreAddOverwritesSameKey(t *testing.T) {
	store, err := NewResultStore(filepath.Join(t.TempDir(), "results.json"), nil)
	if err != nil {
		t.Fatalf("NewResultStore: %v", err)
	}
	store.Add(&harness.EvalResult{AgentName: "a", InstanceID: "i", Success: false})
	store.Add(&harness.EvalResult{AgentName: "a", InstanceID: "i", Success: true})

	all := store.All()
	if len(all) != 1 {
		t.Fatalf("expected the second Add to overwrite, got %d entries", len(all))
	}
	if !all[0].Success {
		t.Fatal("expected the overwriting result to win")
	}
}

func TestResultStoreToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	store, err := NewResultStore(path, nil)
	if err != nil {
		t.Fatalf("NewResultStore: %v", err)
	}
	store.Add(&harness.EvalResult{AgentName: "a", InstanceID: "i"})

	// Corrupt the file directly and make sure loading it again degrades
	// to an empty store rather than erroring out the whole run.
	writeErr := writeFileForTest(path, "not valid json")
	if writeErr != nil {
		t.Fatalf("writeFileForTest: %v", writeErr)
	}

	reloaded, err := NewResultStore(path, nil)
	if err != nil {
		t.Fatalf("NewResultStore (corrupt): %v", err)
	}
	if len(reloaded.All()) != 0 {
		t.Fatalf("expected an empty store after corrupt reload, got %d", len(reloaded.All()))
	}
}
