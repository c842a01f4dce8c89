package scheduler

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/featbench/featbench/internal/ferrors"
	"github.com/featbench/featbench/internal/harness"
)

// ResultStore holds every evaluation result in memory and persists the
// full set on every update via write-temp-then-rename, so a crash never
// leaves a half-written results file behind. It also serves as the
// resumption cache: a (agent, instance_id) pair already present on load
// is skipped by the scheduler.
type ResultStore struct {
	path string
	mu   sync.Mutex

	results map[harness.ResultKey]*harness.EvalResult
	order   []harness.ResultKey
}

// NewResultStore loads any existing results at path (if present) for
// resumption, or starts empty.
func NewResultStore(path string, logger *log.Logger) (*ResultStore, error) {
	s := &ResultStore{path: path, results: make(map[harness.ResultKey]*harness.EvalResult)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, ferrors.FileOperation(err, "reading results file %s", path)
	}

	var existing []*harness.EvalResult
	if err := json.Unmarshal(data, &existing); err != nil {
		if logger != nil {
			logger.Printf("scheduler: failed to parse existing results at %s, starting fresh: %v", path, err)
		}
		return s, nil
	}
	for _, r := range existing {
		key := r.Key()
		s.results[key] = r
		s.order = append(s.order, key)
	}
	if logger != nil {
		logger.Printf("scheduler: loaded %d cached results from %s", len(existing), path)
	}
	return s, nil
}

// HasResult reports whether (agent, instanceID) has already been
// evaluated, for resumption.
func (s *ResultStore) HasResult(agent, instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.results[harness.ResultKey{Agent: agent, InstanceID: instanceID}]
	return ok
}

// Add records a result and persists the full set immediately.
func (s *ResultStore) Add(result *harness.EvalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := result.Key()
	if _, exists := s.results[key]; !exists {
		s.order = append(s.order, key)
	}
	s.results[key] = result

	return s.persistLocked()
}

func (s *ResultStore) persistLocked() error {
	all := make([]*harness.EvalResult, 0, len(s.order))
	for _, key := range s.order {
		all = append(all, s.results[key])
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return ferrors.FileOperation(err, "marshaling results")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return ferrors.FileOperation(err, "creating results directory")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ferrors.FileOperation(err, "writing temp results file")
	}
	return os.Rename(tmp, s.path)
}

// All returns every recorded result in insertion order.
func (s *ResultStore) All() []*harness.EvalResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*harness.EvalResult, 0, len(s.order))
	for _, key := range s.order {
		all = append(all, s.results[key])
	}
	return all
}
