package agentdriver

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/featbench/featbench/internal/ferrors"
)

// New dispatches on cfg.Name to build the concrete driver.
func New(cfg Config) (Driver, error) {
	switch cfg.Name {
	case "trae-agent":
		return &TraeDriver{Config: cfg}, nil
	case "gemini-cli":
		return &GeminiDriver{Config: cfg}, nil
	case "claude-code":
		return &ClaudeDriver{Config: cfg}, nil
	case "openhands":
		return &OpenHandsDriver{Config: cfg}, nil
	case "api-direct":
		return &APIDirectDriver{Config: cfg}, nil
	default:
		return nil, ferrors.Configuration(nil, "unsupported agent type: %q", cfg.Name)
	}
}

// Manager owns a Driver plus the per-repository exclusive lock that keeps
// two workers from checking out and patching the same working tree at
// once.
type Manager struct {
	Driver  Driver
	SwapDir string
	Logger  *log.Logger
}

// NewManager builds a Manager around a driver selected by cfg.Name.
func NewManager(cfg Config, swapDir string, logger *log.Logger) (*Manager, error) {
	driver, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Manager{Driver: driver, SwapDir: swapDir, Logger: logger}, nil
}

func (m *Manager) lockPath(repoName string) string {
	return filepath.Join(m.SwapDir, repoName+".repo.lock")
}

// LockRepo acquires the exclusive per-repo lock file, busy-waiting 1s
// between attempts, and returns a function that releases it.
func (m *Manager) LockRepo(repoName string) (func(), error) {
	lockPath := m.lockPath(repoName)
	m.Logger.Printf("agentdriver: waiting for lock on %s", repoName)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d", time.Now().Unix())
			f.Close()
			break
		}
		if !os.IsExist(err) {
			return nil, ferrors.FileOperation(err, "creating lock file %s", lockPath)
		}
		time.Sleep(1 * time.Second)
	}

	m.Logger.Printf("agentdriver: acquired lock for %s", repoName)
	return func() {
		if err := os.Remove(lockPath); err == nil {
			m.Logger.Printf("agentdriver: released lock for %s", repoName)
		}
	}, nil
}

// RemoveAllLocks clears every repo lock file under swapDir, for recovering
// from a crashed run that left locks behind.
func RemoveAllLocks(swapDir string, logger *log.Logger) {
	matches, err := filepath.Glob(filepath.Join(swapDir, "*.repo.lock"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && logger != nil {
			logger.Printf("agentdriver: failed to remove lock file %s: %v", m, err)
		}
	}
}
