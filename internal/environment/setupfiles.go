package environment

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/featbench/featbench/internal/ferrors"
)

const setupFilesListFile = "setup_files_list.json"

// SetupFilesManager indexes the per-repo environment setup-file lists
// under swap/setup_files_list.json: the config files (requirements
// pins, tox.ini, setup.cfg and the like) discovered once per repository
// by the data-collection side and needed again whenever its environment
// is rebuilt. Keys are the repo slug with "/" replaced by "_", the same
// owner_name convention the Python-version manifest uses. Reads and
// writes follow the same mutex + write-temp+rename discipline as
// CacheManager, under this manager's own mutex.
type SetupFilesManager struct {
	indexPath string
	swapDir   string
	mu        sync.Mutex
}

// NewSetupFilesManager builds a SetupFilesManager backed by
// swap/setup_files_list.json under swapDir.
func NewSetupFilesManager(swapDir string) *SetupFilesManager {
	return &SetupFilesManager{
		indexPath: filepath.Join(swapDir, setupFilesListFile),
		swapDir:   swapDir,
	}
}

func setupFilesKey(repo string) string {
	return strings.ReplaceAll(repo, "/", "_")
}

func (m *SetupFilesManager) load() (map[string][]string, error) {
	data, err := os.ReadFile(m.indexPath)
	if os.IsNotExist(err) {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var index map[string][]string
	if err := json.Unmarshal(data, &index); err != nil {
		return map[string][]string{}, nil
	}
	return index, nil
}

func (m *SetupFilesManager) save(index map[string][]string) error {
	if err := os.MkdirAll(filepath.Dir(m.indexPath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.indexPath)
}

// CheckCachedSetupFiles reports whether a setup-file list is recorded for
// repo, and returns it.
func (m *SetupFilesManager) CheckCachedSetupFiles(repo string) ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index, err := m.load()
	if err != nil {
		return nil, false, ferrors.FileOperation(err, "reading setup-file list")
	}
	files, ok := index[setupFilesKey(repo)]
	return files, ok, nil
}

// SaveSetupFiles merges repo's setup-file list into the shared manifest,
// replacing any earlier entry for the same repo.
func (m *SetupFilesManager) SaveSetupFiles(repo string, files []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	index, err := m.load()
	if err != nil {
		return ferrors.FileOperation(err, "reading setup-file list")
	}
	index[setupFilesKey(repo)] = files
	if err := m.save(index); err != nil {
		return ferrors.FileOperation(err, "writing setup-file list")
	}
	return nil
}

// RestoreSetupFiles writes repo's entry back out as
// swap/<repoName>/setup_files_list.json, where the in-container
// environment setup expects to find it (the swap directory is
// bind-mounted, so a host-side write lands inside the sandbox too).
// Returns false without error when no entry is recorded for repo.
func (m *SetupFilesManager) RestoreSetupFiles(repo, repoName string) (bool, error) {
	files, ok, err := m.CheckCachedSetupFiles(repo)
	if err != nil || !ok {
		return false, err
	}

	targetDir := filepath.Join(m.swapDir, repoName)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return false, ferrors.FileOperation(err, "creating %s", targetDir)
	}
	data, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return false, ferrors.FileOperation(err, "marshaling setup-file list for %s", repo)
	}
	target := filepath.Join(targetDir, setupFilesListFile)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return false, ferrors.FileOperation(err, "writing %s", target)
	}
	return true, nil
}
