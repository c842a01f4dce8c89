package environment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/featbench/featbench/internal/ferrors"
)

// CacheManager indexes previously-built/saved images keyed by
// (repo, task number): a JSON index file mapping "<repo>#<number>" to a
// Docker image ID, read/written under a mutex so concurrent workers
// never corrupt it. Writes go through the same write-temp+rename
// discipline the scheduler uses for results.
type CacheManager struct {
	indexPath string
	mu        sync.Mutex
}

// NewCacheManager builds a CacheManager backed by swap/image_cache.json
// under swapDir.
func NewCacheManager(swapDir string) *CacheManager {
	return &CacheManager{indexPath: filepath.Join(swapDir, "image_cache.json")}
}

func cacheKey(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}

func (c *CacheManager) load() (map[string]string, error) {
	data, err := os.ReadFile(c.indexPath)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var index map[string]string
	if err := json.Unmarshal(data, &index); err != nil {
		return map[string]string{}, nil
	}
	return index, nil
}

func (c *CacheManager) save(index map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(c.indexPath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.indexPath)
}

// CheckCachedImage reports whether a previously built image is recorded
// for (repo, number).
func (c *CacheManager) CheckCachedImage(repo string, number int) (imageID string, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.load()
	if err != nil {
		return "", false, ferrors.FileOperation(err, "reading image cache index")
	}
	imageID, ok = index[cacheKey(repo, number)]
	return imageID, ok, nil
}

// List returns the full repo#number -> imageID index, for the CLI's
// "images ls" command.
func (c *CacheManager) List() (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.load()
	if err != nil {
		return nil, ferrors.FileOperation(err, "reading image cache index")
	}
	return index, nil
}

// SaveImage records imageID as the cached image for (repo, number).
func (c *CacheManager) SaveImage(repo string, number int, imageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.load()
	if err != nil {
		return ferrors.FileOperation(err, "reading image cache index")
	}
	index[cacheKey(repo, number)] = imageID
	if err := c.save(index); err != nil {
		return ferrors.FileOperation(err, "writing image cache index")
	}
	return nil
}
