package scheduler

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/featbench/featbench/internal/environment"
)

// ContainerRegistry tracks containers currently in play so a
// signal-initiated shutdown can offer to clean each one up.
type ContainerRegistry struct {
	mu                sync.Mutex
	handles           map[string]*environment.ContainerHandle
	cleanupInProgress bool
}

// NewContainerRegistry builds an empty registry.
func NewContainerRegistry() *ContainerRegistry {
	return &ContainerRegistry{handles: make(map[string]*environment.ContainerHandle)}
}

// Track registers a container as active.
func (r *ContainerRegistry) Track(h *environment.ContainerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h.Name] = h
}

// Untrack removes a container from the active set, e.g. after a normal
// (non-signal) cleanup.
func (r *ContainerRegistry) Untrack(h *environment.ContainerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, h.Name)
}

// CleanupInProgress reports whether a signal-initiated cleanup is
// currently running; normal per-spec cleanup should skip tearing down a
// container itself when this is true, leaving it to the interactive pass.
func (r *ContainerRegistry) CleanupInProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanupInProgress
}

// CleanupAll interactively prompts for each active container's fate
// (y/N, defaulting to keep on EOF) and removes those the user confirms.
func (r *ContainerRegistry) CleanupAll(mgr *environment.Manager, in io.Reader, logger *log.Logger) {
	r.mu.Lock()
	r.cleanupInProgress = true
	handles := make([]*environment.ContainerHandle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	reader := bufio.NewReader(in)
	for _, h := range handles {
		forceRemove := promptYesNo(reader, fmt.Sprintf("Do you want to delete container %s? (y/N): ", h.Name), logger)
		if err := mgr.Cleanup(h, forceRemove); err != nil {
			logger.Printf("scheduler: error cleaning up container %s: %v", h.Name, err)
			continue
		}
		r.Untrack(h)
	}

	r.mu.Lock()
	r.cleanupInProgress = false
	r.mu.Unlock()
}

// promptYesNo asks a y/N question, defaulting to false (keep) on EOF or
// any read error, so an interrupted prompt never deletes a container.
func promptYesNo(reader *bufio.Reader, prompt string, logger *log.Logger) bool {
	fmt.Print("\n" + prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		if logger != nil {
			logger.Printf("scheduler: input interrupted, defaulting to keep")
		}
		return false
	}
	response := strings.ToLower(strings.TrimSpace(line))
	return response == "y" || response == "yes"
}
