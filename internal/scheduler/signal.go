package scheduler

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/featbench/featbench/internal/environment"
)

// InstallSignalHandler registers a SIGINT/SIGTERM handler that runs
// registry.CleanupAll once and then exits, ignoring a duplicate signal
// that arrives while cleanup is already underway.
func InstallSignalHandler(registry *ContainerRegistry, mgr *environment.Manager, logger *log.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for sig := range sigCh {
			if registry.CleanupInProgress() {
				logger.Printf("scheduler: cleanup already in progress, ignoring duplicate signal %v", sig)
				continue
			}
			logger.Printf("scheduler: received signal %v, cleaning up containers...", sig)
			registry.CleanupAll(mgr, os.Stdin, logger)
			os.Exit(0)
		}
	}()
}
