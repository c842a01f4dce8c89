package patch

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"

	"github.com/featbench/featbench/internal/harness"
)

// Executor is the minimal capability this package needs from a command
// executor: run one command in a given working directory. It is
// satisfied by execshell.Executor without importing that package, so the
// patch engine stays usable standalone; the sandbox is an implementation
// detail of whichever Executor is passed in.
type Executor interface {
	Execute(cmd, workdir string, stream, tty bool, timeoutSeconds int) (exitCode int, output string, err error)
}

// Apply applies each patch record in order via `patch -p1`, writing the
// rebuilt per-file diff to a temporary file through the executor (so it
// works identically against a local workdir or a container exec API).
// A failed record is logged and skipped; Apply returns the filenames
// that were actually applied.
func Apply(patches []harness.PatchInfo, exec Executor, workdir string, logger *log.Logger) []string {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	applied := make([]string, 0, len(patches))
	for _, p := range patches {
		ok, err := applyOne(p, exec, workdir)
		if err != nil {
			logger.Printf("patch: error applying %s: %v", p.Filename, err)
			continue
		}
		if ok {
			applied = append(applied, p.Filename)
			logger.Printf("patch: applied %s (%s)", p.Filename, p.Status)
		} else {
			logger.Printf("patch: failed to apply %s", p.Filename)
		}
	}
	return applied
}

func applyOne(p harness.PatchInfo, exec Executor, workdir string) (bool, error) {
	diffContent := RebuildDiff(p)
	encoded := base64.StdEncoding.EncodeToString([]byte(diffContent))

	writeCmd := fmt.Sprintf("echo '%s' | base64 -d > /tmp/single_patch.tmp", encoded)
	exitCode, output, err := exec.Execute(writeCmd, workdir, false, false, 30)
	if err != nil {
		return false, err
	}
	if exitCode != 0 {
		return false, fmt.Errorf("failed to stage patch: %s", output)
	}

	applyCmd := "patch -p1 --no-backup-if-mismatch --force < /tmp/single_patch.tmp"
	exitCode, output, err = exec.Execute(applyCmd, workdir, false, false, 30)
	if err != nil {
		return false, err
	}
	if exitCode != 0 {
		return false, fmt.Errorf("patch rejected: %s", output)
	}
	return true, nil
}

// ApplyFileResult is the summary returned by ApplyFile.
type ApplyFileResult struct {
	TotalFiles   int
	AppliedFiles int
	Filenames    []string
	Raw          string
}

// ApplyFile reads a patch file from disk, parses, filters, and applies
// it in one pipeline.
func ApplyFile(patchPath string, exec Executor, workdir string, includeTest, includeSource bool, logger *log.Logger) (*ApplyFileResult, error) {
	raw, err := os.ReadFile(patchPath)
	if err != nil {
		return nil, fmt.Errorf("read patch file %s: %w", patchPath, err)
	}

	patches, err := ParseStrict(string(raw))
	if err != nil {
		return nil, err
	}

	filtered := Filter(patches, includeTest, includeSource)
	applied := Apply(filtered, exec, workdir, logger)

	return &ApplyFileResult{
		TotalFiles:   len(filtered),
		AppliedFiles: len(applied),
		Filenames:    applied,
		Raw:          string(raw),
	}, nil
}

// ApplyDiffString is like ApplyFile but takes diff text directly — used
// by the container operator when applying an in-memory patch.diff or a
// dataset test_patch that never touched local disk.
func ApplyDiffString(diffContent string, exec Executor, workdir string, includeTest, includeSource bool, logger *log.Logger) (*ApplyFileResult, error) {
	patches, err := ParseStrict(diffContent)
	if err != nil {
		return nil, err
	}
	filtered := Filter(patches, includeTest, includeSource)
	applied := Apply(filtered, exec, workdir, logger)
	return &ApplyFileResult{
		TotalFiles:   len(filtered),
		AppliedFiles: len(applied),
		Filenames:    applied,
		Raw:          diffContent,
	}, nil
}
