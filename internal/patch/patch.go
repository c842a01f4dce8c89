// Package patch implements the evaluation engine's Patch Engine: parsing
// multi-file unified diffs into per-file records, classifying test vs
// source files, and rebuilding synthetic complete diffs so each record
// can be applied to a working tree in isolation.
package patch

import (
	"regexp"
	"strings"

	"github.com/featbench/featbench/internal/ferrors"
	"github.com/featbench/featbench/internal/harness"
)

// testPatterns covers the common pytest layouts: any of these matching
// the lower-cased filename marks it as a test file.
var testPatterns = []*regexp.Regexp{
	regexp.MustCompile(`test.*\.py$`),
	regexp.MustCompile(`.*test\.py$`),
	regexp.MustCompile(`.*_test\.py$`),
	regexp.MustCompile(`.*/test[s]?/.*\.py$`),
	regexp.MustCompile(`.*/testing/.*\.py$`),
}

var gitDiffLineRe = regexp.MustCompile(`^diff --git a/(.*?) b/(.*)$`)

// IsTestFile reports whether filename looks like a Python test file under
// any of the harness's recognized test-layout conventions.
func IsTestFile(filename string) bool {
	lower := strings.ToLower(filename)
	for _, pat := range testPatterns {
		if pat.MatchString(lower) {
			return true
		}
	}
	return false
}

// Parse splits a multi-file unified diff into one harness.PatchInfo per
// file, in the order the files appear in the diff. It splits on
// "\ndiff --git" boundaries, re-attaching the "diff --git" prefix to every
// segment after the first so each one can be parsed independently.
//
// Parse never returns a MalformedDiff error for a diff with zero "diff
// --git" boundaries (it simply yields zero records); it is the caller's
// responsibility to treat an empty result as suspicious when a non-empty
// diff was expected. A file block lacking a recognizable
// "diff --git a/... b/..." header is skipped, not fatal, so one garbled
// block never discards the rest of an agent's diff.
func Parse(diffContent string) ([]harness.PatchInfo, error) {
	if strings.TrimSpace(diffContent) == "" {
		return nil, nil
	}

	blocks := strings.Split(diffContent, "\ndiff --git")
	patches := make([]harness.PatchInfo, 0, len(blocks))

	for i, block := range blocks {
		if i > 0 {
			block = "diff --git" + block
		}
		if strings.TrimSpace(block) == "" {
			continue
		}
		info, ok := parseSingleFileDiff(block)
		if ok {
			patches = append(patches, info)
		}
	}

	return patches, nil
}

func parseSingleFileDiff(diffContent string) (harness.PatchInfo, bool) {
	lines := strings.Split(strings.TrimSpace(diffContent), "\n")
	if len(lines) == 0 {
		return harness.PatchInfo{}, false
	}

	filename, status, oldFilename := extractFileInfo(lines)
	if filename == "" {
		return harness.PatchInfo{}, false
	}

	var patchLines []string
	inHunk := false
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "@@"):
			inHunk = true
			patchLines = append(patchLines, line)
		case inHunk && (strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") || strings.HasPrefix(line, " ") || line == ""):
			patchLines = append(patchLines, line)
		case strings.HasPrefix(line, `\`):
			patchLines = append(patchLines, line)
		}
	}

	return harness.PatchInfo{
		Filename:     filename,
		Status:       status,
		PatchContent: strings.Join(patchLines, "\n"),
		IsTestFile:   IsTestFile(filename),
		OldFilename:  oldFilename,
	}, true
}

func extractFileInfo(lines []string) (filename string, status harness.PatchStatus, oldFilename string) {
	m := gitDiffLineRe.FindStringSubmatch(lines[0])
	if m == nil {
		return "", "", ""
	}
	oldFile, newFile := m[1], m[2]

	status = harness.PatchModified
	limit := len(lines)
	if limit > 10 {
		limit = 10
	}
	for _, line := range lines[:limit] {
		switch {
		case strings.HasPrefix(line, "new file mode"):
			status = harness.PatchAdded
		case strings.HasPrefix(line, "deleted file mode"):
			status = harness.PatchRemoved
		case strings.HasPrefix(line, "rename from"):
			status = harness.PatchRenamed
			oldFilename = oldFile
		default:
			continue
		}
		break
	}

	if status == harness.PatchRemoved {
		filename = oldFile
	} else {
		filename = newFile
	}
	return filename, status, oldFilename
}

// Filter retains patches matching the requested inclusion flags.
func Filter(patches []harness.PatchInfo, includeTest, includeSource bool) []harness.PatchInfo {
	filtered := make([]harness.PatchInfo, 0, len(patches))
	for _, p := range patches {
		if p.IsTestFile && includeTest {
			filtered = append(filtered, p)
		} else if !p.IsTestFile && includeSource {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// RebuildDiff reconstructs a complete, independently-applicable unified
// diff for one patch record, using placeholder index hashes since the
// `patch -p1` tool that consumes this output never validates them.
func RebuildDiff(p harness.PatchInfo) string {
	header := "diff --git a/" + p.Filename + " b/" + p.Filename + "\n"

	switch p.Status {
	case harness.PatchAdded:
		return header +
			"new file mode 100644\n" +
			"index 0000000..1111111\n" +
			"--- /dev/null\n" +
			"+++ b/" + p.Filename + "\n" +
			p.PatchContent + "\n"
	case harness.PatchRemoved:
		return header +
			"deleted file mode 100644\n" +
			"index 1111111..0000000\n" +
			"--- a/" + p.Filename + "\n" +
			"+++ /dev/null\n" +
			p.PatchContent + "\n"
	case harness.PatchRenamed:
		oldName := p.OldFilename
		if oldName == "" {
			oldName = p.Filename
		}
		return "diff --git a/" + oldName + " b/" + p.Filename + "\n" +
			"similarity index 100%\n" +
			"rename from " + oldName + "\n" +
			"rename to " + p.Filename + "\n" +
			p.PatchContent + "\n"
	default:
		return header +
			"index 1111111..2222222 100644\n" +
			"--- a/" + p.Filename + "\n" +
			"+++ b/" + p.Filename + "\n" +
			p.PatchContent + "\n"
	}
}

// ParseStrict is Parse plus a MalformedDiff error when the diff is
// non-empty but carries no recognizable "diff --git" header at all.
// Callers applying an externally-supplied patch use it so a truncated or
// garbage diff surfaces as an error instead of a silent zero-record parse.
func ParseStrict(diffContent string) ([]harness.PatchInfo, error) {
	if strings.TrimSpace(diffContent) != "" && !strings.Contains(diffContent, "diff --git") {
		return nil, ferrors.MalformedDiff("no 'diff --git' header found in patch content")
	}
	return Parse(diffContent)
}
