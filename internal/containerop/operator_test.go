package containerop

import (
	"fmt"
	"strings"
	"testing"

	"github.com/featbench/featbench/internal/harness"
)

// fakeExecutor replays canned (exitCode, output) pairs per call, and
// records every command it was asked to run for assertions.
type fakeExecutor struct {
	calls     []string
	responses []fakeResponse
	idx       int
}

type fakeResponse struct {
	exitCode int
	output   string
}

func (f *fakeExecutor) Execute(cmd, workdir string, stream, tty bool, timeoutSeconds int) (int, string, error) {
	f.calls = append(f.calls, cmd)
	if f.idx >= len(f.responses) {
		return 0, "", nil
	}
	r := f.responses[f.idx]
	f.idx++
	return r.exitCode, r.output, nil
}

func TestCloneSkipsWhenDirExists(t *testing.T) {
	exec := &fakeExecutor{responses: []fakeResponse{{exitCode: 0}}}
	op := New("django/django", exec, "/workdir/swap", "", nil)

	if err := op.Clone(); err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("expected exactly one check command, got %d calls: %v", len(exec.calls), exec.calls)
	}
}

func TestCloneRunsGitCloneWhenMissing(t *testing.T) {
	exec := &fakeExecutor{responses: []fakeResponse{
		{exitCode: 1},
		{exitCode: 0, output: "Cloning into 'django'..."},
	}}
	op := New("django/django", exec, "/workdir/swap", "", nil)

	if err := op.Clone(); err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if len(exec.calls) != 2 {
		t.Fatalf("expected check + clone, got %v", exec.calls)
	}
}

func TestCheckoutExcludesPatchFileFromClean(t *testing.T) {
	exec := &fakeExecutor{responses: []fakeResponse{{exitCode: 0}, {exitCode: 0}, {exitCode: 0}}}
	op := New("django/django", exec, "/workdir/swap", "", nil)

	if err := op.Checkout("abc123", []string{"patch.diff"}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	found := false
	for _, c := range exec.calls {
		if c == "git clean -fd -e patch.diff" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a clean command excluding patch.diff, got %v", exec.calls)
	}
}

func TestCheckoutFailsFastOnCommandError(t *testing.T) {
	exec := &fakeExecutor{responses: []fakeResponse{{exitCode: 1, output: "boom"}}}
	op := New("django/django", exec, "/workdir/swap", "", nil)

	if err := op.Checkout("abc123", nil); err == nil {
		t.Fatal("expected an error when git reset fails")
	}
	if len(exec.calls) != 1 {
		t.Errorf("expected checkout to stop after the first failing command, got %v", exec.calls)
	}
}

func TestFindTestDirsDefaultsToTestsWhenNothingFound(t *testing.T) {
	exec := &fakeExecutor{responses: []fakeResponse{{exitCode: 0, output: ""}, {exitCode: 0, output: ""}}}
	op := New("acme/widgets", exec, "/workdir/swap", "", nil)

	dirs, err := op.FindTestDirs()
	if err != nil {
		t.Fatalf("FindTestDirs: %v", err)
	}
	if len(dirs) != 1 || dirs[0] != "tests" {
		t.Errorf("expected default ['tests'], got %v", dirs)
	}
}

func TestFindTestDirsUsesRootMatches(t *testing.T) {
	exec := &fakeExecutor{responses: []fakeResponse{{exitCode: 0, output: "./tests\n./Tests\n"}}}
	op := New("acme/widgets", exec, "/workdir/swap", "", nil)

	dirs, err := op.FindTestDirs()
	if err != nil {
		t.Fatalf("FindTestDirs: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("expected 2 root matches, got %v", dirs)
	}
}

const pytestSummary = `short test summary info
PASSED tests/test_x.py::test_a
FAILED tests/test_x.py::test_b
`

func TestRunTestsExplicitSelectors(t *testing.T) {
	exec := &fakeExecutor{responses: []fakeResponse{{exitCode: 1, output: pytestSummary}}}
	op := New("acme/widgets", exec, "/workdir/swap", "", nil)

	matched, _, err := op.RunTests(RunTestsOptions{
		Selectors: []string{"tests/test_x.py::test_a", "tests/test_x.py::test_b"},
		Expected:  []harness.TestStatus{harness.TestPassed},
	})
	if err != nil {
		t.Fatalf("RunTests: %v", err)
	}
	if _, ok := matched["tests/test_x.py::test_a"]; !ok {
		t.Errorf("expected test_a to match PASSED, got %v", matched)
	}
	if _, ok := matched["tests/test_x.py::test_b"]; ok {
		t.Errorf("test_b failed, should not be in the PASSED match set")
	}
}

func TestRunTestsBatchesLongSelectorLists(t *testing.T) {
	var selectors []string
	for i := 0; i < 300; i++ {
		selectors = append(selectors, fmt.Sprintf("tests/test_%d_%s.py::test_case", i, strings.Repeat("long_name_", 40)))
	}
	exec := &fakeExecutor{}
	for i := 0; i < 2; i++ {
		exec.responses = append(exec.responses, fakeResponse{exitCode: 0, output: "short test summary info\n"})
	}
	op := New("acme/widgets", exec, "/workdir/swap", "", nil)

	_, _, err := op.RunTests(RunTestsOptions{Selectors: selectors, Expected: []harness.TestStatus{harness.TestPassed}})
	if err != nil {
		t.Fatalf("RunTests: %v", err)
	}
	if len(exec.calls) < 2 {
		t.Errorf("expected at least 2 batched exec calls for %d long selectors, got %d", len(selectors), len(exec.calls))
	}
}

func TestSelectorsFromChangesDropsDeleted(t *testing.T) {
	changes := map[string][]harness.CodeChange{
		"pkg/foo.py": {
			{Name: "do_thing", ChangeType: harness.ChangeAdded, CodeType: harness.CodeFunction},
			{Name: "Gone.old_method", ChangeType: harness.ChangeDeleted, CodeType: harness.CodeMethod},
			{Name: "Widget.save", ChangeType: harness.ChangeModified, CodeType: harness.CodeMethod},
		},
	}
	selectors := SelectorsFromChanges(changes)
	want := []string{"pkg/foo.py::Widget::save", "pkg/foo.py::do_thing"}
	if len(selectors) != len(want) {
		t.Fatalf("got %v, want %v", selectors, want)
	}
	for i := range want {
		if selectors[i] != want[i] {
			t.Errorf("selectors[%d] = %q, want %q", i, selectors[i], want[i])
		}
	}
}
