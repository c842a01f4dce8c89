package scheduler

import (
	"strings"
	"testing"

	"github.com/featbench/featbench/internal/agentdriver"
	"github.com/featbench/featbench/internal/containerop"
	"github.com/featbench/featbench/internal/harness"
	"github.com/featbench/featbench/internal/patch"
)

type fakeExecutor struct {
	responses map[string]fakeResponse
	calls     []string
}

type fakeResponse struct {
	exitCode int
	output   string
}

func (f *fakeExecutor) Execute(cmd, workdir string, stream, tty bool, timeoutSeconds int) (int, string, error) {
	f.calls = append(f.calls, cmd)
	for prefix, r := range f.responses {
		if strings.HasPrefix(cmd, prefix) {
			return r.exitCode, r.output, nil
		}
	}
	return 0, "", nil
}

type fakeDriver struct {
	name       string
	runSuccess bool
	runOutput  string
}

func (d *fakeDriver) Name() string { return d.name }
func (d *fakeDriver) Install(exec patch.Executor, workdir string) error {
	return nil
}
func (d *fakeDriver) Run(exec patch.Executor, repoWorkdir, problemStatement, instanceID, repoName string) (bool, string, error) {
	return d.runSuccess, d.runOutput, nil
}
func (d *fakeDriver) ParseTokens(log string) harness.TokenUsage { return harness.TokenUsage{} }
func (d *fakeDriver) PrepareResources() ([]agentdriver.Resource, error) { return nil, nil }

const shortSummary = "short test summary info\nPASSED tests/test_x.py::test_a\n"

func TestEvaluateSucceedsWhenAllTestsPass(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]fakeResponse{
		"cat patch.diff":    {exitCode: 0, output: "diff --git a/x.py b/x.py\n--- a/x.py\n+++ b/x.py\n@@ -1 +1 @@\n-old\n+new\n"},
		"python3 -m pytest": {exitCode: 0, output: shortSummary},
	}}
	op := containerop.New("django/django", exec, "/workdir/swap", "", nil)
	driver := &fakeDriver{name: "claude-code", runSuccess: true, runOutput: "agent log"}
	spec := &harness.Spec{
		InstanceID: "django__django-1", Repo: "django/django", BaseCommit: "abc",
		FailToPass: "tests/test_x.py::test_a",
	}

	s := &Scheduler{opts: Options{ContainerWorkdirRoot: "/workdir/swap"}, logger: discardLogger()}
	result := s.evaluate(op, exec, driver, spec)

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !result.SuccessF2P {
		t.Errorf("expected SuccessF2P, got %+v", result)
	}
}

func TestEvaluateFailsWhenAgentRunFails(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]fakeResponse{}}
	op := containerop.New("django/django", exec, "/workdir/swap", "", nil)
	driver := &fakeDriver{name: "claude-code", runSuccess: false, runOutput: "agent crashed"}
	spec := &harness.Spec{InstanceID: "django__django-1", Repo: "django/django", BaseCommit: "abc"}

	s := &Scheduler{opts: Options{ContainerWorkdirRoot: "/workdir/swap"}, logger: discardLogger()}
	result := s.evaluate(op, exec, driver, spec)

	if result.Success {
		t.Fatal("expected failure when the agent itself fails")
	}
	if result.Error != "agent crashed" {
		t.Errorf("got error %q, want agent crashed", result.Error)
	}
}

func TestEvaluateFailsWhenFailToPassTestsDoNotPass(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]fakeResponse{
		"cat patch.diff":    {exitCode: 0, output: "diff --git a/x.py b/x.py\n--- a/x.py\n+++ b/x.py\n@@ -1 +1 @@\n-old\n+new\n"},
		"python3 -m pytest": {exitCode: 1, output: "short test summary info\nFAILED tests/test_x.py::test_a\n"},
	}}
	op := containerop.New("django/django", exec, "/workdir/swap", "", nil)
	driver := &fakeDriver{name: "claude-code", runSuccess: true, runOutput: "agent log"}
	spec := &harness.Spec{
		InstanceID: "django__django-1", Repo: "django/django", BaseCommit: "abc",
		FailToPass: "tests/test_x.py::test_a",
	}

	s := &Scheduler{opts: Options{ContainerWorkdirRoot: "/workdir/swap"}, logger: discardLogger()}
	result := s.evaluate(op, exec, driver, spec)

	if result.Success || result.SuccessF2P {
		t.Fatalf("expected failure when FAIL_TO_PASS test does not pass, got %+v", result)
	}
}

func TestSetToSliceRoundTrips(t *testing.T) {
	set := map[string]struct{}{"a": {}, "b": {}}
	got := setToSlice(set)
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestEvaluateTestOnlySkipsAgentRun(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]fakeResponse{
		"cat patch.diff":    {exitCode: 0, output: "diff --git a/x.py b/x.py\n--- a/x.py\n+++ b/x.py\n@@ -1 +1 @@\n-old\n+new\n"},
		"python3 -m pytest": {exitCode: 0, output: shortSummary},
	}}
	op := containerop.New("django/django", exec, "/workdir/swap", "", nil)
	driver := &fakeDriver{name: "claude-code", runSuccess: false, runOutput: "must not run"}
	spec := &harness.Spec{
		InstanceID: "django__django-1", Repo: "django/django", BaseCommit: "abc",
		FailToPass: "tests/test_x.py::test_a",
	}

	s := &Scheduler{opts: Options{ContainerWorkdirRoot: "/workdir/swap", TestOnly: true}, logger: discardLogger()}
	result := s.evaluate(op, exec, driver, spec)

	if !result.Success {
		t.Fatalf("expected test-only evaluation to judge the existing patch.diff, got %+v", result)
	}
	for _, c := range exec.calls {
		if strings.Contains(c, "chown") {
			t.Errorf("test-only mode must not touch agent log ownership, ran %q", c)
		}
	}
}

func TestCapPerRepoLimitsEachRepo(t *testing.T) {
	specs := []*harness.Spec{
		{InstanceID: "a-1", Repo: "acme/a"},
		{InstanceID: "a-2", Repo: "acme/a"},
		{InstanceID: "a-3", Repo: "acme/a"},
		{InstanceID: "b-1", Repo: "acme/b"},
	}

	capped := capPerRepo(specs, 2)
	if len(capped) != 3 {
		t.Fatalf("got %d specs, want 3 (2 from acme/a, 1 from acme/b)", len(capped))
	}
	if capped[0].InstanceID != "a-1" || capped[1].InstanceID != "a-2" || capped[2].InstanceID != "b-1" {
		t.Errorf("capPerRepo reordered or mis-capped: %v", capped)
	}

	if got := capPerRepo(specs, 0); len(got) != len(specs) {
		t.Errorf("cap of 0 must mean no cap, got %d specs", len(got))
	}
}
