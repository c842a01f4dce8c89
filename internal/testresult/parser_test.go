package testresult

import (
	"testing"

	"github.com/featbench/featbench/internal/harness"
)

const summaryOutput = `============================= test session starts ==============================
collected 4 items

tests/test_x.py::test_a PASSED
tests/test_x.py::test_b PASSED

=========================== short test summary info ===========================
PASSED tests/p.py::test_q[1]
FAILED tests/p.py::test_q[2] - AssertionError: boom
SKIPPED tests/p.py::test_r[only-case] - skipped reason
========================= 1 failed, 2 passed in 0.42s ==========================`

func TestParseUsesSummarySection(t *testing.T) {
	p := Parse(summaryOutput)
	status, ok := p.GetStatus("tests/p.py::test_q[1]")
	if !ok || status != harness.TestPassed {
		t.Fatalf("test_q[1] = %v, %v; want PASSED, true", status, ok)
	}
}

func TestAggregationParameterizedMixedFails(t *testing.T) {
	p := Parse(summaryOutput)
	result := p.Query([]string{"tests/p.py::test_q"})
	if result["tests/p.py::test_q"] != harness.TestFailed {
		t.Errorf("aggregated test_q = %v, want FAILED (one variant failed)", result["tests/p.py::test_q"])
	}
}

func TestAggregationAllSkipped(t *testing.T) {
	p := Parse("short test summary info\nSKIPPED a.py::test_s[1] - x\nSKIPPED a.py::test_s[2] - y\n")
	status, ok := p.GetStatus("a.py::test_s")
	if !ok || status != harness.TestSkipped {
		t.Errorf("all-skipped aggregation = %v, %v; want SKIPPED, true", status, ok)
	}
}

func TestAggregationPassedAndSkippedIsPassed(t *testing.T) {
	p := Parse("short test summary info\nPASSED a.py::test_s[1]\nSKIPPED a.py::test_s[2] - reason\n")
	status, _ := p.GetStatus("a.py::test_s")
	if status != harness.TestPassed {
		t.Errorf("mixed passed/skipped aggregation = %v, want PASSED", status)
	}
}

func TestANSIStripping(t *testing.T) {
	withAnsi := "short test summary info\n\x1b[32mPASSED\x1b[0m tests/x.py::test_a\n"
	p := Parse(withAnsi)
	status, ok := p.GetStatus("tests/x.py::test_a")
	if !ok || status != harness.TestPassed {
		t.Fatalf("status with ANSI codes = %v, %v; want PASSED, true", status, ok)
	}
}

func TestParseFallsBackToFullOutputWithoutSummaryAnchor(t *testing.T) {
	output := "PASSED tests/y.py::test_one\nFAILED tests/y.py::test_two\n"
	p := Parse(output)
	if status, ok := p.GetStatus("tests/y.py::test_one"); !ok || status != harness.TestPassed {
		t.Errorf("test_one = %v, %v; want PASSED, true", status, ok)
	}
	if status, ok := p.GetStatus("tests/y.py::test_two"); !ok || status != harness.TestFailed {
		t.Errorf("test_two = %v, %v; want FAILED, true", status, ok)
	}
}

func TestFilterByStatusDefaultsToPassed(t *testing.T) {
	p := Parse(summaryOutput)
	matched := p.FilterByStatus(nil)
	if _, ok := matched["tests/p.py::test_q"]; ok {
		t.Errorf("test_q aggregates to FAILED and must not be in the default PASSED filter")
	}
}

func TestQueryUnknownForUnmatchedPattern(t *testing.T) {
	p := Parse(summaryOutput)
	result := p.Query([]string{"tests/does_not_exist.py::test_missing"})
	if result["tests/does_not_exist.py::test_missing"] != harness.TestUnknown {
		t.Errorf("unmatched pattern should report UNKNOWN")
	}
}

func TestMergeCombinesBatchedResults(t *testing.T) {
	a := Parse("short test summary info\nPASSED a.py::test_1\n")
	b := Parse("short test summary info\nPASSED b.py::test_2\n")
	a.Merge(b)

	if _, ok := a.GetStatus("a.py::test_1"); !ok {
		t.Error("merged parser lost its own result")
	}
	if _, ok := a.GetStatus("b.py::test_2"); !ok {
		t.Error("merged parser missing the other parser's result")
	}
}
