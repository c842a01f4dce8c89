// Package testresult implements the evaluation engine's Test-Result
// Parser: it turns a test runner's textual summary output into a map
// from test-runner node ID to harness.TestStatus, and aggregates
// parameterized variants of the same base test into a single verdict.
package testresult

import (
	"regexp"
	"strings"

	"github.com/featbench/featbench/internal/harness"
)

var ansiEscapeRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// summaryLineRe matches a pytest short-summary line:
//
//	STATUS test_file.py::TestClass::test_method[params] - error message
//	STATUS test_file.py::test_function
var summaryLineRe = regexp.MustCompile(`^(PASSED|FAILED|SKIPPED|ERROR)\s+(.+?)(?:\s-\s.*)?$`)

const summaryAnchor = "short test summary info"

// Parser holds the parsed per-node status map for one test-runner run.
type Parser struct {
	results map[string]harness.TestStatus
}

// Parse parses raw test-runner output (ANSI escapes allowed) into a
// Parser ready for querying.
func Parse(output string) *Parser {
	p := &Parser{results: make(map[string]harness.TestStatus)}
	clean := stripANSI(output)

	if idx := strings.Index(clean, summaryAnchor); idx != -1 {
		p.parseLines(clean[idx:])
	} else {
		p.parseFullOutput(clean)
	}
	return p
}

func stripANSI(s string) string {
	return ansiEscapeRe.ReplaceAllString(s, "")
}

func (p *Parser) parseLines(section string) {
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p.parseTestLine(line)
	}
}

// parseFullOutput is the fallback path used when no
// "short test summary info" anchor is present: every line mentioning any
// of the four status keywords is a candidate.
func (p *Parser) parseFullOutput(clean string) {
	for _, line := range strings.Split(clean, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, s := range []string{"PASSED", "FAILED", "SKIPPED", "ERROR"} {
			if strings.Contains(line, s) {
				p.parseTestLine(line)
				break
			}
		}
	}
}

func (p *Parser) parseTestLine(line string) {
	m := summaryLineRe.FindStringSubmatch(line)
	if m == nil {
		return
	}
	statusStr := m[1]
	testPath := strings.TrimSpace(m[2])

	status := parseStatus(statusStr)
	p.results[testPath] = status
}

func parseStatus(s string) harness.TestStatus {
	switch s {
	case "PASSED":
		return harness.TestPassed
	case "FAILED":
		return harness.TestFailed
	case "SKIPPED":
		return harness.TestSkipped
	case "ERROR":
		return harness.TestError
	default:
		return harness.TestUnknown
	}
}

// baseTestName strips the parameterization suffix ("[...]") from a test
// node ID.
func baseTestName(testPath string) string {
	if idx := strings.Index(testPath, "["); idx != -1 {
		return testPath[:idx]
	}
	return testPath
}

// aggregate folds all parameterized variants of one base test into a
// single verdict:
//
//	any FAILED/ERROR/UNKNOWN                          -> FAILED
//	all in {PASSED, SKIPPED} with >=1 PASSED          -> PASSED
//	all SKIPPED                                       -> SKIPPED
//	otherwise                                         -> UNKNOWN
func aggregate(statuses []harness.TestStatus) harness.TestStatus {
	if len(statuses) == 0 {
		return harness.TestUnknown
	}

	anyPassed := false
	allPassedOrSkipped := true
	anyBad := false

	for _, s := range statuses {
		switch s {
		case harness.TestFailed, harness.TestError, harness.TestUnknown:
			anyBad = true
		case harness.TestPassed:
			anyPassed = true
		case harness.TestSkipped:
			// no-op, counts toward allPassedOrSkipped
		default:
			allPassedOrSkipped = false
		}
		if s != harness.TestPassed && s != harness.TestSkipped {
			allPassedOrSkipped = false
		}
	}

	if anyBad {
		return harness.TestFailed
	}
	if allPassedOrSkipped {
		if anyPassed {
			return harness.TestPassed
		}
		return harness.TestSkipped
	}
	return harness.TestUnknown
}

// GetStatus returns the (possibly aggregated) status for testPattern, or
// false if nothing in the output matched it or its base name.
func (p *Parser) GetStatus(testPattern string) (harness.TestStatus, bool) {
	if status, ok := p.results[testPattern]; ok {
		return status, true
	}

	base := baseTestName(testPattern)
	var group []harness.TestStatus
	for path, status := range p.results {
		if baseTestName(path) == base {
			group = append(group, status)
		}
	}
	if len(group) == 0 {
		return "", false
	}
	return aggregate(group), true
}

// Query returns the status for each requested pattern; patterns with no
// match at all are reported as TestUnknown.
func (p *Parser) Query(patterns []string) map[string]harness.TestStatus {
	out := make(map[string]harness.TestStatus, len(patterns))
	for _, pattern := range patterns {
		if status, ok := p.GetStatus(pattern); ok {
			out[pattern] = status
		} else {
			out[pattern] = harness.TestUnknown
		}
	}
	return out
}

// FilterByStatus groups every parsed entry by base test name, aggregates
// each group, and returns the base names whose aggregated status is in
// expected. A nil/empty expected defaults to {PASSED}.
func (p *Parser) FilterByStatus(expected []harness.TestStatus) map[string]struct{} {
	if len(expected) == 0 {
		expected = []harness.TestStatus{harness.TestPassed}
	}
	wanted := make(map[harness.TestStatus]struct{}, len(expected))
	for _, s := range expected {
		wanted[s] = struct{}{}
	}

	groups := make(map[string][]harness.TestStatus)
	for path, status := range p.results {
		base := baseTestName(path)
		groups[base] = append(groups[base], status)
	}

	matched := make(map[string]struct{})
	for base, statuses := range groups {
		agg := aggregate(statuses)
		if _, ok := wanted[agg]; ok {
			matched[base] = struct{}{}
		}
	}
	return matched
}

// Results returns the raw, unaggregated per-node status map.
func (p *Parser) Results() map[string]harness.TestStatus {
	return p.results
}

// Merge combines this parser's results with another's; on a node present
// in both, the other parser's status wins. The batched test run in
// containerop merges its per-batch matched sets itself and does not call
// Merge.
func (p *Parser) Merge(other *Parser) {
	for k, v := range other.results {
		p.results[k] = v
	}
}
