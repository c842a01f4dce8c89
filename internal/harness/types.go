// Package harness holds the data model shared across the evaluation engine:
// task specifications, patch records, test statuses, and verdicts.
package harness

import "strings"

// Spec is one task in the benchmark: an immutable description of a
// repository, a base commit, a problem statement, and the tests that
// gate success. Read-only from load until discarded.
type Spec struct {
	InstanceID       string `json:"instance_id"`
	Repo             string `json:"repo"`
	BaseCommit       string `json:"base_commit"`
	Number           int    `json:"number"`
	ProblemStatement string `json:"problem_statement"`

	// Patch is the canonical reference solution, for record-keeping only;
	// it is never handed to an agent.
	Patch string `json:"patch"`

	// TestPatch installs the new tests that exercise the requested
	// feature. Always applied by the harness, never by the agent.
	TestPatch string `json:"test_patch"`

	TestFiles  []string `json:"test_files,omitempty"`
	CreatedAt  string   `json:"created_at"`
	FailToPass string   `json:"FAIL_TO_PASS"`
	PassToPass string   `json:"PASS_TO_PASS"`
	Processed  bool     `json:"processed,omitempty"`
}

// RepoName returns the last path segment of Repo, e.g. "django" for
// "django/django".
func (s *Spec) RepoName() string {
	parts := strings.Split(s.Repo, "/")
	return parts[len(parts)-1]
}

// FailToPassTests splits the comma-separated FailToPass field into
// individual test-runner node IDs.
func (s *Spec) FailToPassTests() []string {
	return splitTestList(s.FailToPass)
}

// PassToPassTests splits the comma-separated PassToPass field into
// individual test-runner node IDs.
func (s *Spec) PassToPassTests() []string {
	return splitTestList(s.PassToPass)
}

func splitTestList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PatchStatus classifies a per-file patch record.
type PatchStatus string

const (
	PatchAdded    PatchStatus = "added"
	PatchModified PatchStatus = "modified"
	PatchRemoved  PatchStatus = "removed"
	PatchRenamed  PatchStatus = "renamed"
)

// PatchInfo is one file's worth of a parsed unified diff. Created per
// diff parse, destroyed after application.
type PatchInfo struct {
	Filename     string      `json:"filename"`
	Status       PatchStatus `json:"status"`
	PatchContent string      `json:"patch"`
	IsTestFile   bool        `json:"is_test_file"`
	OldFilename  string      `json:"old_filename,omitempty"`
}

// TestStatus is the outcome of a single test-runner node.
type TestStatus string

const (
	TestPassed  TestStatus = "PASSED"
	TestFailed  TestStatus = "FAILED"
	TestSkipped TestStatus = "SKIPPED"
	TestError   TestStatus = "ERROR"
	TestUnknown TestStatus = "UNKNOWN"
)

// ChangeType and CodeType describe one AST-differenced code change.
// CodeChange is produced by the (out-of-scope) data-collection
// collaborator; the scheduler only ever consumes already-derived lists,
// turning them into test selectors (see containerop.SelectorsFromChanges).
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

type CodeType string

const (
	CodeClass    CodeType = "class"
	CodeFunction CodeType = "function"
	CodeMethod   CodeType = "method"
)

// CodeChange names one changed symbol within a file.
type CodeChange struct {
	Name       string     `json:"name"`
	ChangeType ChangeType `json:"change_type"`
	CodeType   CodeType   `json:"code_type"`
}

// TokenUsage is best-effort token telemetry parsed from an agent's log.
// Any field may be nil when the driver could not determine it; parsing
// failures are always swallowed upstream rather than surfaced here.
type TokenUsage struct {
	InputTokens  *int `json:"input_tokens,omitempty"`
	OutputTokens *int `json:"output_tokens,omitempty"`
	TotalTokens  *int `json:"total_tokens,omitempty"`
}

// EvalResult is the verdict for one (agent, instance) pair.
type EvalResult struct {
	AgentName  string `json:"agent_name"`
	InstanceID string `json:"instance_id"`

	SuccessF2P bool `json:"success_f2p"`
	SuccessP2P bool `json:"success_p2p"`
	Success    bool `json:"success"`

	PassedF2PTests   []string `json:"passed_f2p_tests"`
	PassedP2PTests   []string `json:"passed_p2p_tests"`
	ExpectedF2PTests []string `json:"expected_f2p_tests"`
	ExpectedP2PTests []string `json:"expected_p2p_tests"`

	InputTokens  *int `json:"input_tokens,omitempty"`
	OutputTokens *int `json:"output_tokens,omitempty"`
	TotalTokens  *int `json:"total_tokens,omitempty"`

	Error string `json:"error,omitempty"`
}

// Key identifies a result within the cumulative results list for
// dedup/resumption purposes.
func (r *EvalResult) Key() ResultKey {
	return ResultKey{Agent: r.AgentName, InstanceID: r.InstanceID}
}

// ResultKey is the (agent, instance_id) dedup key.
type ResultKey struct {
	Agent      string
	InstanceID string
}

// ContainsAll reports whether every element of expected is present in got.
// Used to compute SuccessF2P / SuccessP2P: expected ⊆ passed.
func ContainsAll(expected, got []string) bool {
	set := make(map[string]struct{}, len(got))
	for _, g := range got {
		set[g] = struct{}{}
	}
	for _, e := range expected {
		if _, ok := set[e]; !ok {
			return false
		}
	}
	return true
}
