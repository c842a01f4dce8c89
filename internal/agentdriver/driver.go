// Package agentdriver wraps the various coding-agent CLIs (and a direct
// model-API variant) behind one interface so the scheduler can install,
// run, and harvest token usage from any of them uniformly.
package agentdriver

import (
	"github.com/featbench/featbench/internal/harness"
	"github.com/featbench/featbench/internal/patch"
)

// Config carries the per-agent settings the scheduler reads from the
// evaluation configuration: model/provider selection, credentials for a
// LiteLLM-style proxy, and anything a specific variant needs (a branch to
// check out, an explicit install command, a repo URL to clone).
type Config struct {
	Name           string
	Model          string
	Provider       string
	APIKey         string
	BaseURL        string
	Branch         string
	InstallCommand string
	RepoURL        string
}

// Resource is an agent-specific artifact prepared ahead of evaluation
// (Agentless-style precomputed patches, for instance). Most drivers never
// produce any.
type Resource map[string]any

// Driver is the behavior every supported coding agent implements.
type Driver interface {
	// Name identifies the driver for logging and result records.
	Name() string

	// Install places the agent's code/binary in the container and
	// installs its dependencies.
	Install(exec patch.Executor, workdir string) error

	// Run drives the agent against a problem statement inside the
	// container rooted at repoWorkdir, returning whether it completed
	// successfully and its raw combined output (for token parsing).
	Run(exec patch.Executor, repoWorkdir, problemStatement, instanceID, repoName string) (success bool, output string, err error)

	// ParseTokens extracts whatever token-usage accounting the agent's
	// output happens to carry. All fields are nil when nothing is found.
	ParseTokens(output string) harness.TokenUsage

	// PrepareResources builds any agent-specific resources needed before
	// evaluation starts. Most drivers return (nil, nil).
	PrepareResources() ([]Resource, error)
}

func intPtr(v int) *int {
	return &v
}
