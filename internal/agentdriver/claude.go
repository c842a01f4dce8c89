package agentdriver

import (
	"fmt"
	"strings"

	"github.com/featbench/featbench/internal/ferrors"
	"github.com/featbench/featbench/internal/harness"
	"github.com/featbench/featbench/internal/patch"
)

// ClaudeDriver runs the claude CLI headlessly via `-p`, pointed at a
// LiteLLM-style proxy through ANTHROPIC_AUTH_TOKEN/ANTHROPIC_BASE_URL.
type ClaudeDriver struct {
	Config Config
}

func (d *ClaudeDriver) Name() string { return "claude-code" }

func (d *ClaudeDriver) Install(exec patch.Executor, workdir string) error {
	installCmd := `bash -c "curl -fsSL https://claude.ai/install.sh | bash"`
	if exitCode, output, err := exec.Execute(installCmd, workdir, true, false, 300); err != nil || exitCode != 0 {
		return ferrors.AgentSetup(err, "installing claude CLI: %s", output)
	}

	// Session transcripts land under ~/.claude/projects; pointing that at
	// the /logs bind mount keeps them after the container is removed.
	symlinkCmd := `bash -c "mkdir -p ~/.claude && ln -sf /logs ~/.claude/projects"`
	if exitCode, output, err := exec.Execute(symlinkCmd, workdir, false, false, 30); err != nil || exitCode != 0 {
		return ferrors.AgentSetup(err, "linking claude log directory: %s", output)
	}
	return nil
}

func (d *ClaudeDriver) envPrefix() string {
	baseURL := strings.TrimSuffix(d.Config.BaseURL, "/v1")

	parts := []string{
		"ANTHROPIC_AUTH_TOKEN=" + shellQuote(d.Config.APIKey),
		"ANTHROPIC_API_KEY=''",
		"IS_SANDBOX=1",
	}
	if baseURL != "" {
		parts = append(parts, "ANTHROPIC_BASE_URL="+shellQuote(baseURL))
	}
	if d.Config.Model != "" {
		for _, key := range []string{
			"ANTHROPIC_MODEL",
			"ANTHROPIC_DEFAULT_OPUS_MODEL",
			"ANTHROPIC_DEFAULT_SONNET_MODEL",
			"ANTHROPIC_DEFAULT_HAIKU_MODEL",
			"CLAUDE_CODE_SUBAGENT_MODEL",
		} {
			parts = append(parts, key+"="+shellQuote(d.Config.Model))
		}
	}
	return strings.Join(parts, " ") + " "
}

func (d *ClaudeDriver) Run(exec patch.Executor, repoWorkdir, problemStatement, instanceID, repoName string) (bool, string, error) {
	escaped := shellQuote(problemStatement)
	runCmd := fmt.Sprintf(`%s$HOME/.local/bin/claude --dangerously-skip-permissions -p %s`, d.envPrefix(), escaped)

	exitCode, output, err := exec.Execute(runCmd, repoWorkdir, true, true, 0)
	if err != nil {
		return false, output, err
	}
	if exitCode != 0 {
		return false, output, nil
	}

	patchPath := repoWorkdir + "/patch.diff"
	diffCmd := fmt.Sprintf("git diff > %s", patchPath)
	if diffExit, _, diffErr := exec.Execute(diffCmd, repoWorkdir, true, false, 60); diffErr != nil || diffExit != 0 {
		return false, output, nil
	}
	return true, output, nil
}

func (d *ClaudeDriver) ParseTokens(log string) harness.TokenUsage {
	return lastJSONObjectWithUsage(log, "input_tokens", "output_tokens")
}

func (d *ClaudeDriver) PrepareResources() ([]Resource, error) { return nil, nil }
