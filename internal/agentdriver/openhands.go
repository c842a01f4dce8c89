package agentdriver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/featbench/featbench/internal/ferrors"
	"github.com/featbench/featbench/internal/harness"
	"github.com/featbench/featbench/internal/patch"
)

// OpenHandsDriver runs the OpenHands CLI (github.com/All-Hands-AI/OpenHands)
// headlessly, installed per-container via `uv tool install`.
type OpenHandsDriver struct {
	Config Config
}

func (d *OpenHandsDriver) Name() string { return "openhands" }

func (d *OpenHandsDriver) Install(exec patch.Executor, workdir string) error {
	if exitCode, output, err := exec.Execute("uv tool install openhands --python 3.12", workdir, true, false, 300); err != nil || exitCode != 0 {
		return ferrors.AgentSetup(err, "installing openhands CLI: %s", output)
	}
	// Non-fatal: PATH update is a convenience, not a requirement for the
	// absolute path used by Run.
	exec.Execute("uv tool update-shell", workdir, true, false, 60)
	return nil
}

func (d *OpenHandsDriver) envPrefix() string {
	var parts []string
	if d.Config.APIKey != "" {
		parts = append(parts, "LLM_API_KEY="+shellQuote(d.Config.APIKey))
	}
	if d.Config.Model != "" {
		parts = append(parts, "LLM_MODEL="+shellQuote(d.Config.Model))
	}
	if d.Config.BaseURL != "" {
		parts = append(parts, "LLM_BASE_URL="+shellQuote(d.Config.BaseURL))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " ") + " "
}

func (d *OpenHandsDriver) Run(exec patch.Executor, repoWorkdir, problemStatement, instanceID, repoName string) (bool, string, error) {
	escaped := shellQuote(problemStatement)
	runCmd := fmt.Sprintf(
		"%s$HOME/.local/bin/openhands --headless --json -t %s --override-with-envs | tee /logs/output.jsonl",
		d.envPrefix(), escaped,
	)

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

func (d *OpenHandsDriver) ParseTokens(log string) harness.TokenUsage {
	clean := stripANSI(log)

	totalInput, totalOutput := 0, 0
	foundAny := false

	for _, line := range strings.Split(clean, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		for _, key := range []string{"usage", "metrics", "token_usage"} {
			usage, ok := event[key].(map[string]any)
			if !ok {
				continue
			}
			inp, hasInp := pick(usage, "prompt_tokens", "input_tokens", "total_input_tokens")
			out, hasOut := pick(usage, "completion_tokens", "output_tokens", "total_output_tokens")
			if hasInp || hasOut {
				foundAny = true
				totalInput += inp
				totalOutput += out
				break
			}
		}
	}

	if !foundAny {
		return harness.TokenUsage{}
	}
	return harness.TokenUsage{
		InputTokens:  intPtr(totalInput),
		OutputTokens: intPtr(totalOutput),
		TotalTokens:  intPtr(totalInput + totalOutput),
	}
}

func (d *OpenHandsDriver) PrepareResources() ([]Resource, error) { return nil, nil }
