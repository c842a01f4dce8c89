package agentdriver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/featbench/featbench/internal/ferrors"
	"github.com/featbench/featbench/internal/harness"
	"github.com/featbench/featbench/internal/patch"
)

// GeminiDriver runs gemini-cli (github.com/google-gemini/gemini-cli) in
// headless mode. The CLI itself makes no patch.diff; Run captures the
// agent's edits with a trailing `git diff` the way the other headless
// CLI drivers do.
type GeminiDriver struct {
	Config Config
}

func (d *GeminiDriver) Name() string { return "gemini-cli" }

func (d *GeminiDriver) Install(exec patch.Executor, workdir string) error {
	installCmd := `bash -c '` +
		`export NVM_DIR="$HOME/.nvm" && ` +
		`curl -fsSL https://raw.githubusercontent.com/nvm-sh/nvm/v0.40.3/install.sh | bash && ` +
		`source "$NVM_DIR/nvm.sh" && ` +
		`nvm install --lts && ` +
		`npm install -g @google/gemini-cli'`
	if exitCode, output, err := exec.Execute(installCmd, workdir, true, false, 600); err != nil || exitCode != 0 {
		return ferrors.AgentSetup(err, "installing gemini-cli: %s", output)
	}
	return nil
}

func (d *GeminiDriver) envPrefix() string {
	var parts []string
	if d.Config.BaseURL != "" {
		parts = append(parts, "GOOGLE_GEMINI_BASE_URL="+shellQuote(d.Config.BaseURL))
	}
	if d.Config.APIKey != "" {
		parts = append(parts, "GEMINI_API_KEY="+shellQuote(d.Config.APIKey))
	}
	if d.Config.Model != "" {
		parts = append(parts, "GEMINI_MODEL="+shellQuote(d.Config.Model))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " ") + " "
}

func (d *GeminiDriver) Run(exec patch.Executor, repoWorkdir, problemStatement, instanceID, repoName string) (bool, string, error) {
	escaped := shellQuote(problemStatement)
	nodeBin := `$(ls -d "$HOME/.nvm/versions/node/"*/bin | tail -1)`
	runCmd := fmt.Sprintf(`%sPATH="%s:$PATH" gemini -p %s --yolo --output-format json`, d.envPrefix(), nodeBin, escaped)

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

func (d *GeminiDriver) ParseTokens(log string) harness.TokenUsage {
	clean := stripANSI(log)

	var event map[string]any
	for _, line := range reverseLines(clean) {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var candidate map[string]any
		if err := json.Unmarshal([]byte(line), &candidate); err == nil {
			event = candidate
			break
		}
	}
	if event == nil {
		_ = json.Unmarshal([]byte(strings.TrimSpace(clean)), &event)
	}
	if event == nil {
		return harness.TokenUsage{}
	}

	stats, _ := event["stats"].(map[string]any)
	if stats == nil {
		return harness.TokenUsage{}
	}

	if models, ok := stats["models"].(map[string]any); ok && len(models) > 0 {
		inputTotal, outputTotal, grandTotal := 0, 0, 0
		for _, raw := range models {
			modelData, _ := raw.(map[string]any)
			tokens, _ := modelData["tokens"].(map[string]any)
			inputTotal += intFromAny(tokens["input"])
			outputTotal += intFromAny(tokens["candidates"])
			grandTotal += intFromAny(tokens["total"])
		}
		u := harness.TokenUsage{}
		if inputTotal > 0 {
			u.InputTokens = intPtr(inputTotal)
		}
		if outputTotal > 0 {
			u.OutputTokens = intPtr(outputTotal)
		}
		if grandTotal > 0 {
			u.TotalTokens = intPtr(grandTotal)
		} else if inputTotal > 0 || outputTotal > 0 {
			u.TotalTokens = intPtr(inputTotal + outputTotal)
		}
		return u
	}

	inp, hasInp := pick(stats, "inputTokenCount", "inputTokens", "input_tokens")
	out, hasOut := pick(stats, "outputTokenCount", "outputTokens", "output_tokens", "candidatesTokenCount")
	tot, hasTot := pick(stats, "totalTokenCount", "totalTokens", "total_tokens")

	u := harness.TokenUsage{}
	if hasInp {
		u.InputTokens = intPtr(inp)
	}
	if hasOut {
		u.OutputTokens = intPtr(out)
	}
	if hasTot {
		u.TotalTokens = intPtr(tot)
	} else if hasInp && hasOut {
		u.TotalTokens = intPtr(inp + out)
	}
	return u
}

func (d *GeminiDriver) PrepareResources() ([]Resource, error) { return nil, nil }

func reverseLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}

func intFromAny(v any) int {
	n, _ := toInt(v)
	return n
}

func pick(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if n, ok := toInt(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}
