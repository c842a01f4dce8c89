package agentdriver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/featbench/featbench/internal/ferrors"
	"github.com/featbench/featbench/internal/harness"
	"github.com/featbench/featbench/internal/patch"
)

// TraeDriver runs trae-agent (https://github.com/bytedance/trae-agent)
// against a checked-out repo using its --must-patch flag, which makes the
// agent itself write patch.diff rather than requiring a `git diff` step.
type TraeDriver struct {
	Config Config
}

func (d *TraeDriver) Name() string { return "trae-agent" }

func (d *TraeDriver) Install(exec patch.Executor, workdir string) error {
	if _, _, err := exec.Execute("mkdir -p agent/", workdir, true, false, 60); err != nil {
		return ferrors.AgentSetup(err, "creating agent directory")
	}
	cloneCmd := fmt.Sprintf("git clone %s agent/", d.Config.RepoURL)
	if exitCode, output, err := exec.Execute(cloneCmd, workdir, true, false, 300); err != nil || exitCode != 0 {
		return ferrors.AgentSetup(err, "cloning trae-agent repository: %s", output)
	}

	if d.Config.Branch != "" {
		checkoutCmd := fmt.Sprintf("git checkout %s", d.Config.Branch)
		if exitCode, output, err := exec.Execute(checkoutCmd, workdir+"/agent", true, false, 60); err != nil || exitCode != 0 {
			return ferrors.AgentSetup(err, "checking out agent branch %s: %s", d.Config.Branch, output)
		}
	}

	if d.Config.InstallCommand != "" {
		if exitCode, output, err := exec.Execute(d.Config.InstallCommand, workdir+"/agent", true, true, 600); err != nil || exitCode != 0 {
			return ferrors.AgentSetup(err, "installing trae-agent dependencies: %s", output)
		}
	}
	return nil
}

func (d *TraeDriver) Run(exec patch.Executor, repoWorkdir, problemStatement, instanceID, repoName string) (bool, string, error) {
	escaped := shellQuote(problemStatement)
	runCmd := fmt.Sprintf(
		".venv/bin/python3.12 -m trae_agent.cli run %s --must-patch "+
			"--patch-path /workdir/swap/%s/patch.diff "+
			"--working-dir /workdir/swap/%s "+
			"--model %s --provider %s "+
			"--config-file /workdir/swap/trae-agent/trae_config.yaml",
		escaped, repoName, repoName, d.Config.Model, d.Config.Provider,
	)
	exitCode, output, err := exec.Execute(runCmd, "/workdir/agent", true, true, 0)
	if err != nil {
		return false, output, err
	}
	return exitCode == 0, output, nil
}

var traeTotalTokensRe = regexp.MustCompile(`│ Total Tokens\s*│\s*(\d+)`)

func (d *TraeDriver) ParseTokens(log string) harness.TokenUsage {
	clean := stripANSI(log)
	idx := strings.Index(clean, "Execution Summary")
	if idx == -1 {
		return harness.TokenUsage{}
	}
	for _, line := range strings.Split(clean[idx:], "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "│ Total Tokens") {
			continue
		}
		if m := traeTotalTokensRe.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return harness.TokenUsage{TotalTokens: intPtr(n)}
			}
		}
	}
	return harness.TokenUsage{}
}

func (d *TraeDriver) PrepareResources() ([]Resource, error) { return nil, nil }
