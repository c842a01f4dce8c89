// Package containerop implements the Container Operator: in-sandbox
// source control operations, patch application, and test invocation with
// batching and output parsing. It is bound to one (repo, container) pair.
package containerop

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/featbench/featbench/internal/ferrors"
	"github.com/featbench/featbench/internal/harness"
	"github.com/featbench/featbench/internal/patch"
	"github.com/featbench/featbench/internal/testresult"
)

var defaultTestDirCandidates = []string{"tests", "test", "Tests", "TESTS", "unit_tests", "TEST"}
var defaultIgnoreDirs = []string{".venv", "build"}

const (
	commandLengthThreshold = 100000
	batchSize              = 250
	testRunTimeoutSeconds  = 1200
)

// Operator performs clone/checkout/patch-apply/run-tests for one repo
// against one container, via any execshell.Executor-compatible backend.
type Operator struct {
	Repo     string
	RepoName string

	Executor patch.Executor // doubles as the test/checkout executor
	Logger   *log.Logger

	// ContainerWorkdirRoot is the sandbox's working root, normally
	// /workdir/swap; empty means "local mode", where WorkdirRoot below is
	// used instead.
	ContainerWorkdirRoot string
	WorkdirRoot          string
}

// New builds an Operator bound to repo, running commands through exec.
func New(repo string, exec patch.Executor, containerWorkdirRoot, localWorkdirRoot string, logger *log.Logger) *Operator {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	parts := strings.Split(repo, "/")
	return &Operator{
		Repo:                 repo,
		RepoName:             parts[len(parts)-1],
		Executor:             exec,
		Logger:               logger,
		ContainerWorkdirRoot: containerWorkdirRoot,
		WorkdirRoot:          localWorkdirRoot,
	}
}

// workdir is the repository's working tree path: /workdir/swap/<repo>
// in container mode, or WorkdirRoot/<repo> locally.
func (o *Operator) workdir() string {
	root := o.ContainerWorkdirRoot
	if root == "" {
		root = o.WorkdirRoot
	}
	return root + "/" + o.RepoName
}

func (o *Operator) swapRoot() string {
	if o.ContainerWorkdirRoot != "" {
		return o.ContainerWorkdirRoot
	}
	return o.WorkdirRoot
}

// Clone clones the repo into the working tree if it is not already
// present; a no-op otherwise.
func (o *Operator) Clone() error {
	checkCmd := fmt.Sprintf("test -d %s", o.RepoName)
	exitCode, _, err := o.Executor.Execute(checkCmd, o.swapRoot(), false, false, 30)
	if err != nil {
		return ferrors.ContainerOperation(err, "checking for existing clone of %s", o.Repo)
	}
	if exitCode == 0 {
		o.Logger.Printf("containerop: %s already cloned, skipping", o.RepoName)
		return nil
	}

	cloneURL := fmt.Sprintf("https://github.com/%s.git", o.Repo)
	cmd := fmt.Sprintf("git clone %s", cloneURL)
	exitCode, output, err := o.Executor.Execute(cmd, o.swapRoot(), true, true, 600)
	if err != nil {
		return ferrors.ContainerOperation(err, "clone %s", o.Repo)
	}
	if exitCode != 0 {
		return ferrors.ContainerOperation(nil, "git clone failed: %s", output)
	}
	return nil
}

// Checkout forcibly resets the working tree and switches to commit,
// excluding excludeFiles from the git clean step so the caller can
// preserve files such as a freshly-captured patch.diff across a reset.
func (o *Operator) Checkout(commit string, excludeFiles []string) error {
	cleanArgs := make([]string, 0, len(excludeFiles))
	for _, f := range excludeFiles {
		cleanArgs = append(cleanArgs, "-e "+f)
	}
	commands := []string{
		"git reset --hard",
		strings.TrimRight("git clean -fd "+strings.Join(cleanArgs, " "), " "),
		"git checkout " + commit,
	}

	wd := o.workdir()
	for _, cmd := range commands {
		exitCode, output, err := o.Executor.Execute(cmd, wd, false, false, 30)
		if err != nil {
			return ferrors.ContainerOperation(err, "running %q", cmd)
		}
		if exitCode != 0 {
			return ferrors.ContainerOperation(nil, "command failed: %s\n%s", cmd, output)
		}
	}
	o.Logger.Printf("containerop: checked out %s at %s", o.RepoName, commit)
	return nil
}

// ApplyPatches parses and applies a unified diff (or an already-parsed
// record list, via ApplyPatchInfos) against the working tree.
func (o *Operator) ApplyPatches(diffContent string, includeTest, includeSource bool) ([]string, error) {
	result, err := patch.ApplyDiffString(diffContent, o.Executor, o.workdir(), includeTest, includeSource, o.Logger)
	if err != nil {
		return nil, err
	}
	return result.Filenames, nil
}

// ApplyPatchInfos applies an already-parsed, already-filtered list, used
// when the caller built PatchInfo records directly from a dataset's
// structured per-file patch array rather than a diff string.
func (o *Operator) ApplyPatchInfos(patches []harness.PatchInfo) []string {
	return patch.Apply(patches, o.Executor, o.workdir(), o.Logger)
}

// ReadFile returns the content of a file inside the working tree, used to
// pull an agent-generated patch.diff back out of the container for
// application against a freshly reset tree.
func (o *Operator) ReadFile(relPath string) (string, error) {
	exitCode, output, err := o.Executor.Execute("cat "+relPath, o.workdir(), false, false, 30)
	if err != nil {
		return "", ferrors.ContainerOperation(err, "reading %s", relPath)
	}
	if exitCode != 0 {
		return "", ferrors.ContainerOperation(nil, "reading %s: %s", relPath, output)
	}
	return output, nil
}

// FindTestDirs looks for conventional test directory names at the
// working tree root first, then recurses (excluding .venv and build),
// falling back to a single default "tests" entry.
func (o *Operator) FindTestDirs() ([]string, error) {
	wd := o.workdir()

	rootCmd := buildFindCmd(candidatesExpr(), "", true)
	_, output, err := o.Executor.Execute(rootCmd, wd, false, false, 30)
	if err != nil {
		return nil, ferrors.ContainerOperation(err, "searching for test directories")
	}
	if found := parseFindOutput(output); len(found) > 0 {
		o.Logger.Printf("containerop: found test dirs at root: %v", found)
		return found, nil
	}

	recurseCmd := buildFindCmd(candidatesExpr(), pruneExpr(), false)
	_, output, err = o.Executor.Execute(recurseCmd, wd, false, false, 30)
	if err != nil {
		return nil, ferrors.ContainerOperation(err, "recursively searching for test directories")
	}
	if found := parseFindOutput(output); len(found) > 0 {
		o.Logger.Printf("containerop: found test dirs recursively: %v", found)
		return found, nil
	}

	o.Logger.Printf("containerop: no test directories detected, defaulting to 'tests'")
	return []string{"tests"}, nil
}

func candidatesExpr() string {
	parts := make([]string, len(defaultTestDirCandidates))
	for i, c := range defaultTestDirCandidates {
		parts[i] = fmt.Sprintf("-name '%s'", c)
	}
	return strings.Join(parts, " -o ")
}

func pruneExpr() string {
	parts := make([]string, len(defaultIgnoreDirs))
	for i, d := range defaultIgnoreDirs {
		parts[i] = fmt.Sprintf("-path './%s' -prune", d)
	}
	return strings.Join(parts, " -o ")
}

func buildFindCmd(namesExpr, pruneExpr string, rootOnly bool) string {
	if rootOnly {
		return fmt.Sprintf(`find . -maxdepth 1 -type d \( %s \) -print`, namesExpr)
	}
	return fmt.Sprintf(`find . \( %s \) -o -type d \( %s \) -print`, pruneExpr, namesExpr)
}

func parseFindOutput(output string) []string {
	var found []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "./")
		if line != "" {
			found = append(found, line)
		}
	}
	return found
}

// RunTestsOptions configures RunTests.
type RunTestsOptions struct {
	// Selectors, if non-nil, are explicit pytest node selectors; if nil,
	// the discovered test directories are run instead.
	Selectors []string

	Expected []harness.TestStatus
	UseXdist bool
}

// RunTests builds and executes the pytest invocation, splitting into
// batches when the estimated command length exceeds the 100KB guard, and
// returns the set of base test names matching any of opts.Expected plus
// the combined raw output.
func (o *Operator) RunTests(opts RunTestsOptions) (map[string]struct{}, string, error) {
	selectors := opts.Selectors
	isDirectoryRun := selectors == nil
	if isDirectoryRun {
		dirs, err := o.FindTestDirs()
		if err != nil {
			return nil, "", err
		}
		for _, d := range dirs {
			selectors = append(selectors, d+"/")
		}
	}

	baseCmd := "python3 -m pytest -q -rA --tb=no -p no:pretty --timeout=5 --continue-on-collection-errors"
	if opts.UseXdist {
		baseCmd += " --timeout-method=thread -n auto"
	} else {
		baseCmd += " --timeout-method=signal"
	}

	estimated := len(baseCmd)
	for _, s := range selectors {
		estimated += len(s) + 1
	}

	if estimated > commandLengthThreshold {
		o.Logger.Printf("containerop: %d selectors exceed command-length guard, batching", len(selectors))
		return o.runTestsBatched(baseCmd, selectors, opts.Expected)
	}

	cmd := baseCmd + " " + strings.Join(selectors, " ")
	exitCode, output, err := o.Executor.Execute(cmd, o.workdir(), true, true, testRunTimeoutSeconds)
	if exitCode == 124 || exitCode == 137 {
		return nil, output, ferrors.TestExecutionTimeout("running tests timed out (exit %d)", exitCode)
	}
	if err != nil {
		return nil, "", ferrors.ContainerOperation(err, "running tests")
	}
	matched := parsePytestOutput(output, selectors, opts.Expected)
	return matched, output, nil
}

func (o *Operator) runTestsBatched(baseCmd string, selectors []string, expected []harness.TestStatus) (map[string]struct{}, string, error) {
	allMatched := make(map[string]struct{})
	var allOutput []string

	for i := 0; i < len(selectors); i += batchSize {
		end := i + batchSize
		if end > len(selectors) {
			end = len(selectors)
		}
		batch := selectors[i:end]
		o.Logger.Printf("containerop: running test batch %d (%d selectors)", i/batchSize+1, len(batch))

		cmd := baseCmd + " " + strings.Join(batch, " ")
		exitCode, output, err := o.Executor.Execute(cmd, o.workdir(), true, true, testRunTimeoutSeconds)
		if exitCode == 124 || exitCode == 137 {
			return nil, "", ferrors.TestExecutionTimeout("test batch %d timed out (exit %d)", i/batchSize+1, exitCode)
		}
		if err != nil {
			return nil, "", ferrors.ContainerOperation(err, "running test batch %d", i/batchSize+1)
		}
		allOutput = append(allOutput, output)

		matched := parsePytestOutput(output, batch, expected)
		for m := range matched {
			allMatched[m] = struct{}{}
		}
	}

	return allMatched, strings.Join(allOutput, "\n"), nil
}

func parsePytestOutput(output string, selectors []string, expected []harness.TestStatus) map[string]struct{} {
	parser := testresult.Parse(output)

	isDirectoryRun := false
	for _, s := range selectors {
		if strings.HasSuffix(s, "/") {
			isDirectoryRun = true
			break
		}
	}

	if isDirectoryRun {
		return parser.FilterByStatus(expected)
	}

	results := parser.Query(selectors)
	matched := make(map[string]struct{})
	wanted := make(map[harness.TestStatus]struct{}, len(expected))
	for _, e := range expected {
		wanted[e] = struct{}{}
	}
	for test, status := range results {
		if _, ok := wanted[status]; ok {
			matched[test] = struct{}{}
		}
	}
	return matched
}

// SelectorsFromChanges converts a map of filename -> []CodeChange (the
// already-derived AST diff lists the data-collection collaborator
// sometimes hands the scheduler) into pytest node selectors, dropping
// deleted symbols.
func SelectorsFromChanges(changes map[string][]harness.CodeChange) []string {
	var selectors []string
	for file, cs := range changes {
		for _, c := range cs {
			if c.ChangeType == harness.ChangeDeleted {
				continue
			}
			switch c.CodeType {
			case harness.CodeFunction:
				selectors = append(selectors, fmt.Sprintf("%s::%s", file, c.Name))
			case harness.CodeMethod:
				className, methodName, ok := strings.Cut(c.Name, ".")
				if ok {
					selectors = append(selectors, fmt.Sprintf("%s::%s::%s", file, className, methodName))
				} else {
					selectors = append(selectors, fmt.Sprintf("%s::%s", file, c.Name))
				}
			}
		}
	}
	sort.Strings(selectors)
	return selectors
}

// SortedStrings returns the keys of a matched-set in sorted order, used
// when turning FilterByStatus/RunTests results into deterministic
// EvalResult fields.
func SortedStrings(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
