// Package scheduler implements the Evaluation Scheduler: the work-item
// state machine that drives a pool of workers through
// Queued → LockAcquired → ContainerReady → AgentInstalled → AgentRan →
// {AgentSucceeded|AgentFailed} → F2PTested → P2PTested → Recorded →
// Released for every (spec, agent) pair, with resumption, per-repo
// locking, and signal-safe cleanup.
package scheduler

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"sync"

	"github.com/featbench/featbench/internal/agentdriver"
	"github.com/featbench/featbench/internal/containerop"
	"github.com/featbench/featbench/internal/environment"
	"github.com/featbench/featbench/internal/execshell"
	"github.com/featbench/featbench/internal/harness"
	"github.com/featbench/featbench/internal/patch"
)

// Options configures a scheduling run.
type Options struct {
	Agents  []agentdriver.Config
	Specs   []*harness.Spec
	Workers int
	SwapDir string

	// ContainerWorkdirRoot is the sandbox path specs are checked out
	// under, e.g. "/workdir/swap".
	ContainerWorkdirRoot string

	// MaxSpecsPerRepo caps how many specs of any single repository enter
	// the work list, keeping one giant repo from dominating a run.
	// Zero or negative means no cap.
	MaxSpecsPerRepo int

	// TestOnly skips agent installation and execution: the test phases
	// run against whatever patch.diff an earlier run left in the working
	// tree. The environment manager refuses to build images in this mode.
	TestOnly bool

	ResultsPath string
	Logger      *log.Logger
}

// Scheduler owns the environment manager, the result store, and the
// active-container registry across one evaluation run.
type Scheduler struct {
	opts Options

	envManager *environment.Manager
	results    *ResultStore
	registry   *ContainerRegistry
	agentLocks *agentdriver.Manager

	logger *log.Logger
}

// New builds a Scheduler. envManager and agentLockMgr are constructed by
// the caller (cmd/featbench) since they carry host-level resources (a
// docker client, a swap directory) the scheduler itself has no opinion
// about.
func New(opts Options, envManager *environment.Manager, agentLockMgr *agentdriver.Manager) (*Scheduler, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	store, err := NewResultStore(opts.ResultsPath, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		opts:       opts,
		envManager: envManager,
		results:    store,
		registry:   NewContainerRegistry(),
		agentLocks: agentLockMgr,
		logger:     opts.Logger,
	}, nil
}

// workItem is one (spec, agent) evaluation to run.
type workItem struct {
	spec   *harness.Spec
	driver agentdriver.Driver
}

// Run evaluates every (spec, agent) pair not already present in the
// result store, fanning out across opts.Workers goroutines.
func (s *Scheduler) Run() error {
	drivers := make([]agentdriver.Driver, 0, len(s.opts.Agents))
	for _, cfg := range s.opts.Agents {
		d, err := agentdriver.New(cfg)
		if err != nil {
			return err
		}
		drivers = append(drivers, d)
	}

	var items []workItem
	skipped := 0
	for _, spec := range capPerRepo(s.opts.Specs, s.opts.MaxSpecsPerRepo) {
		for _, d := range drivers {
			if s.results.HasResult(d.Name(), spec.InstanceID) {
				skipped++
				continue
			}
			items = append(items, workItem{spec: spec, driver: d})
		}
	}
	if skipped > 0 {
		s.logger.Printf("scheduler: skipping %d already-evaluated (agent, instance) pairs", skipped)
	}
	s.logger.Printf("scheduler: %d evaluations to run across %d workers", len(items), s.opts.Workers)

	rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })

	agentdriver.RemoveAllLocks(s.opts.SwapDir, s.logger)

	work := make(chan workItem)
	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				if err := s.runOne(item); err != nil {
					s.logger.Printf("scheduler: error evaluating %s on %s: %v", item.driver.Name(), item.spec.InstanceID, err)
				}
			}
		}()
	}
	for _, item := range items {
		work <- item
	}
	close(work)
	wg.Wait()

	s.logger.Printf("scheduler: evaluation completed")
	return nil
}

func (s *Scheduler) runOne(item workItem) error {
	spec := item.spec
	driver := item.driver

	// The swap directory is one shared working tree per repo: the lock
	// must be held before anything touches it, container build included.
	release, err := s.agentLocks.LockRepo(spec.RepoName())
	if err != nil {
		return s.recordError(driver, spec, fmt.Sprintf("acquiring repo lock: %v", err))
	}
	defer release()

	handle, err := s.envManager.Materialize(spec)
	if err != nil {
		return s.recordError(driver, spec, fmt.Sprintf("materializing container: %v", err))
	}
	s.registry.Track(handle)

	defer func() {
		if !s.registry.CleanupInProgress() {
			if err := s.envManager.Cleanup(handle, true); err != nil {
				s.logger.Printf("scheduler: cleanup failed for %s: %v", handle.Name, err)
			} else {
				s.registry.Untrack(handle)
			}
		}
	}()

	exec := execshell.NewContainerExecutor(s.envManager.Client, handle.ID, nil, s.logger)
	op := containerop.New(spec.Repo, exec, s.opts.ContainerWorkdirRoot, "", s.logger)

	if err := op.Clone(); err != nil {
		return s.recordError(driver, spec, fmt.Sprintf("cloning %s: %v", spec.Repo, err))
	}

	result := s.evaluate(op, exec, driver, spec)
	if err := s.results.Add(result); err != nil {
		s.logger.Printf("scheduler: failed to persist result for %s/%s: %v", driver.Name(), spec.InstanceID, err)
	}
	return nil
}

// capPerRepo keeps at most max specs per repository, preserving dataset
// order within each repo.
func capPerRepo(specs []*harness.Spec, max int) []*harness.Spec {
	if max <= 0 {
		return specs
	}
	counts := make(map[string]int)
	capped := make([]*harness.Spec, 0, len(specs))
	for _, spec := range specs {
		if counts[spec.Repo] >= max {
			continue
		}
		counts[spec.Repo]++
		capped = append(capped, spec)
	}
	return capped
}

func (s *Scheduler) recordError(driver agentdriver.Driver, spec *harness.Spec, msg string) error {
	result := &harness.EvalResult{
		AgentName:  driver.Name(),
		InstanceID: spec.InstanceID,
		Success:    false,
		Error:      msg,
	}
	return s.results.Add(result)
}

func (s *Scheduler) evaluate(op *containerop.Operator, exec patch.Executor, driver agentdriver.Driver, spec *harness.Spec) *harness.EvalResult {
	repoWorkdir := fmt.Sprintf("%s/%s", s.opts.ContainerWorkdirRoot, spec.RepoName())

	var agentOutput string
	if s.opts.TestOnly {
		// Re-judge an earlier run: the working tree still holds the
		// patch.diff that run captured, so skip straight to the test
		// phases.
		if err := op.Checkout(spec.BaseCommit, []string{"patch.diff"}); err != nil {
			return &harness.EvalResult{AgentName: driver.Name(), InstanceID: spec.InstanceID, Error: err.Error()}
		}
	} else {
		if err := op.Checkout(spec.BaseCommit, nil); err != nil {
			return &harness.EvalResult{AgentName: driver.Name(), InstanceID: spec.InstanceID, Error: err.Error()}
		}

		if err := driver.Install(exec, s.opts.ContainerWorkdirRoot); err != nil {
			return &harness.EvalResult{AgentName: driver.Name(), InstanceID: spec.InstanceID, Error: err.Error()}
		}

		success, output, runErr := driver.Run(exec, repoWorkdir, spec.ProblemStatement, spec.InstanceID, spec.RepoName())
		agentOutput = output
		s.fixLogOwnership(exec)
		if runErr != nil {
			return &harness.EvalResult{AgentName: driver.Name(), InstanceID: spec.InstanceID, Error: runErr.Error()}
		}
		if !success {
			return &harness.EvalResult{AgentName: driver.Name(), InstanceID: spec.InstanceID, Success: false, Error: agentOutput}
		}
	}

	f2pTests := spec.FailToPassTests()
	p2pTests := spec.PassToPassTests()

	f2pPassed, err := s.runTestPhase(op, spec, f2pTests)
	if err != nil {
		return &harness.EvalResult{AgentName: driver.Name(), InstanceID: spec.InstanceID, Error: err.Error()}
	}

	p2pPassed, err := s.runTestPhase(op, spec, p2pTests)
	if err != nil {
		return &harness.EvalResult{AgentName: driver.Name(), InstanceID: spec.InstanceID, Error: err.Error()}
	}

	successF2P := harness.ContainsAll(f2pTests, setToSlice(f2pPassed))
	successP2P := harness.ContainsAll(p2pTests, setToSlice(p2pPassed))

	tokens := driver.ParseTokens(agentOutput)

	return &harness.EvalResult{
		AgentName:        driver.Name(),
		InstanceID:       spec.InstanceID,
		SuccessF2P:       successF2P,
		SuccessP2P:       successP2P,
		Success:          successF2P && successP2P,
		PassedF2PTests:   setToSlice(f2pPassed),
		PassedP2PTests:   setToSlice(p2pPassed),
		ExpectedF2PTests: f2pTests,
		ExpectedP2PTests: p2pTests,
		InputTokens:      tokens.InputTokens,
		OutputTokens:     tokens.OutputTokens,
		TotalTokens:      tokens.TotalTokens,
	}
}

// runTestPhase resets to the base commit (preserving patch.diff), applies
// the agent's captured patch plus the dataset's test patch, and runs the
// given selectors, returning the set of base test names that came back
// as expected (passing).
func (s *Scheduler) runTestPhase(op *containerop.Operator, spec *harness.Spec, selectors []string) (map[string]struct{}, error) {
	if len(selectors) == 0 {
		return map[string]struct{}{}, nil
	}

	if err := op.Checkout(spec.BaseCommit, []string{"patch.diff"}); err != nil {
		return nil, err
	}

	agentPatch, err := op.ReadFile("patch.diff")
	if err != nil {
		return nil, err
	}
	if _, err := op.ApplyPatches(agentPatch, false, true); err != nil {
		return nil, err
	}

	if spec.TestPatch != "" {
		if _, err := op.ApplyPatches(spec.TestPatch, true, true); err != nil {
			return nil, err
		}
	}

	matched, _, err := op.RunTests(containerop.RunTestsOptions{
		Selectors: selectors,
		Expected:  []harness.TestStatus{harness.TestPassed},
	})
	return matched, err
}

// fixLogOwnership chowns /logs back to the host UID/GID after an agent
// run, so logs written inside the container (by root, typically) stay
// readable on the bind-mounted host side. Best effort.
func (s *Scheduler) fixLogOwnership(exec patch.Executor) {
	cmd := fmt.Sprintf("chown -R %d:%d /logs", os.Getuid(), os.Getgid())
	if exitCode, output, err := exec.Execute(cmd, "/", false, false, 60); err != nil || exitCode != 0 {
		s.logger.Printf("scheduler: failed to fix /logs ownership: %v %s", err, output)
	}
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Results returns every result recorded so far.
func (s *Scheduler) Results() []*harness.EvalResult {
	return s.results.All()
}

// Registry exposes the active-container registry for wiring a signal
// handler in cmd/featbench.
func (s *Scheduler) Registry() *ContainerRegistry {
	return s.registry
}
