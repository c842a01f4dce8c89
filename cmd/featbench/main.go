package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/featbench/featbench/internal/agentdriver"
	"github.com/featbench/featbench/internal/config"
	"github.com/featbench/featbench/internal/dataset"
	"github.com/featbench/featbench/internal/environment"
	"github.com/featbench/featbench/internal/harness"
	"github.com/featbench/featbench/internal/scheduler"

	"github.com/urfave/cli/v2"
)

var cfg *config.Config

func main() {
	app := &cli.App{
		Name:    "featbench",
		Version: "v0.1.0",
		Usage:   "Feature-implementation benchmark harness",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				EnvVars: []string{"FEATBENCH_CONFIG"},
			},
		},
		Before: func(c *cli.Context) error {
			loaded, err := loadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg = loaded
			return nil
		},
		Commands: []*cli.Command{
			evaluateCommand,
			datasetCommand,
			locksCommand,
			imagesCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromDefaultLocations()
}

// newLogger opens logs/<prefix>_<timestamp>_<model>.log and fans log
// output out to both the file and stderr.
func newLogger(model string) (*log.Logger, func(), error) {
	dir := "logs"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	timestamp := time.Now().UTC().Format("20060102-150405")
	name := fmt.Sprintf("%s_%s_%s.log", cfg.Harness.LogPrefix, timestamp, sanitizeForPath(model))
	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, nil, fmt.Errorf("creating log file: %w", err)
	}
	logger := log.New(io.MultiWriter(os.Stderr, file), "", log.LstdFlags)
	return logger, func() { file.Close() }, nil
}

func sanitizeForPath(s string) string {
	if s == "" {
		return "run"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}

var evaluateCommand = &cli.Command{
	Name:  "evaluate",
	Usage: "Run agents against dataset specs and record pass/fail verdicts",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:     "agents",
			Usage:    "Agent names to evaluate, e.g. claude-code, gemini-cli",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "dataset",
			Usage:    "Path to a local dataset JSON file (ignored when --dataset-type is set)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "dataset-type",
			Usage: "full|lite|verified, fetches from Hugging Face instead of reading --dataset as a path",
		},
		&cli.BoolFlag{
			Name:  "test-only",
			Usage: "Skip installing/running agents; only re-run the test phases against existing patches",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Number of concurrent evaluation workers",
		},
		&cli.StringFlag{
			Name:  "results-dir",
			Usage: "Directory to write the results JSON file into",
			Value: "results",
		},
	},
	Action: func(c *cli.Context) error {
		specs, err := loadSpecs(c.String("dataset"), c.String("dataset-type"))
		if err != nil {
			return err
		}

		agentNames := c.StringSlice("agents")
		if len(agentNames) == 0 {
			return fmt.Errorf("at least one --agents value is required")
		}
		agentConfigs := make([]agentdriver.Config, 0, len(agentNames))
		for _, name := range agentNames {
			agentConfigs = append(agentConfigs, resolveAgentConfig(name))
		}

		workers := c.Int("workers")
		if workers <= 0 {
			workers = cfg.Harness.Workers
		}

		logger, closeLog, err := newLogger(strings.Join(agentNames, "+"))
		if err != nil {
			return err
		}
		defer closeLog()

		swapDir := cfg.Harness.RootDir
		envManager, err := environment.NewManager(swapDir, logger)
		if err != nil {
			return fmt.Errorf("creating environment manager: %w", err)
		}
		envManager.ProxyHTTP = cfg.Docker.ProxyHTTP
		envManager.ProxyHTTPS = cfg.Docker.ProxyHTTPS
		envManager.TestOnly = c.Bool("test-only")
		if logsDir, err := filepath.Abs("logs"); err == nil {
			envManager.LogsDir = logsDir
		}

		// The scheduler only needs the locking half of agentdriver.Manager
		// (LockRepo/RemoveAllLocks); it builds its own driver per agent
		// config, so this manager is constructed without a Driver.
		agentLockMgr := &agentdriver.Manager{SwapDir: swapDir, Logger: logger}

		resultsDir := c.String("results-dir")
		if err := os.MkdirAll(resultsDir, 0o755); err != nil {
			return fmt.Errorf("creating results directory: %w", err)
		}
		resultsPath := filepath.Join(resultsDir, dataset.ResultFileName(
			cfg.Harness.LogPrefix,
			time.Now().UTC().Format("20060102-150405"),
			strings.Join(agentNames, "+"),
		))

		sched, err := scheduler.New(scheduler.Options{
			Agents:               agentConfigs,
			Specs:                specs,
			Workers:              workers,
			SwapDir:              swapDir,
			ContainerWorkdirRoot: "/workdir/swap",
			MaxSpecsPerRepo:      cfg.Harness.MaxSpecsPerRepo,
			TestOnly:             c.Bool("test-only"),
			ResultsPath:          resultsPath,
			Logger:               logger,
		}, envManager, agentLockMgr)
		if err != nil {
			return fmt.Errorf("creating scheduler: %w", err)
		}

		scheduler.InstallSignalHandler(sched.Registry(), envManager, logger)

		if err := sched.Run(); err != nil {
			return fmt.Errorf("running evaluation: %w", err)
		}

		results := sched.Results()
		passed := 0
		for _, r := range results {
			if r.Success {
				passed++
			}
		}
		fmt.Printf("%d/%d instances passed (results written to %s)\n", passed, len(results), resultsPath)
		return nil
	},
}

// loadSpecs reads specs either from a local dataset JSON file, or (when
// datasetType is set) from the Hugging Face parquet shard cached under
// cfg.Dataset.CacheDir, fetching it first if it isn't cached yet.
func loadSpecs(source, datasetType string) ([]*harness.Spec, error) {
	if datasetType == "" {
		return dataset.Load(source)
	}

	fetcher := dataset.NewFetcher(cfg.Dataset.CacheDir, log.Default())
	return fetcher.Fetch(dataset.FetchOptions{
		Dataset: parseDatasetType(datasetType),
		Progress: func(msg string) {
			fmt.Println(msg)
		},
	})
}

func resolveAgentConfig(name string) agentdriver.Config {
	agentCfg := cfg.Agents[name]
	return agentdriver.Config{
		Name:     name,
		Model:    agentCfg.Model,
		Provider: agentCfg.Provider,
		APIKey:   agentCfg.APIKey,
		BaseURL:  agentCfg.BaseURL,
		Branch:   agentCfg.Branch,
	}
}

var datasetCommand = &cli.Command{
	Name:  "dataset",
	Usage: "Fetch and inspect SWE-bench-style datasets",
	Subcommands: []*cli.Command{
		datasetFetchCommand,
		datasetListCommand,
	},
}

var datasetFetchCommand = &cli.Command{
	Name:  "fetch",
	Usage: "Download and cache a Hugging Face dataset shard",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "type",
			Usage: "full|lite|verified",
			Value: "lite",
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Re-download even if a cached copy exists",
		},
	},
	Action: func(c *cli.Context) error {
		fetcher := dataset.NewFetcher(cfg.Dataset.CacheDir, log.Default())
		_, err := fetcher.Fetch(dataset.FetchOptions{
			Dataset:       parseDatasetType(c.String("type")),
			ForceDownload: c.Bool("force"),
			Progress: func(msg string) {
				fmt.Println(msg)
			},
		})
		if err != nil {
			return fmt.Errorf("fetching dataset: %w", err)
		}
		fmt.Println("dataset fetch complete")
		return nil
	},
}

var datasetListCommand = &cli.Command{
	Name:  "list",
	Usage: "List cached instance IDs for a dataset type",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "type",
			Usage: "full|lite|verified",
			Value: "lite",
		},
	},
	Action: func(c *cli.Context) error {
		fetcher := dataset.NewFetcher(cfg.Dataset.CacheDir, log.Default())
		ids, err := fetcher.List(parseDatasetType(c.String("type")))
		if err != nil {
			return fmt.Errorf("listing dataset: %w\nfetch it first with: featbench dataset fetch", err)
		}
		fmt.Printf("%d cached instances:\n\n", len(ids))
		for _, id := range ids {
			fmt.Printf("  - %s\n", id)
		}
		return nil
	},
}

func parseDatasetType(s string) dataset.Type {
	switch s {
	case "full":
		return dataset.TypeFull
	case "verified":
		return dataset.TypeVerified
	default:
		return dataset.TypeLite
	}
}

var locksCommand = &cli.Command{
	Name:  "locks",
	Usage: "Inspect or clear repo-level locks",
	Subcommands: []*cli.Command{
		{
			Name:  "clear",
			Usage: "Remove stale swap/*.repo.lock files",
			Action: func(c *cli.Context) error {
				agentdriver.RemoveAllLocks(cfg.Harness.RootDir, log.Default())
				fmt.Println("locks cleared")
				return nil
			},
		},
	},
}

var imagesCommand = &cli.Command{
	Name:  "images",
	Usage: "Inspect cached evaluation images",
	Subcommands: []*cli.Command{
		{
			Name:  "ls",
			Usage: "List cached repo#number -> image ID entries",
			Action: func(c *cli.Context) error {
				cacheMgr := environment.NewCacheManager(cfg.Harness.RootDir)
				index, err := cacheMgr.List()
				if err != nil {
					return fmt.Errorf("listing image cache: %w", err)
				}
				fmt.Printf("%d cached images:\n\n", len(index))
				for key, imageID := range index {
					fmt.Printf("  %-40s %s\n", key, imageID)
				}
				return nil
			},
		},
	},
}
