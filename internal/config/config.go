// Package config loads the harness's TOML configuration: a base settings
// file, a per-agent file, and an optional secrets file, each overriding
// the last, with a final environment-variable override pass.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds the complete harness configuration.
type Config struct {
	Harness HarnessConfig          `toml:"harness"`
	Agents  map[string]AgentConfig `toml:"agents,omitempty"`
	Dataset DatasetConfig          `toml:"dataset,omitempty"`
	Docker  DockerConfig           `toml:"docker,omitempty"`
}

// HarnessConfig holds top-level scheduling options.
type HarnessConfig struct {
	RootDir         string `toml:"root_dir"`
	Workers         int    `toml:"workers"`
	LogPrefix       string `toml:"log_prefix"`
	MaxSpecsPerRepo int    `toml:"max_specs_per_repo"`
}

// AgentConfig holds one [agents.<name>] section's credentials and model
// selection. Name is filled in from the TOML table key, not a field.
type AgentConfig struct {
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
	Model    string `toml:"model"`
	Provider string `toml:"provider"`
	Branch   string `toml:"branch,omitempty"`
}

// DatasetConfig holds default dataset-fetch options.
type DatasetConfig struct {
	DefaultType string `toml:"default_type"`
	CacheDir    string `toml:"cache_dir"`
}

// DockerConfig holds build-time proxy and networking defaults. The proxy
// values are passed to every image build; NetworkMode is not read, and
// builds always use host networking.
type DockerConfig struct {
	ProxyHTTP   string `toml:"proxy_http,omitempty"`
	ProxyHTTPS  string `toml:"proxy_https,omitempty"`
	NetworkMode string `toml:"network_mode,omitempty"`
}

const (
	// DefaultWorkers is used when [harness].workers is unset or zero.
	DefaultWorkers = 4

	// DefaultMaxSpecsPerRepo caps how many specs of one repository enter
	// a run when [harness].max_specs_per_repo is unset.
	DefaultMaxSpecsPerRepo = 100

	// EnvPrefix is the prefix recognized by the environment-variable
	// override pass.
	EnvPrefix = "FEATBENCH_"
)

// Default returns a Config with the harness's baked-in defaults, the
// starting point for every layered load.
func Default() *Config {
	return &Config{
		Harness: HarnessConfig{
			RootDir:         "swap",
			Workers:         DefaultWorkers,
			LogPrefix:       "featbench",
			MaxSpecsPerRepo: DefaultMaxSpecsPerRepo,
		},
		Agents: map[string]AgentConfig{},
		Dataset: DatasetConfig{
			DefaultType: "lite",
			CacheDir:    "dataset_cache",
		},
	}
}

// mergeFile reads and merges a single TOML file into cfg in place. A
// missing file is not an error; callers layer several optional files via
// LoadLayered.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	prevAgents := cfg.Agents
	cfg.Agents = map[string]AgentConfig{}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	// toml.Decode replaces a map entry wholesale; overlay this file's
	// [agents.<name>] fields onto the earlier entry field by field.
	for name, merged := range prevAgents {
		layer := cfg.Agents[name]
		for _, f := range [][2]*string{{&merged.APIKey, &layer.APIKey}, {&merged.BaseURL, &layer.BaseURL}, {&merged.Model, &layer.Model}, {&merged.Provider, &layer.Provider}, {&merged.Branch, &layer.Branch}} {
			if *f[1] != "" {
				*f[0] = *f[1]
			}
		}
		cfg.Agents[name] = merged
	}
	return nil
}

// LoadLayered merges settings.toml, agents.toml, and .secrets.toml (in
// that order, each taking precedence over the one before) from dir, then
// applies FEATBENCH_* environment overrides. Any of the three files may
// be absent.
func LoadLayered(dir string) (*Config, error) {
	cfg := Default()
	for _, name := range []string{"settings.toml", "agents.toml", ".secrets.toml"} {
		if err := mergeFile(cfg, filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Load reads a single TOML file (e.g. a path given on the command line)
// on top of the baked-in defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromDefaultLocations searches, in order, the FEATBENCH_CONFIG
// environment variable, ./featbench.toml, and ~/.featbench/config.toml,
// falling back to pure defaults plus environment overrides if none
// exist.
func LoadFromDefaultLocations() (*Config, error) {
	if envPath := os.Getenv(EnvPrefix + "CONFIG"); envPath != "" {
		return Load(envPath)
	}
	if _, err := os.Stat("featbench.toml"); err == nil {
		return Load("featbench.toml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".featbench", "config.toml")
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
	}
	cfg := Default()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides layers environment variables on top of an
// already-merged config. Only a fixed, known set of keys is recognized,
// matching the narrow scope of the fields this harness actually needs
// to override at deploy time (credentials and worker count, mostly).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "ROOT_DIR"); v != "" {
		cfg.Harness.RootDir = v
	}
	if v := os.Getenv(EnvPrefix + "WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Harness.Workers = n
		}
	}
	if v := os.Getenv(EnvPrefix + "LOG_PREFIX"); v != "" {
		cfg.Harness.LogPrefix = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_SPECS_PER_REPO"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Harness.MaxSpecsPerRepo = n
		}
	}
	if v := os.Getenv(EnvPrefix + "DATASET_CACHE_DIR"); v != "" {
		cfg.Dataset.CacheDir = v
	}
	if v := os.Getenv(EnvPrefix + "DATASET_TYPE"); v != "" {
		cfg.Dataset.DefaultType = v
	}
	if v := os.Getenv(EnvPrefix + "DOCKER_PROXY_HTTP"); v != "" {
		cfg.Docker.ProxyHTTP = v
	}
	if v := os.Getenv(EnvPrefix + "DOCKER_PROXY_HTTPS"); v != "" {
		cfg.Docker.ProxyHTTPS = v
	}

	for name := range cfg.Agents {
		applyAgentEnvOverrides(cfg, name)
	}
}

// applyAgentEnvOverrides overrides a single [agents.<name>] section from
// FEATBENCH_AGENTS_<UPPER_NAME>_* variables, e.g.
// FEATBENCH_AGENTS_CLAUDE_CODE_API_KEY.
func applyAgentEnvOverrides(cfg *Config, name string) {
	agent := cfg.Agents[name]
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	prefix := EnvPrefix + "AGENTS_" + key + "_"

	if v := os.Getenv(prefix + "API_KEY"); v != "" {
		agent.APIKey = v
	}
	if v := os.Getenv(prefix + "BASE_URL"); v != "" {
		agent.BaseURL = v
	}
	if v := os.Getenv(prefix + "MODEL"); v != "" {
		agent.Model = v
	}
	if v := os.Getenv(prefix + "PROVIDER"); v != "" {
		agent.Provider = v
	}
	cfg.Agents[name] = agent
}

// Save writes cfg out as TOML, creating parent directories as needed.
// Neither the engine nor the CLI calls it.
func Save(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
