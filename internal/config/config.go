// Package config loads and validates stagehand.yml, the per-workspace
// configuration file. Defaults are applied during validation so callers
// always see a fully populated config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"stagehand/internal/drift"
)

// StagehandConfig represents the top-level stagehand.yml configuration.
type StagehandConfig struct {
	Version  string          `yaml:"version"`
	Instance string          `yaml:"instance,omitempty"` // namespace for shared backends
	Engine   *EngineConfig   `yaml:"engine,omitempty"`
	Locks    *LockConfig     `yaml:"locks,omitempty"`
	Drift    *DriftConfig    `yaml:"drift,omitempty"`
	Gates    *GateConfig     `yaml:"gates,omitempty"`
	Rollback *RollbackConfig `yaml:"rollback,omitempty"`
}

// EngineConfig tunes the task execution engine.
type EngineConfig struct {
	// DecomposeThreshold is the action count above which a step is split
	// into sequential sub-tasks. 0 applies the default.
	DecomposeThreshold int `yaml:"decompose_threshold,omitempty"`
}

// LockConfig selects and tunes the lock backend.
type LockConfig struct {
	// Backend is "file" (default) or "redis".
	Backend string `yaml:"backend,omitempty"`
	// TimeoutSeconds is how long a lock may be held before it becomes
	// reclaimable. 0 applies the default (1800s).
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
	// Redis connection, required when Backend is "redis".
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig holds connection details for the redis lock backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// DriftConfig controls snapshot scope and severity thresholds.
type DriftConfig struct {
	Tracked    []string          `yaml:"tracked,omitempty"`   // root-relative files/dirs
	Manifests  []string          `yaml:"manifests,omitempty"` // dependency manifests
	Thresholds *drift.Thresholds `yaml:"thresholds,omitempty"`
}

// GateConfig wires the gate controller's collaborators.
type GateConfig struct {
	ContractDir string   `yaml:"contract_dir,omitempty"` // default "contracts"
	TestCommand []string `yaml:"test_command,omitempty"` // default ["go", "test", "./..."]
}

// RollbackConfig controls rollback point capture and hooks.
type RollbackConfig struct {
	Tracked       []string `yaml:"tracked,omitempty"` // defaults to drift.tracked
	ResetRevision bool     `yaml:"reset_revision,omitempty"`
	PreHooks      []string `yaml:"pre_hooks,omitempty"`  // shell commands, run in order
	PostHooks     []string `yaml:"post_hooks,omitempty"` // shell commands, run in order
}

// Timeout returns the lock timeout as a duration.
func (l *LockConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// Validate performs strict validation and applies defaults.
func (c *StagehandConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Engine == nil {
		c.Engine = &EngineConfig{}
	}
	if c.Engine.DecomposeThreshold == 0 {
		c.Engine.DecomposeThreshold = 5
	}
	if c.Engine.DecomposeThreshold < 2 {
		return fmt.Errorf("engine.decompose_threshold must be >= 2, got %d", c.Engine.DecomposeThreshold)
	}

	if c.Locks == nil {
		c.Locks = &LockConfig{}
	}
	if c.Locks.Backend == "" {
		c.Locks.Backend = "file"
	}
	if c.Locks.Backend != "file" && c.Locks.Backend != "redis" {
		return fmt.Errorf("locks.backend must be 'file' or 'redis', got '%s'", c.Locks.Backend)
	}
	if c.Locks.Backend == "redis" && (c.Locks.Redis == nil || c.Locks.Redis.Addr == "") {
		return fmt.Errorf("locks.backend is 'redis' but locks.redis.addr is not set")
	}
	if c.Locks.TimeoutSeconds == 0 {
		c.Locks.TimeoutSeconds = 1800
	}
	if c.Locks.TimeoutSeconds < 0 {
		return fmt.Errorf("locks.timeout_seconds must be >= 0, got %d", c.Locks.TimeoutSeconds)
	}

	if c.Drift == nil {
		c.Drift = &DriftConfig{}
	}
	if len(c.Drift.Tracked) == 0 {
		c.Drift.Tracked = []string{"src"}
	}
	if len(c.Drift.Manifests) == 0 {
		c.Drift.Manifests = []string{"go.mod", "package.json", "requirements.txt"}
	}
	if c.Drift.Thresholds == nil {
		defaults := drift.DefaultThresholds()
		c.Drift.Thresholds = &defaults
	}
	if err := c.Drift.Thresholds.Validate(); err != nil {
		return fmt.Errorf("invalid drift thresholds: %w", err)
	}

	if c.Gates == nil {
		c.Gates = &GateConfig{}
	}
	if c.Gates.ContractDir == "" {
		c.Gates.ContractDir = "contracts"
	}
	if len(c.Gates.TestCommand) == 0 {
		c.Gates.TestCommand = []string{"go", "test", "./..."}
	}

	if c.Rollback == nil {
		c.Rollback = &RollbackConfig{}
	}
	if len(c.Rollback.Tracked) == 0 {
		c.Rollback.Tracked = c.Drift.Tracked
	}

	return nil
}

// Load reads and validates stagehand.yml from the specified path.
func Load(path string) (*StagehandConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config StagehandConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
