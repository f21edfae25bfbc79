// Package workspace locates the stagehand workspace root and lays out the
// durable state directory beneath it. The root is the nearest ancestor
// directory containing stagehand.yml.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	// ConfigFileName marks the workspace root.
	ConfigFileName = "stagehand.yml"

	// StateDirName holds all durable engine state under the root.
	StateDirName = ".stagehand"

	// MaxInstanceNameLength keeps instance names DNS-compatible so they can
	// namespace shared backends such as redis.
	MaxInstanceNameLength = 63
)

// instanceNamePattern allows lowercase alphanumerics with interior hyphens.
var instanceNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateInstanceName checks an instance name against DNS naming rules.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxInstanceNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxInstanceNameLength)
	}
	if !instanceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// Workspace is a discovered stagehand workspace.
type Workspace struct {
	// Root is the directory containing stagehand.yml.
	Root string
}

// Discover walks up from startDir looking for stagehand.yml.
func Discover(startDir string) (*Workspace, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve start directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return &Workspace{Root: dir}, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("no %s found in %s or any parent directory (run 'stagehand init' first)", ConfigFileName, startDir)
		}
		dir = parent
	}
}

// ConfigPath returns the path to stagehand.yml.
func (w *Workspace) ConfigPath() string {
	return filepath.Join(w.Root, ConfigFileName)
}

// StateDir returns the root of durable engine state.
func (w *Workspace) StateDir() string {
	return filepath.Join(w.Root, StateDirName)
}

// LockDir returns the directory used by the file lock backend.
func (w *Workspace) LockDir() string {
	return filepath.Join(w.StateDir(), "locks")
}

// ExecutionDir returns the directory holding persisted execution records.
func (w *Workspace) ExecutionDir() string {
	return filepath.Join(w.StateDir(), "executions")
}

// PhaseDir returns the directory holding per-story phase state.
func (w *Workspace) PhaseDir() string {
	return filepath.Join(w.StateDir(), "phases")
}

// BundleDir returns the directory holding grounding bundles.
func (w *Workspace) BundleDir() string {
	return filepath.Join(w.StateDir(), "bundles")
}

// RollbackDir returns the directory holding rollback points.
func (w *Workspace) RollbackDir() string {
	return filepath.Join(w.StateDir(), "rollbacks")
}

// DriftDir returns the directory holding the drift baseline.
func (w *Workspace) DriftDir() string {
	return filepath.Join(w.StateDir(), "drift")
}

// EnsureStateDirs creates the full state directory tree.
func (w *Workspace) EnsureStateDirs() error {
	dirs := []string{
		w.StateDir(),
		w.LockDir(),
		w.ExecutionDir(),
		w.PhaseDir(),
		w.BundleDir(),
		w.RollbackDir(),
		w.DriftDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}
	return nil
}
