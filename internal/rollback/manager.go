// Package rollback captures named, restorable snapshots of file and config
// state (rollback points) and restores them verbatim. Restore is
// all-or-nothing per rollback point: any restore failure aborts the
// remaining restores and the caller receives a per-artifact
// restored/not-restored report, never a silent partial success.
package rollback

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"stagehand/internal/revision"
)

// Point is a named, restorable snapshot of file and config state.
type Point struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	CreatedAt time.Time         `json:"created_at"`
	Files     map[string][]byte `json:"files"`              // relative path -> content bytes (verbatim)
	Config    string            `json:"config,omitempty"`   // stagehand.yml content at capture time
	Revision  string            `json:"revision,omitempty"` // optional VCS marker
}

// ArtifactStatus records the restore outcome for one artifact.
type ArtifactStatus struct {
	Path     string `json:"path"`
	Restored bool   `json:"restored"`
	Reason   string `json:"reason,omitempty"`
}

// Error reports a failed rollback with itemized per-artifact status.
type Error struct {
	PointName string
	Artifacts []ArtifactStatus
}

func (e *Error) Error() string {
	restored := 0
	for _, a := range e.Artifacts {
		if a.Restored {
			restored++
		}
	}
	return fmt.Sprintf("rollback to '%s' failed: %d/%d artifacts restored",
		e.PointName, restored, len(e.Artifacts))
}

// Result summarizes a completed rollback, including any hook failures.
// Hook failures are recorded here but never abort the rollback itself.
type Result struct {
	PointName    string           `json:"point_name"`
	Artifacts    []ArtifactStatus `json:"artifacts"`
	RevisionSet  bool             `json:"revision_set"`
	HookFailures []string         `json:"hook_failures,omitempty"`
}

// Hook runs before or after a restore. Pre-hooks typically stop watchers or
// flush caches; post-hooks reload them.
type Hook struct {
	Name string
	Run  func(point *Point) error
}

// Manager creates and restores rollback points.
type Manager struct {
	root       string // workspace root; captured paths are relative to it
	dir        string // .stagehand/rollbacks
	configPath string
	tracked    []string
	checker    *revision.Checker
	preHooks   []Hook
	postHooks  []Hook
	resetRev   bool
}

// NewManager creates a rollback manager. tracked lists the root-relative
// files and directories captured in every rollback point.
func NewManager(root, dir, configPath string, tracked []string, resetRevision bool) *Manager {
	return &Manager{
		root:       root,
		dir:        dir,
		configPath: configPath,
		tracked:    tracked,
		checker:    revision.NewChecker(root),
		resetRev:   resetRevision,
	}
}

// AddPreHook registers a hook to run before file restoration, in
// registration order.
func (m *Manager) AddPreHook(h Hook) { m.preHooks = append(m.preHooks, h) }

// AddPostHook registers a hook to run after a successful restore, in
// registration order.
func (m *Manager) AddPostHook(h Hook) { m.postHooks = append(m.postHooks, h) }

// Create captures the current file and config state as a new rollback point.
// An empty name gets a timestamp-derived one.
func (m *Manager) Create(name string) (*Point, error) {
	now := time.Now().UTC()
	if name == "" {
		name = "rollback-" + now.Format("20060102-150405")
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, err := os.Stat(m.pointPath(name)); err == nil {
		return nil, fmt.Errorf("rollback point '%s' already exists", name)
	}

	point := &Point{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: now,
		Files:     make(map[string][]byte),
	}

	for _, entry := range m.tracked {
		if err := m.captureEntry(entry, point); err != nil {
			return nil, err
		}
	}

	if data, err := os.ReadFile(m.configPath); err == nil {
		point.Config = string(data)
	}

	rev, err := m.checker.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to capture revision marker: %w", err)
	}
	point.Revision = rev

	if err := m.save(point); err != nil {
		return nil, err
	}

	m.logEvent("rollback_point_created", map[string]interface{}{
		"name":       name,
		"file_count": len(point.Files),
		"revision":   point.Revision,
	})
	return point, nil
}

// Execute restores the named rollback point: ordered pre-hooks, file
// contents verbatim, config, optional revision reset, ordered post-hooks.
// Any restore failure aborts with *Error carrying per-artifact status.
func (m *Manager) Execute(name string) (*Result, error) {
	point, err := m.Load(name)
	if err != nil {
		return nil, err
	}

	result := &Result{PointName: name}

	for _, hook := range m.preHooks {
		if err := hook.Run(point); err != nil {
			failure := fmt.Sprintf("pre-hook '%s': %v", hook.Name, err)
			result.HookFailures = append(result.HookFailures, failure)
			m.logEvent("rollback_hook_failed", map[string]interface{}{
				"point": name, "hook": hook.Name, "stage": "pre", "error": err.Error(),
			})
		}
	}

	// Restore files in sorted order so failures are reproducible.
	paths := make([]string, 0, len(point.Files))
	for path := range point.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for i, path := range paths {
		target := filepath.Join(m.root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err == nil {
			err = os.WriteFile(target, point.Files[path], 0644)
			if err == nil {
				result.Artifacts = append(result.Artifacts, ArtifactStatus{Path: path, Restored: true})
				continue
			}
			result.Artifacts = append(result.Artifacts, ArtifactStatus{Path: path, Restored: false, Reason: err.Error()})
		} else {
			result.Artifacts = append(result.Artifacts, ArtifactStatus{Path: path, Restored: false, Reason: err.Error()})
		}

		// Abort: mark the remaining artifacts not-restored and fail loudly.
		for _, remaining := range paths[i+1:] {
			result.Artifacts = append(result.Artifacts, ArtifactStatus{
				Path: remaining, Restored: false, Reason: "skipped: restore aborted",
			})
		}
		return result, &Error{PointName: name, Artifacts: result.Artifacts}
	}

	if point.Config != "" {
		if err := os.WriteFile(m.configPath, []byte(point.Config), 0644); err != nil {
			result.Artifacts = append(result.Artifacts, ArtifactStatus{
				Path: m.configPath, Restored: false, Reason: err.Error(),
			})
			return result, &Error{PointName: name, Artifacts: result.Artifacts}
		}
		result.Artifacts = append(result.Artifacts, ArtifactStatus{Path: m.configPath, Restored: true})
	}

	if m.resetRev && point.Revision != "" {
		if err := m.checker.Reset(point.Revision); err != nil {
			result.HookFailures = append(result.HookFailures, fmt.Sprintf("revision reset: %v", err))
		} else {
			result.RevisionSet = true
		}
	}

	for _, hook := range m.postHooks {
		if err := hook.Run(point); err != nil {
			failure := fmt.Sprintf("post-hook '%s': %v", hook.Name, err)
			result.HookFailures = append(result.HookFailures, failure)
			m.logEvent("rollback_hook_failed", map[string]interface{}{
				"point": name, "hook": hook.Name, "stage": "post", "error": err.Error(),
			})
		}
	}

	m.logEvent("rollback_executed", map[string]interface{}{
		"point":         name,
		"files":         len(paths),
		"hook_failures": len(result.HookFailures),
	})
	return result, nil
}

// Load reads a named rollback point.
func (m *Manager) Load(name string) (*Point, error) {
	data, err := os.ReadFile(m.pointPath(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("rollback point '%s' does not exist", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rollback point '%s': %w", name, err)
	}

	var point Point
	if err := json.Unmarshal(data, &point); err != nil {
		return nil, fmt.Errorf("corrupt rollback point '%s': %w", name, err)
	}
	return &point, nil
}

// List returns every rollback point, newest first.
func (m *Manager) List() ([]*Point, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rollback directory: %w", err)
	}

	var points []*Point
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		point, err := m.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}

	sort.Slice(points, func(i, j int) bool { return points[i].CreatedAt.After(points[j].CreatedAt) })
	return points, nil
}

// Prune deletes the named rollback point.
func (m *Manager) Prune(name string) error {
	if err := os.Remove(m.pointPath(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("rollback point '%s' does not exist", name)
		}
		return fmt.Errorf("failed to remove rollback point '%s': %w", name, err)
	}
	return nil
}

func (m *Manager) captureEntry(entry string, point *Point) error {
	abs := filepath.Join(m.root, entry)
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat tracked path '%s': %w", entry, err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("failed to capture '%s': %w", entry, err)
		}
		point.Files[filepath.ToSlash(entry)] = data
		return nil
	}

	return filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".stagehand" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to capture '%s': %w", rel, err)
		}
		point.Files[filepath.ToSlash(rel)] = data
		return nil
	})
}

func (m *Manager) save(point *Point) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("failed to create rollback directory: %w", err)
	}

	data, err := json.MarshalIndent(point, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize rollback point: %w", err)
	}
	if err := os.WriteFile(m.pointPath(point.Name), data, 0644); err != nil {
		return fmt.Errorf("failed to write rollback point: %w", err)
	}
	return nil
}

func (m *Manager) pointPath(name string) string {
	return filepath.Join(m.dir, name+".json")
}

func validateName(name string) error {
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("invalid rollback point name '%s'", name)
	}
	return nil
}

// logEvent logs a structured event in JSON format.
func (m *Manager) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "rollback"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Rollback] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(jsonData))
}
