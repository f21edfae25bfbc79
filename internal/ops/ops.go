// Package ops registers the built-in operations that task documents can
// reference. Each operation is a thin adapter from the argument map the
// engine resolves to one of stagehand's components.
package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"stagehand/internal/bundle"
	"stagehand/internal/drift"
	"stagehand/internal/lock"
	"stagehand/internal/registry"
	"stagehand/internal/rollback"
)

// Deps carries the components the built-in operations act on. Any nil
// component leaves its operations unregistered, so a minimal engine (say,
// file operations only) stays constructible.
type Deps struct {
	Root      string
	Holder    string
	Locks     *lock.Manager
	Bundles   *bundle.Store
	Rollbacks *rollback.Manager
	Drift     *drift.Detector
}

// Register adds the built-in operations to the registry.
func Register(reg *registry.Registry, deps Deps) error {
	if deps.Root == "" {
		return fmt.Errorf("ops: root directory is required")
	}

	type op struct {
		name   string
		fn     registry.Operation
		params []string
	}

	table := []op{
		{"file.write", deps.fileWrite, []string{"path", "content"}},
		{"file.append", deps.fileAppend, []string{"path", "content"}},
		{"file.copy", deps.fileCopy, []string{"src", "dest"}},
		{"file.mkdir", deps.fileMkdir, []string{"path"}},
		{"shell.run", deps.shellRun, []string{"command", "dir"}},
	}
	if deps.Locks != nil {
		table = append(table,
			op{"lock.acquire", deps.lockAcquire, []string{"resource"}},
			op{"lock.release", deps.lockRelease, []string{"resource"}},
		)
	}
	if deps.Bundles != nil {
		table = append(table, op{"bundle.create", deps.bundleCreate, []string{"story", "artifacts", "files", "tests"}})
	}
	if deps.Rollbacks != nil {
		table = append(table, op{"rollback.create", deps.rollbackCreate, []string{"name"}})
	}
	if deps.Drift != nil {
		table = append(table, op{"drift.check", deps.driftCheck, nil})
	}

	for _, o := range table {
		if err := reg.Register(o.name, o.fn, o.params); err != nil {
			return err
		}
	}
	return nil
}

func (d Deps) fileWrite(ctx context.Context, args map[string]any) (any, error) {
	path, err := d.workspacePath(args, "path")
	if err != nil {
		return nil, fmt.Errorf("file.write: %w", err)
	}
	content, _ := args["content"].(string)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("file.write: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("file.write: %w", err)
	}
	return nil, nil
}

func (d Deps) fileAppend(ctx context.Context, args map[string]any) (any, error) {
	path, err := d.workspacePath(args, "path")
	if err != nil {
		return nil, fmt.Errorf("file.append: %w", err)
	}
	content, _ := args["content"].(string)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("file.append: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return nil, fmt.Errorf("file.append: %w", err)
	}
	return nil, nil
}

func (d Deps) fileCopy(ctx context.Context, args map[string]any) (any, error) {
	src, err := d.workspacePath(args, "src")
	if err != nil {
		return nil, fmt.Errorf("file.copy: %w", err)
	}
	dest, err := d.workspacePath(args, "dest")
	if err != nil {
		return nil, fmt.Errorf("file.copy: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("file.copy: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("file.copy: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("file.copy: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return nil, fmt.Errorf("file.copy: %w", err)
	}
	return nil, nil
}

func (d Deps) fileMkdir(ctx context.Context, args map[string]any) (any, error) {
	path, err := d.workspacePath(args, "path")
	if err != nil {
		return nil, fmt.Errorf("file.mkdir: %w", err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("file.mkdir: %w", err)
	}
	return nil, nil
}

// shellRun executes a command in the workspace. A string command runs
// through the shell; a list runs as argv without one.
func (d Deps) shellRun(ctx context.Context, args map[string]any) (any, error) {
	var cmd *exec.Cmd
	switch command := args["command"].(type) {
	case string:
		if command == "" {
			return nil, fmt.Errorf("shell.run: command is required")
		}
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	case []any:
		argv, err := stringSlice(command)
		if err != nil || len(argv) == 0 {
			return nil, fmt.Errorf("shell.run: command list must be non-empty strings")
		}
		cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
	default:
		return nil, fmt.Errorf("shell.run: command is required")
	}

	cmd.Dir = d.Root
	if dir, ok := args["dir"].(string); ok && dir != "" {
		sub, err := d.resolve(dir)
		if err != nil {
			return nil, fmt.Errorf("shell.run: %w", err)
		}
		cmd.Dir = sub
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("shell.run: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

func (d Deps) lockAcquire(ctx context.Context, args map[string]any) (any, error) {
	resource, ok := args["resource"].(string)
	if !ok || resource == "" {
		return nil, fmt.Errorf("lock.acquire: resource is required")
	}

	l, err := d.Locks.Acquire(ctx, resource, d.Holder)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"resource":    l.Resource,
		"holder":      l.Holder,
		"acquired_at": l.AcquiredAt,
	}, nil
}

func (d Deps) lockRelease(ctx context.Context, args map[string]any) (any, error) {
	resource, ok := args["resource"].(string)
	if !ok || resource == "" {
		return nil, fmt.Errorf("lock.release: resource is required")
	}
	return nil, d.Locks.Release(ctx, resource, d.Holder)
}

func (d Deps) bundleCreate(ctx context.Context, args map[string]any) (any, error) {
	story, ok := args["story"].(string)
	if !ok || story == "" {
		return nil, fmt.Errorf("bundle.create: story is required")
	}

	artifacts, err := artifactRefs(args["artifacts"])
	if err != nil {
		return nil, fmt.Errorf("bundle.create: %w", err)
	}
	files, err := optionalStringSlice(args["files"])
	if err != nil {
		return nil, fmt.Errorf("bundle.create: files: %w", err)
	}
	tests, err := optionalStringSlice(args["tests"])
	if err != nil {
		return nil, fmt.Errorf("bundle.create: tests: %w", err)
	}

	b, err := d.Bundles.Create(story, artifacts, files, tests)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": b.ID, "story": b.StoryID, "version": b.Version}, nil
}

func (d Deps) rollbackCreate(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	point, err := d.Rollbacks.Create(name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"name": point.Name, "files": len(point.Files)}, nil
}

func (d Deps) driftCheck(ctx context.Context, args map[string]any) (any, error) {
	report, err := d.Drift.Check()
	if report == nil {
		return nil, err
	}
	summary := map[string]any{
		"severity":      string(report.Severity),
		"total_changes": report.TotalChanges(),
	}
	return summary, err
}

// workspacePath reads a path argument and resolves it inside the workspace.
func (d Deps) workspacePath(args map[string]any, key string) (string, error) {
	rel, ok := args[key].(string)
	if !ok || rel == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return d.resolve(rel)
}

// resolve joins rel onto the workspace root and rejects escapes.
func (d Deps) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace: %s", rel)
	}
	return filepath.Join(d.Root, clean), nil
}

func stringSlice(values []any) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("element %d is not a string", i+1)
		}
		out[i] = s
	}
	return out, nil
}

func optionalStringSlice(value any) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	values, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of strings")
	}
	return stringSlice(values)
}

func artifactRefs(value any) ([]bundle.ArtifactRef, error) {
	if value == nil {
		return nil, nil
	}
	values, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("artifacts: expected a list")
	}

	refs := make([]bundle.ArtifactRef, len(values))
	for i, v := range values {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("artifacts: element %d is not a map", i+1)
		}
		path, _ := m["path"].(string)
		version, _ := m["version"].(string)
		hash, _ := m["hash"].(string)
		refs[i] = bundle.ArtifactRef{Path: path, Version: version, Hash: hash}
	}
	return refs, nil
}
