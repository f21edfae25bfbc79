// Package drift detects divergence of the workspace from a previously
// captured baseline. A snapshot canonically captures per-file content
// hashes, the directory listing, dependency manifest contents, and the
// configuration hash; comparing two snapshots yields a categorized report
// with a severity derived from the total change count.
package drift

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Snapshot is the canonical captured state of the tracked workspace.
type Snapshot struct {
	TakenAt     time.Time         `json:"taken_at"`
	Files       map[string]string `json:"files"`       // relative path -> sha256 hex
	Directories []string          `json:"directories"` // sorted relative directory listing
	Manifests   map[string][]byte `json:"manifests"`   // manifest path -> verbatim content bytes
	ConfigHash  string            `json:"config_hash"` // hash of stagehand.yml, empty if absent
}

// ignoredDirs are never tracked: orchestrator state and VCS metadata would
// otherwise make every snapshot self-invalidating.
var ignoredDirs = map[string]bool{
	".stagehand":   true,
	".git":         true,
	"node_modules": true,
}

// Capture walks the tracked paths under root and builds a snapshot.
// tracked entries are root-relative files or directories; manifests are
// root-relative dependency manifest files captured verbatim.
func Capture(root string, tracked, manifests []string, configPath string) (*Snapshot, error) {
	snap := &Snapshot{
		TakenAt:   time.Now().UTC(),
		Files:     make(map[string]string),
		Manifests: make(map[string][]byte),
	}

	dirSet := make(map[string]bool)
	for _, entry := range tracked {
		abs := filepath.Join(root, entry)
		info, err := os.Stat(abs)
		if os.IsNotExist(err) {
			continue // tracked path may not exist yet
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat tracked path '%s': %w", entry, err)
		}

		if !info.IsDir() {
			hash, err := hashFile(abs)
			if err != nil {
				return nil, err
			}
			snap.Files[filepath.ToSlash(entry)] = hash
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if ignoredDirs[d.Name()] {
					return filepath.SkipDir
				}
				dirSet[rel] = true
				return nil
			}

			hash, err := hashFile(path)
			if err != nil {
				return err
			}
			snap.Files[rel] = hash
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk tracked path '%s': %w", entry, err)
		}
	}

	for dir := range dirSet {
		snap.Directories = append(snap.Directories, dir)
	}
	sort.Strings(snap.Directories)

	for _, manifest := range manifests {
		data, err := os.ReadFile(filepath.Join(root, manifest))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest '%s': %w", manifest, err)
		}
		snap.Manifests[filepath.ToSlash(manifest)] = data
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err == nil {
			sum := sha256.Sum256(data)
			snap.ConfigHash = hex.EncodeToString(sum[:])
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config for hashing: %w", err)
		}
	}

	return snap, nil
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to hash '%s': %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// sortedKeys returns map keys sorted for deterministic reports.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
