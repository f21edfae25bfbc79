package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Store persists bundles as individually named records, one file per
// version, under .stagehand/bundles/<story>/v<N>.json. Records are
// superseded, never deleted.
type Store struct {
	dir string
}

// NewStore creates the bundle directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) versionPath(storyID string, version int) string {
	return filepath.Join(s.dir, storyID, fmt.Sprintf("v%d.json", version))
}

// Save writes a bundle record. Overwriting is only legal when adding an
// invalidation record to an otherwise unchanged bundle; brand-new versions
// must not collide.
func (s *Store) Save(b *Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.dir, b.StoryID), 0755); err != nil {
		return fmt.Errorf("failed to create story bundle directory: %w", err)
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize bundle: %w", err)
	}
	if err := os.WriteFile(s.versionPath(b.StoryID, b.Version), data, 0644); err != nil {
		return fmt.Errorf("failed to write bundle record: %w", err)
	}
	return nil
}

// Create builds and persists a new version-1 bundle for a story.
func (s *Store) Create(storyID string, artifacts []ArtifactRef, targetFiles, tests []string) (*Bundle, error) {
	if existing, err := s.Latest(storyID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("story '%s' already has a bundle (v%d); invalidate it to supersede", storyID, existing.Version)
	}

	b, err := New(storyID, artifacts, targetFiles, tests)
	if err != nil {
		return nil, err
	}
	if err := s.Save(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Invalidate supersedes the latest bundle for a story with a new version,
// persisting both the invalidation record and the replacement.
func (s *Store) Invalidate(storyID, reason string, artifacts []ArtifactRef, targetFiles, tests []string) (*Bundle, error) {
	current, err := s.Latest(storyID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("story '%s' has no bundle to invalidate", storyID)
	}

	next, err := current.Supersede(reason, artifacts, targetFiles, tests)
	if err != nil {
		return nil, err
	}

	// Persist the replacement first: if that fails, the current bundle
	// stays valid on disk.
	if err := s.Save(next); err != nil {
		return nil, err
	}
	if err := s.Save(current); err != nil {
		return nil, fmt.Errorf("failed to record invalidation on v%d: %w", current.Version, err)
	}
	return next, nil
}

// Get loads one specific bundle version.
func (s *Store) Get(storyID string, version int) (*Bundle, error) {
	data, err := os.ReadFile(s.versionPath(storyID, version))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle record: %w", err)
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("corrupt bundle record for '%s' v%d: %w", storyID, version, err)
	}
	return &b, nil
}

// Latest returns the highest bundle version for a story, nil when none exist.
func (s *Store) Latest(storyID string) (*Bundle, error) {
	versions, err := s.Versions(storyID)
	if err != nil || len(versions) == 0 {
		return nil, err
	}
	return s.Get(storyID, versions[len(versions)-1])
}

// Versions lists the recorded version numbers for a story, ascending.
func (s *Store) Versions(storyID string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, storyID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read story bundle directory: %w", err)
	}

	var versions []int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".json") {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".json"))
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

// Stories lists every story with at least one bundle record.
func (s *Store) Stories() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle directory: %w", err)
	}

	var stories []string
	for _, entry := range entries {
		if entry.IsDir() {
			stories = append(stories, entry.Name())
		}
	}
	sort.Strings(stories)
	return stories, nil
}
