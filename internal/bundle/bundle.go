// Package bundle stores immutable, version-pinned sets of artifact, file,
// and test references for one story. A bundle is never mutated after
// creation: invalidating one writes an invalidation record onto it and
// creates a new superseding version, so the full provenance chain survives.
package bundle

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ArtifactRef pins one planning artifact by path, version, and content hash.
type ArtifactRef struct {
	Path    string `json:"path" yaml:"path"`
	Version string `json:"version" yaml:"version"`
	Hash    string `json:"hash" yaml:"hash"`
}

// Invalidation records why a bundle was superseded and by which version.
type Invalidation struct {
	Reason       string    `json:"reason"`
	SupersededBy int       `json:"superseded_by"` // version number of the replacement
	At           time.Time `json:"at"`
}

// Bundle is the immutable unit-of-work record for a story.
type Bundle struct {
	ID          string        `json:"id"`
	StoryID     string        `json:"story_id"`
	Version     int           `json:"version"` // starts at 1
	Artifacts   []ArtifactRef `json:"artifacts"`
	TargetFiles []string      `json:"target_files"` // files the story declares it creates or edits
	Tests       []string      `json:"tests"`
	CreatedAt   time.Time     `json:"created_at"`

	// Invalidated is set on the old version when a new one supersedes it.
	// It is the only field ever written after creation, and it is written
	// exactly once.
	Invalidated *Invalidation `json:"invalidated,omitempty"`
}

// New builds a version-1 bundle for a story.
func New(storyID string, artifacts []ArtifactRef, targetFiles, tests []string) (*Bundle, error) {
	b := &Bundle{
		ID:          uuid.New().String(),
		StoryID:     storyID,
		Version:     1,
		Artifacts:   artifacts,
		TargetFiles: targetFiles,
		Tests:       tests,
		CreatedAt:   time.Now().UTC(),
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the structural invariants.
func (b *Bundle) Validate() error {
	if b.StoryID == "" {
		return fmt.Errorf("bundle story_id is required")
	}
	if b.Version < 1 {
		return fmt.Errorf("bundle version must be >= 1, got %d", b.Version)
	}
	for i, ref := range b.Artifacts {
		if ref.Path == "" {
			return fmt.Errorf("bundle artifact %d: path is required", i+1)
		}
		if ref.Hash == "" {
			return fmt.Errorf("bundle artifact '%s': hash is required", ref.Path)
		}
	}
	return nil
}

// Supersede produces the next version of b with the given replacements.
// b itself is returned with its invalidation record filled in; both must be
// persisted by the caller.
func (b *Bundle) Supersede(reason string, artifacts []ArtifactRef, targetFiles, tests []string) (*Bundle, error) {
	if b.Invalidated != nil {
		return nil, fmt.Errorf("bundle '%s' v%d is already invalidated", b.StoryID, b.Version)
	}
	if reason == "" {
		return nil, fmt.Errorf("invalidation reason is required")
	}

	next := &Bundle{
		ID:          uuid.New().String(),
		StoryID:     b.StoryID,
		Version:     b.Version + 1,
		Artifacts:   artifacts,
		TargetFiles: targetFiles,
		Tests:       tests,
		CreatedAt:   time.Now().UTC(),
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	b.Invalidated = &Invalidation{
		Reason:       reason,
		SupersededBy: next.Version,
		At:           next.CreatedAt,
	}
	return next, nil
}

// DeclaresCreated reports whether the bundle declares the given file as a
// target, which the grounding check accepts in place of an existing file.
func (b *Bundle) DeclaresCreated(path string) bool {
	for _, target := range b.TargetFiles {
		if target == path {
			return true
		}
	}
	return false
}
