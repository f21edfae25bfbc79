// Package collab defines the interfaces stagehand consumes from external
// collaborators: the contract provider (required artifacts, references, and
// post-conditions for a story), and the test runner (pass/fail plus counts).
// The gate controller depends only on these interfaces; the file- and
// command-backed implementations here are the single-host defaults.
package collab

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Reference names a file, and optionally a symbol inside it, that a story's
// plan relies on. The grounding check verifies each one.
type Reference struct {
	File   string `yaml:"file"`
	Symbol string `yaml:"symbol,omitempty"`
}

// PostCondition is a declared, checkable outcome of a story: a path that
// must exist, optionally containing a marker string.
type PostCondition struct {
	Name        string `yaml:"name"`
	Path        string `yaml:"path"`
	MustContain string `yaml:"must_contain,omitempty"`
}

// Contract is the parsed collaborator contract for one story.
type Contract struct {
	StoryID           string          `yaml:"story_id"`
	PlanPath          string          `yaml:"plan"`               // planning artifact (task document)
	RequiredArtifacts []string        `yaml:"required_artifacts"` // paths that must exist before dev
	References        []Reference     `yaml:"references"`         // grounding inputs
	PostConditions    []PostCondition `yaml:"post_conditions"`
	Tests             []string        `yaml:"tests"`
}

// Validate checks contract completeness.
func (c *Contract) Validate() error {
	if c.StoryID == "" {
		return fmt.Errorf("contract: story_id is required")
	}
	if c.PlanPath == "" {
		return fmt.Errorf("contract '%s': plan is required", c.StoryID)
	}
	for i, ref := range c.References {
		if ref.File == "" {
			return fmt.Errorf("contract '%s': reference %d: file is required", c.StoryID, i+1)
		}
	}
	for i, pc := range c.PostConditions {
		if pc.Name == "" || pc.Path == "" {
			return fmt.Errorf("contract '%s': post-condition %d: name and path are required", c.StoryID, i+1)
		}
	}
	return nil
}

// ContractProvider supplies the contract for a story.
type ContractProvider interface {
	Contract(storyID string) (*Contract, error)
}

// FileContractProvider reads contracts from <dir>/<story>.yml.
type FileContractProvider struct {
	dir string
}

// NewFileContractProvider creates a provider rooted at dir.
func NewFileContractProvider(dir string) *FileContractProvider {
	return &FileContractProvider{dir: dir}
}

// Contract implements ContractProvider.
func (p *FileContractProvider) Contract(storyID string) (*Contract, error) {
	path := filepath.Join(p.dir, storyID+".yml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no contract found for story '%s' (expected %s)", storyID, path)
		}
		return nil, fmt.Errorf("failed to read contract for story '%s': %w", storyID, err)
	}

	var c Contract
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse contract for story '%s': %w", storyID, err)
	}
	if c.StoryID == "" {
		c.StoryID = storyID
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
