// Package gate enforces quality gates between delivery phases. A story moves
// Planning -> Development -> QA -> Done, and each transition is guarded by a
// conjunction of checks. Phase state is persisted per story so transitions
// survive process restarts.
package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Phase is a story's position in the delivery workflow.
type Phase string

const (
	PhasePlanning    Phase = "planning"
	PhaseDevelopment Phase = "development"
	PhaseQA          Phase = "qa"
	PhaseDone        Phase = "done"
)

// Validate checks that the phase is one of the defined values.
func (p Phase) Validate() error {
	switch p {
	case PhasePlanning, PhaseDevelopment, PhaseQA, PhaseDone:
		return nil
	default:
		return fmt.Errorf("invalid phase: %s", p)
	}
}

// Next returns the phase that follows p. ok is false for PhaseDone.
func (p Phase) Next() (next Phase, ok bool) {
	switch p {
	case PhasePlanning:
		return PhaseDevelopment, true
	case PhaseDevelopment:
		return PhaseQA, true
	case PhaseQA:
		return PhaseDone, true
	default:
		return "", false
	}
}

// Transition records one completed phase change.
type Transition struct {
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	At   time.Time `json:"at"`
}

// StoryState is the persisted phase state for one story.
type StoryState struct {
	StoryID   string       `json:"story_id"`
	Phase     Phase        `json:"phase"`
	UpdatedAt time.Time    `json:"updated_at"`
	History   []Transition `json:"history,omitempty"`
}

// Store persists story states as JSON files, one per story.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create phase state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(storyID string) string {
	return filepath.Join(s.dir, storyID+".json")
}

// Get returns the state for a story. A story never seen before starts in
// the planning phase.
func (s *Store) Get(storyID string) (*StoryState, error) {
	data, err := os.ReadFile(s.path(storyID))
	if err != nil {
		if os.IsNotExist(err) {
			return &StoryState{StoryID: storyID, Phase: PhasePlanning}, nil
		}
		return nil, fmt.Errorf("failed to read phase state for story '%s': %w", storyID, err)
	}

	var state StoryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse phase state for story '%s': %w", storyID, err)
	}
	if err := state.Phase.Validate(); err != nil {
		return nil, fmt.Errorf("corrupt phase state for story '%s': %w", storyID, err)
	}
	return &state, nil
}

// Save writes a story's state to disk.
func (s *Store) Save(state *StoryState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal phase state: %w", err)
	}
	if err := os.WriteFile(s.path(state.StoryID), data, 0644); err != nil {
		return fmt.Errorf("failed to write phase state for story '%s': %w", state.StoryID, err)
	}
	return nil
}
