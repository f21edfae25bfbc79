package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store persists execution records as JSON files, one per execution.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create execution directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes an execution record to disk.
func (s *Store) Save(exec *Execution) error {
	data, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", exec.ID, err)
	}
	if err := os.WriteFile(s.path(exec.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write execution %s: %w", exec.ID, err)
	}
	return nil
}

// Get loads an execution by ID. Returns nil without error when none exists.
func (s *Store) Get(id string) (*Execution, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	var exec Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to parse execution %s: %w", id, err)
	}
	return &exec, nil
}

// FindByToken returns the suspended execution holding the resumption token,
// or nil when no execution carries it.
func (s *Store) FindByToken(token string) (*Execution, error) {
	if token == "" {
		return nil, fmt.Errorf("resumption token cannot be empty")
	}

	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		exec, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		if exec != nil && exec.ResumptionToken == token {
			return exec, nil
		}
	}
	return nil, nil
}

// IDs returns every persisted execution ID, sorted.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
