// Package task provides type-safe definitions for stagehand task documents.
// A task definition is the fundamental unit of work: an ordered list of steps,
// each holding an ordered list of actions. Declared order is execution order,
// and the execution engine relies on that invariant.
//
// Task documents are authored as YAML (multi-document streams are allowed) and
// validated against an embedded JSON schema so that authors get itemized,
// field-qualified violations rather than one opaque parse error.
package task

import (
	"fmt"
)

// TaskDefinition represents a single loaded task document.
type TaskDefinition struct {
	ID    string `yaml:"id" json:"id"`       // Stable identifier, e.g. "T-101"
	Name  string `yaml:"name" json:"name"`   // Human-readable title
	Steps []Step `yaml:"steps" json:"steps"` // Ordered; declared order is execution order
}

// Step is an ordered group of actions with a shared error policy.
type Step struct {
	Name            string   `yaml:"name" json:"name"`
	Description     string   `yaml:"description,omitempty" json:"description,omitempty"`
	ContinueOnError bool     `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`
	Actions         []Action `yaml:"actions" json:"actions"` // Ordered
}

// Action is the smallest executable unit. Operation names are resolved
// through the operation registry at execution time; params may contain
// {{dotted.path}} placeholders resolved against the execution context.
type Action struct {
	Description string         `yaml:"description" json:"description"`
	Operation   string         `yaml:"operation,omitempty" json:"operation,omitempty"`
	Interactive bool           `yaml:"interactive,omitempty" json:"interactive,omitempty"`
	Params      map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Validate performs structural validation beyond what the schema covers.
// Schema validation catches shape problems; this catches semantic ones.
func (d *TaskDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if d.Name == "" {
		return fmt.Errorf("task '%s': name is required", d.ID)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("task '%s': at least one step is required", d.ID)
	}

	stepsSeen := make(map[string]bool)
	for i, step := range d.Steps {
		if err := step.Validate(d.ID, i); err != nil {
			return err
		}
		if stepsSeen[step.Name] {
			return fmt.Errorf("task '%s': duplicate step name '%s': step names must be unique within a task", d.ID, step.Name)
		}
		stepsSeen[step.Name] = true
	}

	return nil
}

// Validate checks a single step in the context of its parent task.
func (s *Step) Validate(taskID string, index int) error {
	if s.Name == "" {
		return fmt.Errorf("task '%s': step %d: name is required", taskID, index+1)
	}
	if len(s.Actions) == 0 {
		return fmt.Errorf("task '%s': step '%s': at least one action is required", taskID, s.Name)
	}
	for i, action := range s.Actions {
		if err := action.Validate(taskID, s.Name, i); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a single action. Actions without an operation are
// documentation-only and legal; actions with an operation must name it
// non-empty so registry lookup stays unambiguous.
func (a *Action) Validate(taskID, stepName string, index int) error {
	if a.Description == "" {
		return fmt.Errorf("task '%s': step '%s': action %d: description is required", taskID, stepName, index+1)
	}
	if a.Interactive && a.Operation != "" {
		return fmt.Errorf("task '%s': step '%s': action %d: interactive actions cannot also name an operation", taskID, stepName, index+1)
	}
	return nil
}

// OperationNames returns every operation referenced by the task, in
// declared order, without duplicates. Used for the registry completeness
// check before execution starts.
func (d *TaskDefinition) OperationNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, step := range d.Steps {
		for _, action := range step.Actions {
			if action.Operation == "" || seen[action.Operation] {
				continue
			}
			seen[action.Operation] = true
			names = append(names, action.Operation)
		}
	}
	return names
}
