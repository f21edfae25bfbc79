package task

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// FieldViolation is a single schema violation qualified by the field path
// it occurred at, e.g. "steps/0/actions/2/description".
type FieldViolation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports every schema violation found in one document.
// Callers get the full itemized list, never just the first failure.
type ValidationError struct {
	Document   string // source name, e.g. file path plus document index
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d schema violation(s):", e.Document, len(e.Violations))
	for _, v := range e.Violations {
		path := v.Path
		if path == "" {
			path = "(document root)"
		}
		fmt.Fprintf(&b, "\n  - %s: %s", path, v.Message)
	}
	return b.String()
}

// SyntaxError reports malformed YAML or prose that could not be decoded at
// all. Syntax errors are fatal for that document only; the rest of a
// multi-document stream keeps loading.
type SyntaxError struct {
	Document string
	Err      error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: malformed task document: %v", e.Document, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// violationsFromSchemaError flattens a jsonschema validation error tree into
// field-qualified violations. Leaf causes carry the precise instance
// location; intermediate nodes only repeat their children.
func violationsFromSchemaError(err *jsonschema.ValidationError) []FieldViolation {
	var violations []FieldViolation

	var walk func(ve *jsonschema.ValidationError)
	walk = func(ve *jsonschema.ValidationError) {
		if len(ve.Causes) == 0 {
			violations = append(violations, FieldViolation{
				Path:    strings.Join(ve.InstanceLocation, "/"),
				Message: ve.Error(),
			})
			return
		}
		for _, cause := range ve.Causes {
			walk(cause)
		}
	}
	walk(err)

	return violations
}
