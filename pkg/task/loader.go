package task

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// LoadResult is the outcome of loading one document from a stream.
// Exactly one of Task or Err is set.
type LoadResult struct {
	Document string          // source name plus document index, e.g. "tasks.yml#2"
	Task     *TaskDefinition // nil on failure
	Err      error           // *SyntaxError or *ValidationError
}

// Load reads a single task definition from path. It accepts either YAML or
// the rendered prose form produced by Render.
func Load(path string) (*TaskDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task document: %w", err)
	}
	return Parse(path, data)
}

// LoadAll reads every document in a multi-document YAML stream. A malformed
// or invalid document is fatal for that document only: it is reported in its
// LoadResult and loading continues with the next document.
func LoadAll(path string) ([]LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task document: %w", err)
	}

	// Rendered prose never contains multiple documents.
	if isProse(data) {
		def, perr := Parse(path, data)
		return []LoadResult{{Document: path, Task: def, Err: perr}}, nil
	}

	var results []LoadResult
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	for i := 0; ; i++ {
		name := fmt.Sprintf("%s#%d", path, i+1)

		var raw map[string]any
		err := decoder.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// The yaml decoder cannot reliably resume after a syntax
			// error, so the remainder of the stream is unreachable.
			results = append(results, LoadResult{Document: name, Err: &SyntaxError{Document: name, Err: err}})
			break
		}
		if raw == nil {
			continue
		}

		def, verr := fromRaw(name, raw)
		results = append(results, LoadResult{Document: name, Task: def, Err: verr})
	}

	return results, nil
}

// Parse decodes a single task document from data. YAML and rendered prose
// are both accepted; prose is detected by its leading heading marker.
func Parse(name string, data []byte) (*TaskDefinition, error) {
	if isProse(data) {
		return parseProse(name, data)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &SyntaxError{Document: name, Err: err}
	}
	if raw == nil {
		return nil, &SyntaxError{Document: name, Err: fmt.Errorf("document is empty")}
	}

	return fromRaw(name, raw)
}

// fromRaw validates a decoded document against the registered schema and, on
// success, converts it to a TaskDefinition.
func fromRaw(name string, raw map[string]any) (*TaskDefinition, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	if err := sch.Validate(raw); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, &ValidationError{Document: name, Violations: violationsFromSchemaError(verr)}
		}
		return nil, fmt.Errorf("%s: schema validation failed: %w", name, err)
	}

	// Round-trip through YAML to reuse the struct tags for field mapping.
	encoded, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to re-encode document: %w", name, err)
	}
	var def TaskDefinition
	if err := yaml.Unmarshal(encoded, &def); err != nil {
		return nil, fmt.Errorf("%s: failed to decode document: %w", name, err)
	}

	if err := def.Validate(); err != nil {
		return nil, &ValidationError{Document: name, Violations: []FieldViolation{{Message: err.Error()}}}
	}

	return &def, nil
}

// isProse reports whether data looks like the rendered prose form rather
// than YAML. Rendered prose always starts with a level-one heading.
func isProse(data []byte) bool {
	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	return strings.HasPrefix(trimmed, "# ")
}
