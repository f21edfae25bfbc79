package task

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// taskSchemaJSON is the registered schema for task definition documents.
// It is deliberately strict about shape (additionalProperties: false) so
// typos in field names surface as itemized violations instead of being
// silently dropped by the YAML decoder.
const taskSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "steps"],
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "actions"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "continue_on_error": {"type": "boolean"},
          "actions": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["description"],
              "additionalProperties": false,
              "properties": {
                "description": {"type": "string", "minLength": 1},
                "operation": {"type": "string"},
                "interactive": {"type": "boolean"},
                "params": {"type": "object"}
              }
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// compiledSchema returns the task document schema, compiling it on first use.
func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(taskSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("failed to decode embedded task schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("task.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("failed to register task schema: %w", err)
			return
		}

		schema, schemaErr = compiler.Compile("task.schema.json")
	})
	return schema, schemaErr
}
