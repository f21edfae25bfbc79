package task

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Render produces the deterministic prose form of a task definition. The
// output is markdown that reads naturally and parses back losslessly:
// Parse(Render(d)) preserves every field of d. Descriptions are rendered on
// a single line, so embedded newlines are normalized to spaces.
func Render(d *TaskDefinition) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task %s: %s\n", d.ID, oneLine(d.Name))

	for _, step := range d.Steps {
		fmt.Fprintf(&b, "\n## Step: %s\n", oneLine(step.Name))
		if step.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", oneLine(step.Description))
		}
		if step.ContinueOnError {
			fmt.Fprintf(&b, "Continue on error: true\n")
		}

		for _, action := range step.Actions {
			fmt.Fprintf(&b, "\n- Action: %s\n", oneLine(action.Description))
			if action.Operation != "" {
				fmt.Fprintf(&b, "  Operation: %s\n", action.Operation)
			}
			if action.Interactive {
				fmt.Fprintf(&b, "  Interactive: true\n")
			}
			if len(action.Params) > 0 {
				b.WriteString("  Params:\n")
				b.WriteString(indent(marshalParams(action.Params), "    "))
			}
		}
	}

	return b.String()
}

// parseProse decodes the prose form produced by Render.
func parseProse(name string, data []byte) (*TaskDefinition, error) {
	lines := strings.Split(string(data), "\n")

	def := &TaskDefinition{}
	var step *Step
	var action *Action
	var paramLines []string
	inParams := false

	flushParams := func() error {
		if !inParams {
			return nil
		}
		inParams = false
		if action == nil || len(paramLines) == 0 {
			paramLines = nil
			return nil
		}
		params := make(map[string]any)
		if err := yaml.Unmarshal([]byte(strings.Join(paramLines, "\n")), &params); err != nil {
			return &SyntaxError{Document: name, Err: fmt.Errorf("invalid params block: %w", err)}
		}
		action.Params = params
		paramLines = nil
		return nil
	}
	flushAction := func() {
		if action != nil && step != nil {
			step.Actions = append(step.Actions, *action)
			action = nil
		}
	}
	flushStep := func() {
		if step != nil {
			def.Steps = append(def.Steps, *step)
			step = nil
		}
	}

	for lineNo, line := range lines {
		switch {
		case strings.HasPrefix(line, "# Task "):
			rest := strings.TrimPrefix(line, "# Task ")
			id, taskName, ok := strings.Cut(rest, ": ")
			if !ok {
				return nil, &SyntaxError{Document: name, Err: fmt.Errorf("line %d: malformed task heading", lineNo+1)}
			}
			def.ID = strings.TrimSpace(id)
			def.Name = strings.TrimSpace(taskName)

		case strings.HasPrefix(line, "## Step: "):
			if err := flushParams(); err != nil {
				return nil, err
			}
			flushAction()
			flushStep()
			step = &Step{Name: strings.TrimSpace(strings.TrimPrefix(line, "## Step: "))}

		case strings.HasPrefix(line, "Description: "):
			if step != nil && action == nil {
				step.Description = strings.TrimPrefix(line, "Description: ")
			}

		case line == "Continue on error: true":
			if step != nil {
				step.ContinueOnError = true
			}

		case strings.HasPrefix(line, "- Action: "):
			if err := flushParams(); err != nil {
				return nil, err
			}
			flushAction()
			if step == nil {
				return nil, &SyntaxError{Document: name, Err: fmt.Errorf("line %d: action outside of a step", lineNo+1)}
			}
			action = &Action{Description: strings.TrimPrefix(line, "- Action: ")}

		case strings.HasPrefix(line, "  Operation: "):
			if action != nil {
				action.Operation = strings.TrimSpace(strings.TrimPrefix(line, "  Operation: "))
			}

		case line == "  Interactive: true":
			if action != nil {
				action.Interactive = true
			}

		case line == "  Params:":
			inParams = true

		case inParams && strings.HasPrefix(line, "    "):
			paramLines = append(paramLines, strings.TrimPrefix(line, "    "))

		case strings.TrimSpace(line) == "":
			// Blank lines separate sections; params blocks never contain them.
			if err := flushParams(); err != nil {
				return nil, err
			}

		default:
			return nil, &SyntaxError{Document: name, Err: fmt.Errorf("line %d: unrecognized prose line: %q", lineNo+1, line)}
		}
	}

	if err := flushParams(); err != nil {
		return nil, err
	}
	flushAction()
	flushStep()

	if err := def.Validate(); err != nil {
		return nil, &ValidationError{Document: name, Violations: []FieldViolation{{Message: err.Error()}}}
	}

	return def, nil
}

func marshalParams(params map[string]any) string {
	// yaml.Marshal of a map sorts keys, which keeps Render deterministic.
	out, err := yaml.Marshal(params)
	if err != nil {
		// Params come from a decoded YAML document, so re-encoding them
		// cannot fail in practice.
		return fmt.Sprintf("error: %v\n", err)
	}
	return string(out)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func indent(s, prefix string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		b.WriteString(prefix)
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
