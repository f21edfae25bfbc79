package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTask() *TaskDefinition {
	return &TaskDefinition{
		ID:   "T-101",
		Name: "Implement login",
		Steps: []Step{
			{
				Name:        "scaffold",
				Description: "Create the handler skeleton",
				Actions: []Action{
					{Description: "create handler file", Operation: "file.write", Params: map[string]any{"path": "src/login.go"}},
					{Description: "review scaffold with the team", Interactive: true},
				},
			},
		},
	}
}

func TestTaskDefinition_Validate(t *testing.T) {
	require.NoError(t, validTask().Validate())
}

func TestTaskDefinition_Validate_MissingID(t *testing.T) {
	d := validTask()
	d.ID = ""
	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
}

func TestTaskDefinition_Validate_NoSteps(t *testing.T) {
	d := validTask()
	d.Steps = nil
	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one step")
}

func TestTaskDefinition_Validate_DuplicateStepNames(t *testing.T) {
	d := validTask()
	d.Steps = append(d.Steps, d.Steps[0])
	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step name 'scaffold'")
}

func TestStep_Validate_NoActions(t *testing.T) {
	s := &Step{Name: "empty"}
	err := s.Validate("T-1", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one action")
}

func TestAction_Validate_InteractiveWithOperation(t *testing.T) {
	a := &Action{Description: "confirm", Operation: "shell.run", Interactive: true}
	err := a.Validate("T-1", "s", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interactive actions cannot also name an operation")
}

func TestTaskDefinition_OperationNames(t *testing.T) {
	d := &TaskDefinition{
		ID:   "T-1",
		Name: "ops",
		Steps: []Step{
			{Name: "a", Actions: []Action{
				{Description: "one", Operation: "file.write"},
				{Description: "two", Operation: "shell.run"},
			}},
			{Name: "b", Actions: []Action{
				{Description: "three", Operation: "file.write"}, // duplicate
				{Description: "four"},                           // no operation
			}},
		},
	}

	assert.Equal(t, []string{"file.write", "shell.run"}, d.OperationNames())
}
