package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/pkg/task"
)

func echoOp(ctx context.Context, args map[string]any) (any, error) {
	return args, nil
}

func TestRegistry_RegisterAndInvoke(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("echo", echoOp, []string{"message"}))

	result, err := r.Invoke(context.Background(), "echo", map[string]any{"message": "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"message": "hi"}, result)
}

func TestRegistry_Register_Validation(t *testing.T) {
	r := New()
	assert.Error(t, r.Register("", echoOp, nil))
	assert.Error(t, r.Register("noop", nil, nil))
}

func TestRegistry_UnknownOperationEnumeratesNames(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("file.write", echoOp, nil))
	require.NoError(t, r.Register("shell.run", echoOp, nil))

	_, err := r.Invoke(context.Background(), "file.wriet", nil, nil)
	require.Error(t, err)

	unknownErr, ok := err.(*UnknownOperationError)
	require.True(t, ok, "expected *UnknownOperationError, got %T", err)
	assert.Equal(t, "file.wriet", unknownErr.Name)
	assert.Equal(t, []string{"file.write", "shell.run"}, unknownErr.Registered)
	assert.Contains(t, err.Error(), "file.write, shell.run")
}

func TestRegistry_CheckComplete(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("file.write", echoOp, nil))

	def := &task.TaskDefinition{
		ID:   "T-1",
		Name: "check",
		Steps: []task.Step{
			{Name: "s", Actions: []task.Action{
				{Description: "ok", Operation: "file.write"},
				{Description: "missing", Operation: "git.push"},
			}},
		},
	}

	err := r.CheckComplete(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operation 'git.push'")

	require.NoError(t, r.Register("git.push", echoOp, nil))
	assert.NoError(t, r.CheckComplete(def))
}

func TestRegistry_ResolveSubstitutesPlaceholders(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("file.write", echoOp, []string{"path", "content"}))

	execCtx := map[string]any{
		"inputs": map[string]any{"story": "S-9", "dir": "src"},
	}
	args, err := r.Resolve("file.write", map[string]any{
		"path":    "{{inputs.dir}}/login.go",
		"content": "story {{inputs.story}}",
	}, execCtx)
	require.NoError(t, err)

	assert.Equal(t, "src/login.go", args["path"])
	assert.Equal(t, "story S-9", args["content"])
}

func TestRegistry_ParamOrder(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("file.write", echoOp, []string{"path", "content"}))

	order, err := r.ParamOrder("file.write")
	require.NoError(t, err)
	assert.Equal(t, []string{"path", "content"}, order)

	_, err = r.ParamOrder("nope")
	assert.Error(t, err)
}
