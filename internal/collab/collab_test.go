package collab

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileContractProvider_LoadsAndValidates(t *testing.T) {
	dir := t.TempDir()
	contract := `story_id: S-1
plan: stories/S-1/plan.yml
required_artifacts:
  - docs/design.md
references:
  - file: src/auth.go
    symbol: ValidateToken
post_conditions:
  - name: handler exists
    path: src/login.go
    must_contain: func HandleLogin
tests:
  - ./...
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "S-1.yml"), []byte(contract), 0644))

	p := NewFileContractProvider(dir)
	c, err := p.Contract("S-1")
	require.NoError(t, err)

	assert.Equal(t, "S-1", c.StoryID)
	assert.Equal(t, "stories/S-1/plan.yml", c.PlanPath)
	require.Len(t, c.References, 1)
	assert.Equal(t, "ValidateToken", c.References[0].Symbol)
	require.Len(t, c.PostConditions, 1)
	assert.Equal(t, "func HandleLogin", c.PostConditions[0].MustContain)
}

func TestFileContractProvider_MissingContract(t *testing.T) {
	p := NewFileContractProvider(t.TempDir())
	_, err := p.Contract("S-404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no contract found for story 'S-404'")
}

func TestFileContractProvider_IncompleteContract(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "S-2.yml"), []byte("story_id: S-2\n"), 0644))

	p := NewFileContractProvider(dir)
	_, err := p.Contract("S-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan is required")
}

func TestCommandTestRunner_PassAndCounts(t *testing.T) {
	r, err := NewCommandTestRunner(t.TempDir(), []string{"sh", "-c", "echo '7 passed, 0 failed'"})
	require.NoError(t, err)

	result, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 7, result.TestsPassed)
	assert.Equal(t, 0, result.TestsFailed)
}

func TestCommandTestRunner_FailureVerdict(t *testing.T) {
	r, err := NewCommandTestRunner(t.TempDir(), []string{"sh", "-c", "echo '3 passed, 2 failed'; exit 1"})
	require.NoError(t, err)

	result, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, 3, result.TestsPassed)
	assert.Equal(t, 2, result.TestsFailed)
}

func TestCommandTestRunner_EmptyCommandRejected(t *testing.T) {
	_, err := NewCommandTestRunner(".", nil)
	assert.Error(t, err)
}
