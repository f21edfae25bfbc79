package task

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_ContainsRequiredFields(t *testing.T) {
	prose := Render(validTask())

	assert.True(t, strings.HasPrefix(prose, "# Task T-101: Implement login\n"))
	assert.Contains(t, prose, "## Step: scaffold")
	assert.Contains(t, prose, "- Action: create handler file")
	assert.Contains(t, prose, "  Operation: file.write")
	assert.Contains(t, prose, "  Interactive: true")
	assert.Contains(t, prose, "path: src/login.go")
}

func TestRender_RoundTripPreservesRequiredFields(t *testing.T) {
	original, err := Parse("inline", []byte(validTaskYAML))
	require.NoError(t, err)

	// parse(render(parse(d))) must preserve every field of d.
	reparsed, err := Parse("rendered", []byte(Render(original)))
	require.NoError(t, err)

	assert.Equal(t, original, reparsed)
}

func TestRender_RoundTripWithInteractiveAndErrorsPolicy(t *testing.T) {
	original := validTask()

	reparsed, err := Parse("rendered", []byte(Render(original)))
	require.NoError(t, err)

	assert.Equal(t, original, reparsed)
}

func TestRender_IsDeterministic(t *testing.T) {
	d := validTask()
	assert.Equal(t, Render(d), Render(d))
}

func TestParseProse_RejectsUnrecognizedLines(t *testing.T) {
	prose := "# Task T-1: x\n\n## Step: s\n\nsome stray prose\n"
	_, err := parseProse("inline", []byte(prose))
	require.Error(t, err)

	_, ok := err.(*SyntaxError)
	assert.True(t, ok, "expected *SyntaxError, got %T", err)
}

func TestParseProse_ActionOutsideStep(t *testing.T) {
	prose := "# Task T-1: x\n\n- Action: orphaned\n"
	_, err := parseProse("inline", []byte(prose))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action outside of a step")
}
