package printer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("returns error carrying only the title", func(t *testing.T) {
		err := Error("Gate check failed", "The grounding check did not pass", []string{"Create the bundle first"})
		require.Error(t, err)
		require.Equal(t, "Gate check failed", err.Error())
	})

	t.Run("multiple suggestions", func(t *testing.T) {
		err := Error("Lock conflict", "Resource is held by another executor", []string{
			"Wait for the holder to release it",
			"Run 'stagehand lock cleanup' if the holder is gone",
		})
		require.Error(t, err)
		require.Equal(t, "Lock conflict", err.Error())
	})
}

func TestErrorWithContext(t *testing.T) {
	context := map[string]string{
		"Resource": "src/auth.go",
		"Holder":   "executor-1",
	}
	err := ErrorWithContext("Lock conflict", "Resource is already locked", context, nil)
	require.Error(t, err)
	require.Equal(t, "Lock conflict", err.Error())
}

// Error and ErrorWithContext print the rich output to stderr; the returned
// error carries only the title so cobra does not duplicate it.
