package collab

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

// TestResult is the outcome the gate controller consumes: a verdict plus
// counts for diagnostics.
type TestResult struct {
	Passed      bool
	TestsPassed int
	TestsFailed int
	Output      string
}

// TestRunner executes a story's test suite.
type TestRunner interface {
	Run(ctx context.Context, tests []string) (*TestResult, error)
}

var (
	passedPattern = regexp.MustCompile(`(\d+)\s+passed`)
	failedPattern = regexp.MustCompile(`(\d+)\s+failed`)
)

// CommandTestRunner shells out to a configured command (e.g. "make test").
// The verdict is the exit code; passed/failed counts are scraped from the
// output when the runner reports them in "N passed"/"N failed" form.
type CommandTestRunner struct {
	dir     string
	command []string
}

// NewCommandTestRunner creates a runner executing command (argv form) in dir.
func NewCommandTestRunner(dir string, command []string) (*CommandTestRunner, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("test runner command cannot be empty")
	}
	return &CommandTestRunner{dir: dir, command: command}, nil
}

// Run implements TestRunner. Individual test identifiers are appended to the
// configured command so the collaborator can scope the run.
func (r *CommandTestRunner) Run(ctx context.Context, tests []string) (*TestResult, error) {
	args := append(append([]string{}, r.command[1:]...), tests...)
	cmd := exec.CommandContext(ctx, r.command[0], args...)
	cmd.Dir = r.dir

	output, err := cmd.CombinedOutput()
	result := &TestResult{
		Passed: err == nil,
		Output: string(output),
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, fmt.Errorf("failed to run test command: %w", err)
		}
	}

	if match := passedPattern.FindStringSubmatch(result.Output); match != nil {
		result.TestsPassed, _ = strconv.Atoi(match[1])
	}
	if match := failedPattern.FindStringSubmatch(result.Output); match != nil {
		result.TestsFailed, _ = strconv.Atoi(match[1])
	}

	return result, nil
}

// StaticTestRunner returns a fixed result; used in tests and dry runs.
type StaticTestRunner struct {
	Result *TestResult
	Err    error
}

// Run implements TestRunner.
func (r *StaticTestRunner) Run(ctx context.Context, tests []string) (*TestResult, error) {
	return r.Result, r.Err
}
