package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"stagehand/internal/engine"
	"stagehand/internal/printer"
	"stagehand/pkg/task"
)

var runInputs []string

var runCmd = &cobra.Command{
	Use:   "run TASK_FILE",
	Short: "Execute a task document",
	Long: `Loads a task document (YAML, multi-document streams allowed), validates
it against the task schema, and executes every task in order.

Steps run in declared order; actions run in declared order within each
step. When a task reaches an interactive action the execution suspends
and prints a resumption token for 'stagehand resume'.

Examples:
  # Run a task document
  stagehand run tasks/deploy.yml

  # Seed the execution context
  stagehand run tasks/deploy.yml --input env=staging --input region=eu`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "Initial execution context entry (key=value, repeatable)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := loadEnv()
	if err != nil {
		return err
	}

	initial, err := parseKeyValues(runInputs)
	if err != nil {
		return printer.Error("invalid --input", err.Error(), []string{"Use the form --input key=value"})
	}

	results, err := task.LoadAll(args[0])
	if err != nil {
		return printer.Error("failed to load task document", err.Error(), nil)
	}

	var defs []*task.TaskDefinition
	for _, result := range results {
		if result.Err != nil {
			return printer.ErrorWithContext(
				"task document is invalid",
				result.Err.Error(),
				map[string]string{"Document": result.Document},
				[]string{"Fix the listed violations and re-run"},
			)
		}
		defs = append(defs, result.Task)
	}
	if len(defs) == 0 {
		return printer.Error("no tasks found", fmt.Sprintf("%s contains no task documents.", args[0]), nil)
	}

	eng, closeEnv, err := env.executionEngine(ctx, defaultHolder())
	if err != nil {
		return err
	}
	defer closeEnv()

	for _, def := range defs {
		printer.Step("Running task %s: %s\n", def.ID, def.Name)

		exec, err := eng.Execute(ctx, def, initial)
		if err != nil {
			if exec != nil {
				printExecution(exec)
			}
			return printer.ErrorWithContext(
				fmt.Sprintf("task %s failed", def.ID),
				err.Error(),
				executionFailure(err),
				nil,
			)
		}

		printExecution(exec)
		if exec.Status == engine.StatusAwaitingInput {
			printer.Warning("Execution suspended awaiting input: %s\n", exec.Suspended.Prompt)
			printer.Info("Resume with:\n  stagehand resume %s --input value=...\n", exec.ResumptionToken)
			return nil
		}
	}

	return nil
}

// printExecution renders per-step status for a finished or suspended run.
func printExecution(exec *engine.Execution) {
	for _, step := range exec.Steps {
		switch step.Status {
		case engine.StatusCompleted:
			printer.Success("step %s\n", step.Name)
		case engine.StatusFailed:
			printer.Warning("step %s failed: %s\n", step.Name, step.Error)
		case engine.StatusSkipped:
			printer.Info("  - step %s skipped\n", step.Name)
		}
		if len(step.SubTasks) > 0 {
			printer.Info("    decomposed into %d sub-tasks\n", len(step.SubTasks))
		}
	}
	printer.Info("execution %s: %s\n", exec.ID, exec.Status)
}

// executionFailure extracts the failing step and action for error context.
func executionFailure(err error) map[string]string {
	var execErr *engine.ExecutionError
	if !errors.As(err, &execErr) {
		return nil
	}
	return map[string]string{
		"Step":   execErr.StepName,
		"Action": fmt.Sprintf("%d (%s)", execErr.ActionIndex, execErr.Description),
	}
}
