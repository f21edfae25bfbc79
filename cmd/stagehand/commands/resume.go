package commands

import (
	"context"

	"github.com/spf13/cobra"

	"stagehand/internal/engine"
	"stagehand/internal/printer"
)

var resumeInputs []string

var resumeCmd = &cobra.Command{
	Use:   "resume TOKEN",
	Short: "Resume a suspended execution",
	Long: `Resumes an execution that suspended on an interactive action. The token
was printed when the execution suspended and is stored in the execution
record under .stagehand/executions/.

The provided inputs become the interactive action's result and are stored
in the execution context under the suspended step's "input" key.

Examples:
  stagehand resume 4f2c... --input value=approved`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringArrayVarP(&resumeInputs, "input", "i", nil, "Input entry (key=value, repeatable)")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := loadEnv()
	if err != nil {
		return err
	}

	input, err := parseKeyValues(resumeInputs)
	if err != nil {
		return printer.Error("invalid --input", err.Error(), []string{"Use the form --input key=value"})
	}

	eng, closeEnv, err := env.executionEngine(ctx, defaultHolder())
	if err != nil {
		return err
	}
	defer closeEnv()

	// A single "value" entry resumes with that scalar; anything else
	// resumes with the full map.
	var resumeWith any
	if len(input) == 1 {
		if v, ok := input["value"]; ok {
			resumeWith = v
		}
	}
	if resumeWith == nil && input != nil {
		resumeWith = input
	}

	exec, err := eng.Resume(ctx, args[0], resumeWith)
	if err != nil {
		if exec != nil {
			printExecution(exec)
		}
		return printer.ErrorWithContext("resume failed", err.Error(), executionFailure(err), nil)
	}

	printExecution(exec)
	if exec.Status == engine.StatusAwaitingInput {
		printer.Warning("Execution suspended again: %s\n", exec.Suspended.Prompt)
		printer.Info("Resume with:\n  stagehand resume %s --input value=...\n", exec.ResumptionToken)
	}
	return nil
}
