package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"stagehand/internal/gate"
	"stagehand/internal/printer"
)

var gateCheckOnly bool

var gateCmd = &cobra.Command{
	Use:   "gate PHASE STORY_ID",
	Short: "Evaluate a quality gate and advance the story on pass",
	Long: `Evaluates the gate guarding the named phase for a story and, when every
check passes, advances the story to the next phase.

Phases and their gates:
  planning     valid plan document, required artifacts present
  development  grounding bundle current, references and post-conditions hold
  qa           test suite passes

The story must currently be in the named phase. On refusal the command
exits non-zero and prints an itemized report naming each failing check
with its reason and a remediation hint.

Examples:
  stagehand gate planning S-101
  stagehand gate qa S-101 --check`,
	Args: cobra.ExactArgs(2),
	RunE: runGate,
}

func init() {
	gateCmd.Flags().BoolVar(&gateCheckOnly, "check", false, "Evaluate without advancing the story")
	rootCmd.AddCommand(gateCmd)
}

func phaseFromArg(arg string) (gate.Phase, error) {
	switch arg {
	case "planning":
		return gate.PhasePlanning, nil
	case "dev", "development":
		return gate.PhaseDevelopment, nil
	case "qa":
		return gate.PhaseQA, nil
	default:
		return "", fmt.Errorf("unknown phase '%s' (expected planning, development, or qa)", arg)
	}
}

func runGate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := loadEnv()
	if err != nil {
		return err
	}

	phase, err := phaseFromArg(args[0])
	if err != nil {
		return printer.Error("invalid phase", err.Error(), nil)
	}
	storyID := args[1]

	controller, err := env.gateController()
	if err != nil {
		return err
	}

	state, err := controller.Status(storyID)
	if err != nil {
		return err
	}
	if state.Phase != phase {
		return printer.ErrorWithContext(
			"story is not in the requested phase",
			fmt.Sprintf("Story '%s' is in phase '%s'; the %s gate does not apply.", storyID, state.Phase, phase),
			map[string]string{"Current phase": string(state.Phase)},
			[]string{fmt.Sprintf("Run the gate for the current phase:\n  stagehand gate %s %s", state.Phase, storyID)},
		)
	}

	var report *gate.Report
	if gateCheckOnly {
		report, err = controller.Evaluate(ctx, storyID)
	} else {
		report, err = controller.Advance(ctx, storyID)
	}

	if report != nil {
		printGateReport(report)
	}

	var failure *gate.FailureError
	if errors.As(err, &failure) {
		return printer.Error(
			fmt.Sprintf("gate %s refused for story '%s'", phase, storyID),
			fmt.Sprintf("%d of %d checks failed.", len(failure.Failed), len(report.Results)),
			nil,
		)
	}
	if err != nil {
		return err
	}

	if gateCheckOnly {
		if !report.Passed {
			return printer.Error(
				fmt.Sprintf("gate %s would refuse story '%s'", phase, storyID),
				"See the report above for the failing checks.",
				nil,
			)
		}
		printer.Success("gate %s would pass for story '%s'\n", phase, storyID)
		return nil
	}

	printer.Success("story '%s' advanced from %s to %s\n", storyID, report.From, report.To)
	return nil
}

// printGateReport renders the itemized check outcomes.
func printGateReport(report *gate.Report) {
	printer.Info("Gate %s -> %s for story '%s':\n", report.From, report.To, report.StoryID)
	for _, result := range report.Results {
		if result == nil {
			continue
		}
		if result.Passed {
			printer.CheckPassed(result.Name)
		} else {
			printer.CheckFailed(result.Name, result.Reason, result.Hint)
		}
	}
}
