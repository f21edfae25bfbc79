package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"stagehand/internal/drift"
	"stagehand/internal/printer"
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Compare the workspace against the drift baseline",
	Long: `Compares the current state of the tracked files, dependency manifests,
and configuration against the captured baseline, classifies the total
change count into a severity, and exits non-zero on high or critical
severity.

Examples:
  # Capture the baseline
  stagehand drift baseline

  # Compare against it
  stagehand drift`,
	Args: cobra.NoArgs,
	RunE: runDriftCompare,
}

var driftBaselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Capture the current state as the drift baseline",
	Args:  cobra.NoArgs,
	RunE:  runDriftBaseline,
}

func init() {
	driftCmd.AddCommand(driftBaselineCmd)
	rootCmd.AddCommand(driftCmd)
}

func runDriftBaseline(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}

	detector := env.driftDetector()
	snap, err := detector.Capture()
	if err != nil {
		return printer.Error("failed to capture drift baseline", err.Error(), nil)
	}
	if err := detector.SaveBaseline(snap); err != nil {
		return err
	}

	printer.Success("captured drift baseline (%d files tracked)\n", len(snap.Files))
	return nil
}

func runDriftCompare(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}

	report, err := env.driftDetector().Check()
	if report == nil {
		return printer.Error(
			"drift check failed",
			err.Error(),
			[]string{"Capture a baseline first:\n  stagehand drift baseline"},
		)
	}

	printDriftReport(report)

	var sevErr *drift.SeverityError
	if errors.As(err, &sevErr) {
		return printer.Error(
			fmt.Sprintf("drift severity is %s", report.Severity),
			fmt.Sprintf("%d changes since the baseline exceed the configured thresholds.", report.TotalChanges()),
			[]string{
				"Review the changes and re-capture the baseline:\n  stagehand drift baseline",
				"Or restore a rollback point:\n  stagehand rollback list",
			},
		)
	}
	return err
}

func printDriftReport(report *drift.Report) {
	printer.Info("drift since baseline: %d change(s), severity %s\n", report.TotalChanges(), report.Severity)
	for _, path := range report.Added {
		printer.Info("  + %s\n", path)
	}
	for _, path := range report.Modified {
		printer.Info("  ~ %s\n", path)
	}
	for _, path := range report.Deleted {
		printer.Info("  - %s\n", path)
	}
	for _, manifest := range report.ManifestsChanged {
		printer.Warning("manifest changed: %s\n", manifest)
	}
	if report.ConfigChanged {
		printer.Warning("stagehand.yml changed since baseline\n")
	}
}
