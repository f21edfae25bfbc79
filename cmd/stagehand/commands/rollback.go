package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"stagehand/internal/printer"
	"stagehand/internal/rollback"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Create and restore rollback points",
	Long: `A rollback point is a named snapshot of the tracked files and the
workspace configuration. Restoring a point rewrites every captured file
verbatim and reports per-artifact success or failure; it never partially
succeeds in silence.`,
}

var rollbackCreateCmd = &cobra.Command{
	Use:   "create [NAME]",
	Short: "Capture the current state as a rollback point",
	Long: `Captures the tracked files and stagehand.yml. Without a name, one is
derived from the timestamp.

Examples:
  stagehand rollback create
  stagehand rollback create before-refactor`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRollbackCreate,
}

var rollbackRestoreCmd = &cobra.Command{
	Use:   "rollback NAME",
	Short: "Restore a rollback point",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollbackRestore,
}

var rollbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rollback points, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRollbackList,
}

func init() {
	rollbackCmd.AddCommand(rollbackCreateCmd, rollbackRestoreCmd, rollbackListCmd)
	rootCmd.AddCommand(rollbackCmd)
}

func runRollbackCreate(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}

	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	point, err := env.rollbackManager().Create(name)
	if err != nil {
		return printer.Error("failed to create rollback point", err.Error(), nil)
	}

	printer.Success("created rollback point '%s' (%d files)\n", point.Name, len(point.Files))
	return nil
}

func runRollbackRestore(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}

	result, err := env.rollbackManager().Execute(args[0])
	if err != nil {
		var rbErr *rollback.Error
		if errors.As(err, &rbErr) {
			printArtifacts(rbErr.Artifacts)
			return printer.Error(
				fmt.Sprintf("rollback to '%s' failed", rbErr.PointName),
				err.Error(),
				[]string{"Resolve the reported conflicts and retry"},
			)
		}
		return err
	}

	printArtifacts(result.Artifacts)
	for _, failure := range result.HookFailures {
		printer.Warning("hook failed: %s\n", failure)
	}
	if result.RevisionSet {
		printer.Info("revision reset to the captured marker\n")
	}
	printer.Success("restored rollback point '%s'\n", result.PointName)
	return nil
}

func printArtifacts(artifacts []rollback.ArtifactStatus) {
	for _, a := range artifacts {
		if a.Restored {
			printer.CheckPassed(a.Path)
		} else {
			printer.CheckFailed(a.Path, a.Reason, "")
		}
	}
}

func runRollbackList(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}

	points, err := env.rollbackManager().List()
	if err != nil {
		return err
	}
	if len(points) == 0 {
		printer.Info("no rollback points\n")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("NAME", "CREATED", "FILES", "REVISION")
	for _, p := range points {
		table.Append([]string{p.Name, p.CreatedAt.Format(time.RFC3339), fmt.Sprintf("%d", len(p.Files)), p.Revision})
	}
	return table.Render()
}
