package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Stagehand - multi-phase software delivery orchestrator",
	Long: `Stagehand orchestrates multi-phase software delivery workflows:
declarative task documents executed through a pluggable operation registry,
quality gates between delivery phases, advisory resource locks, drift
detection against a captured baseline, and restorable rollback points.

All durable state lives under .stagehand/ in the workspace root, which is
the nearest ancestor directory containing stagehand.yml.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}
