package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"stagehand/internal/printer"
	"stagehand/internal/workspace"
)

var initInstanceName string

const defaultConfig = `version: "1.0"

# engine:
#   decompose_threshold: 5
#
# locks:
#   backend: file          # or redis
#   timeout_seconds: 1800
#
# drift:
#   tracked:
#     - src
#   thresholds:
#     medium: 5
#     high: 10
#     critical: 20
#
# gates:
#   contract_dir: contracts
#   test_command: ["go", "test", "./..."]
#
# rollback:
#   reset_revision: false
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a stagehand workspace in the current directory",
	Long: `Creates stagehand.yml with commented defaults and the .stagehand/
state directory tree. Refuses to overwrite an existing configuration.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initInstanceName, "name", "n", "", "Instance name used to namespace shared backends")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine working directory: %w", err)
	}

	configPath := filepath.Join(cwd, workspace.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil {
		return printer.Error(
			"workspace already initialized",
			fmt.Sprintf("%s already exists.", configPath),
			[]string{"Edit the existing file instead of re-initializing"},
		)
	}

	content := defaultConfig
	if initInstanceName != "" {
		if err := workspace.ValidateInstanceName(initInstanceName); err != nil {
			return printer.Error("invalid instance name", err.Error(), nil)
		}
		content = fmt.Sprintf("version: \"1.0\"\ninstance: %s\n%s", initInstanceName, defaultConfig[len("version: \"1.0\"\n"):])
	}

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}

	ws := &workspace.Workspace{Root: cwd}
	if err := ws.EnsureStateDirs(); err != nil {
		return err
	}

	printer.Success("Initialized stagehand workspace in %s\n", cwd)
	printer.Info("  config: %s\n", configPath)
	printer.Info("  state:  %s\n", ws.StateDir())
	return nil
}
