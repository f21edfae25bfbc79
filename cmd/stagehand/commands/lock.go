package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"stagehand/internal/lock"
	"stagehand/internal/printer"
)

var lockHolder string

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Manage advisory resource locks",
	Long: `Advisory locks serialize access to shared resources (files, directories,
deploy targets) between concurrent executors. Locks are held by a named
holder and expire after the configured timeout, at which point they can
be reclaimed or cleaned up.`,
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire RESOURCE",
	Short: "Acquire a lock on a resource",
	Long: `Acquires an advisory lock. Acquiring a lock you already hold is a no-op.
If another holder has the resource, the command reports who holds it and
for how long.

Examples:
  stagehand lock acquire src/auth.go
  stagehand lock acquire deploy/staging --holder ci-runner-3`,
	Args: cobra.ExactArgs(1),
	RunE: runLockAcquire,
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release RESOURCE",
	Short: "Release a lock you hold",
	Args:  cobra.ExactArgs(1),
	RunE:  runLockRelease,
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List all held locks",
	Args:  cobra.NoArgs,
	RunE:  runLockStatus,
}

var lockCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired locks",
	Args:  cobra.NoArgs,
	RunE:  runLockCleanup,
}

func init() {
	lockCmd.PersistentFlags().StringVar(&lockHolder, "holder", "", "Holder identity (defaults to hostname-pid)")
	lockCmd.AddCommand(lockAcquireCmd, lockReleaseCmd, lockStatusCmd, lockCleanupCmd)
	rootCmd.AddCommand(lockCmd)
}

func holderOrDefault() string {
	if lockHolder != "" {
		return lockHolder
	}
	return defaultHolder()
}

func runLockAcquire(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := loadEnv()
	if err != nil {
		return err
	}
	manager, closeBackend, err := env.lockManager(ctx)
	if err != nil {
		return err
	}
	defer closeBackend()

	l, err := manager.Acquire(ctx, args[0], holderOrDefault())
	if err != nil {
		var conflict *lock.ConflictError
		if errors.As(err, &conflict) {
			return printer.ErrorWithContext(
				"resource is locked",
				err.Error(),
				map[string]string{
					"Resource": conflict.Resource,
					"Holder":   conflict.Holder,
					"Held for": conflict.Age.Round(time.Second).String(),
				},
				[]string{
					"Wait for the holder to release it",
					"Remove expired locks:\n  stagehand lock cleanup",
				},
			)
		}
		return err
	}

	printer.Success("acquired lock on %s (holder: %s)\n", l.Resource, l.Holder)
	return nil
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := loadEnv()
	if err != nil {
		return err
	}
	manager, closeBackend, err := env.lockManager(ctx)
	if err != nil {
		return err
	}
	defer closeBackend()

	holder := holderOrDefault()
	if err := manager.Release(ctx, args[0], holder); err != nil {
		var notOwner *lock.NotOwnerError
		if errors.As(err, &notOwner) {
			return printer.Error(
				"cannot release a lock you do not hold",
				err.Error(),
				[]string{fmt.Sprintf("Release as the actual holder:\n  stagehand lock release %s --holder <holder>", args[0])},
			)
		}
		return err
	}

	printer.Success("released lock on %s\n", args[0])
	return nil
}

func runLockStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := loadEnv()
	if err != nil {
		return err
	}
	manager, closeBackend, err := env.lockManager(ctx)
	if err != nil {
		return err
	}
	defer closeBackend()

	locks, err := manager.Status(ctx)
	if err != nil {
		return err
	}
	if len(locks) == 0 {
		printer.Info("no locks held\n")
		return nil
	}

	now := time.Now().UTC()
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("RESOURCE", "HOLDER", "AGE", "EXPIRED")
	for _, l := range locks {
		expired := ""
		if l.Expired(now) {
			expired = "yes"
		}
		table.Append([]string{l.Resource, l.Holder, l.Age(now).Round(time.Second).String(), expired})
	}
	return table.Render()
}

func runLockCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := loadEnv()
	if err != nil {
		return err
	}
	manager, closeBackend, err := env.lockManager(ctx)
	if err != nil {
		return err
	}
	defer closeBackend()

	removed, err := manager.Cleanup(ctx)
	if err != nil {
		return err
	}

	printer.Success("removed %d expired lock(s)\n", removed)
	return nil
}
