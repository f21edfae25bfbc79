package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"stagehand/internal/bundle"
	"stagehand/internal/printer"
)

var (
	bundleArtifacts  []string
	bundleFiles      []string
	bundleTests      []string
	invalidateReason string
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Manage grounding bundles",
	Long: `A grounding bundle records, per story, which artifact versions the work
is grounded on and which files it creates or touches. Bundles are
immutable: correcting one means invalidating it with a reason, which
produces a superseding version. Old versions are kept for audit.`,
}

var bundleCreateCmd = &cobra.Command{
	Use:   "create STORY_ID",
	Short: "Create the first bundle for a story",
	Long: `Creates version 1 of a story's grounding bundle. A story with an
existing bundle must be invalidated instead.

Artifact references use path:version:hash form.

Examples:
  stagehand bundle create S-101 \
    --artifact docs/plan.md:3:abc123 \
    --file src/login.go --test src/login_test.go`,
	Args: cobra.ExactArgs(1),
	RunE: runBundleCreate,
}

var bundleListCmd = &cobra.Command{
	Use:   "list [STORY_ID]",
	Short: "List bundles, optionally for one story",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBundleList,
}

var bundleInvalidateCmd = &cobra.Command{
	Use:   "invalidate STORY_ID",
	Short: "Invalidate the latest bundle and create a superseding version",
	Long: `Marks the story's latest bundle invalidated with the given reason and
creates the next version from the provided artifacts. The invalidated
version is kept.

Examples:
  stagehand bundle invalidate S-101 --reason "contract changed" \
    --artifact docs/plan.md:4:def456`,
	Args: cobra.ExactArgs(1),
	RunE: runBundleInvalidate,
}

func init() {
	for _, c := range []*cobra.Command{bundleCreateCmd, bundleInvalidateCmd} {
		c.Flags().StringArrayVar(&bundleArtifacts, "artifact", nil, "Artifact reference path:version:hash (repeatable)")
		c.Flags().StringArrayVar(&bundleFiles, "file", nil, "File the story creates or touches (repeatable)")
		c.Flags().StringArrayVar(&bundleTests, "test", nil, "Test the story adds (repeatable)")
	}
	bundleInvalidateCmd.Flags().StringVar(&invalidateReason, "reason", "", "Why the bundle is invalid (required)")

	bundleCmd.AddCommand(bundleCreateCmd, bundleListCmd, bundleInvalidateCmd)
	rootCmd.AddCommand(bundleCmd)
}

func parseArtifactRefs(specs []string) ([]bundle.ArtifactRef, error) {
	refs := make([]bundle.ArtifactRef, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf("invalid artifact reference '%s': expected path:version:hash", spec)
		}
		refs = append(refs, bundle.ArtifactRef{Path: parts[0], Version: parts[1], Hash: parts[2]})
	}
	return refs, nil
}

func runBundleCreate(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	store, err := env.bundleStore()
	if err != nil {
		return err
	}

	refs, err := parseArtifactRefs(bundleArtifacts)
	if err != nil {
		return printer.Error("invalid --artifact", err.Error(), nil)
	}

	b, err := store.Create(args[0], refs, bundleFiles, bundleTests)
	if err != nil {
		return printer.Error(
			"failed to create bundle",
			err.Error(),
			[]string{fmt.Sprintf("To supersede an existing bundle:\n  stagehand bundle invalidate %s --reason \"...\"", args[0])},
		)
	}

	printer.Success("created bundle v%d for story '%s' (%s)\n", b.Version, b.StoryID, b.ID)
	return nil
}

func runBundleInvalidate(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	store, err := env.bundleStore()
	if err != nil {
		return err
	}

	if invalidateReason == "" {
		return printer.Error(
			"a reason is required",
			"Invalidating a bundle records why it was wrong; that record is kept for audit.",
			[]string{"Pass one:\n  stagehand bundle invalidate " + args[0] + " --reason \"contract changed\""},
		)
	}

	refs, err := parseArtifactRefs(bundleArtifacts)
	if err != nil {
		return printer.Error("invalid --artifact", err.Error(), nil)
	}

	next, err := store.Invalidate(args[0], invalidateReason, refs, bundleFiles, bundleTests)
	if err != nil {
		return printer.Error("failed to invalidate bundle", err.Error(), nil)
	}

	printer.Success("bundle for story '%s' superseded by v%d\n", args[0], next.Version)
	return nil
}

func runBundleList(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	store, err := env.bundleStore()
	if err != nil {
		return err
	}

	stories := args
	if len(stories) == 0 {
		stories, err = store.Stories()
		if err != nil {
			return err
		}
	}
	if len(stories) == 0 {
		printer.Info("no bundles\n")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("STORY", "VERSION", "CREATED", "STATUS")
	for _, story := range stories {
		versions, err := store.Versions(story)
		if err != nil {
			return err
		}
		for _, version := range versions {
			b, err := store.Get(story, version)
			if err != nil {
				return err
			}
			if b == nil {
				continue
			}
			status := "current"
			if b.Invalidated != nil {
				status = fmt.Sprintf("invalidated: %s", b.Invalidated.Reason)
			}
			table.Append([]string{b.StoryID, fmt.Sprintf("v%d", b.Version), b.CreatedAt.Format(time.RFC3339), status})
		}
	}
	return table.Render()
}
