package gate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/bundle"
	"stagehand/internal/collab"
)

const planYAML = `id: task-login
name: Implement login flow
steps:
  - name: implement
    actions:
      - description: write the handler
        operation: file.write
        params:
          path: src/login.go
`

type fixture struct {
	root       string
	controller *Controller
	bundles    *bundle.Store
	runner     *collab.StaticTestRunner
}

func newFixture(t *testing.T, contract string) *fixture {
	t.Helper()
	root := t.TempDir()

	contractDir := filepath.Join(root, "contracts")
	require.NoError(t, os.MkdirAll(contractDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(contractDir, "S-1.yml"), []byte(contract), 0644))

	store, err := NewStore(filepath.Join(root, ".stagehand", "phases"))
	require.NoError(t, err)

	bundles, err := bundle.NewStore(filepath.Join(root, ".stagehand", "bundles"))
	require.NoError(t, err)

	runner := &collab.StaticTestRunner{Result: &collab.TestResult{Passed: true}}

	controller := NewController(
		store,
		collab.NewFileContractProvider(contractDir),
		&PlanCheck{Root: root},
		&ArtifactCheck{Root: root},
		&GroundingCheck{Root: root, Bundles: bundles},
		&PostConditionCheck{Root: root},
		&TestCheck{Runner: runner},
	)

	return &fixture{root: root, controller: controller, bundles: bundles, runner: runner}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestAdvance_PlanningGatePasses(t *testing.T) {
	f := newFixture(t, `story_id: S-1
plan: stories/S-1/plan.yml
required_artifacts:
  - docs/design.md
`)
	writeFile(t, f.root, "stories/S-1/plan.yml", planYAML)
	writeFile(t, f.root, "docs/design.md", "# design\n")

	report, err := f.controller.Advance(context.Background(), "S-1")
	require.NoError(t, err)
	assert.True(t, report.Passed)

	state, err := f.controller.Status("S-1")
	require.NoError(t, err)
	assert.Equal(t, PhaseDevelopment, state.Phase)
	require.Len(t, state.History, 1)
	assert.Equal(t, PhasePlanning, state.History[0].From)
}

func TestAdvance_PlanningGateRefusedOnInvalidPlan(t *testing.T) {
	f := newFixture(t, `story_id: S-1
plan: stories/S-1/plan.yml
`)
	writeFile(t, f.root, "stories/S-1/plan.yml", "id: task-1\n")

	report, err := f.controller.Advance(context.Background(), "S-1")
	require.Error(t, err)

	var failure *FailureError
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.Failed, 1)
	assert.Equal(t, "plan", failure.Failed[0].Name)
	assert.False(t, report.Passed)

	// The story stays in planning.
	state, err := f.controller.Status("S-1")
	require.NoError(t, err)
	assert.Equal(t, PhasePlanning, state.Phase)
}

func TestAdvance_DevelopmentGateCitesOnlyFailingChecks(t *testing.T) {
	f := newFixture(t, `story_id: S-1
plan: stories/S-1/plan.yml
references:
  - file: src/auth.go
    symbol: ValidateToken
post_conditions:
  - name: handler exists
    path: src/login.go
    must_contain: func HandleLogin
`)
	writeFile(t, f.root, "stories/S-1/plan.yml", planYAML)

	// Move to development.
	_, err := f.controller.Advance(context.Background(), "S-1")
	require.NoError(t, err)

	// Post-conditions are satisfied; grounding is not (no bundle exists).
	writeFile(t, f.root, "src/login.go", "package src\n\nfunc HandleLogin() {}\n")
	writeFile(t, f.root, "src/auth.go", "package src\n\nfunc ValidateToken() {}\n")

	_, err = f.controller.Advance(context.Background(), "S-1")
	require.Error(t, err)

	var failure *FailureError
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.Failed, 1)
	assert.Equal(t, "grounding", failure.Failed[0].Name)
	assert.Contains(t, failure.Failed[0].Reason, "no grounding bundle")
	assert.Contains(t, failure.Failed[0].Hint, "stagehand bundle create")
}

func TestAdvance_GroundingAcceptsDeclaredCreatedFiles(t *testing.T) {
	f := newFixture(t, `story_id: S-1
plan: stories/S-1/plan.yml
references:
  - file: src/new_feature.go
`)
	writeFile(t, f.root, "stories/S-1/plan.yml", planYAML)

	_, err := f.controller.Advance(context.Background(), "S-1")
	require.NoError(t, err)

	// The referenced file does not exist yet, but the bundle declares it
	// as created by this story.
	_, err = f.bundles.Create("S-1", []bundle.ArtifactRef{{Path: "stories/S-1/plan.yml", Version: "1", Hash: "abc"}}, []string{"src/new_feature.go"}, nil)
	require.NoError(t, err)

	report, err := f.controller.Advance(context.Background(), "S-1")
	require.NoError(t, err)
	assert.True(t, report.Passed)
}

func TestAdvance_QAGateRunsTests(t *testing.T) {
	f := newFixture(t, `story_id: S-1
plan: stories/S-1/plan.yml
tests:
  - ./...
`)
	writeFile(t, f.root, "stories/S-1/plan.yml", planYAML)

	ctx := context.Background()
	_, err := f.controller.Advance(ctx, "S-1")
	require.NoError(t, err)

	_, err = f.bundles.Create("S-1", []bundle.ArtifactRef{{Path: "stories/S-1/plan.yml", Version: "1", Hash: "abc"}}, nil, nil)
	require.NoError(t, err)
	_, err = f.controller.Advance(ctx, "S-1")
	require.NoError(t, err)

	// Failing tests refuse the qa gate.
	f.runner.Result = &collab.TestResult{Passed: false, TestsPassed: 3, TestsFailed: 2}
	_, err = f.controller.Advance(ctx, "S-1")
	var failure *FailureError
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.Failed, 1)
	assert.Equal(t, "tests", failure.Failed[0].Name)
	assert.Contains(t, failure.Failed[0].Reason, "3 passed, 2 failed")

	// Passing tests complete the story.
	f.runner.Result = &collab.TestResult{Passed: true, TestsPassed: 5}
	report, err := f.controller.Advance(ctx, "S-1")
	require.NoError(t, err)
	assert.True(t, report.Passed)

	state, err := f.controller.Status("S-1")
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, state.Phase)

	// A done story cannot advance further.
	_, err = f.controller.Advance(ctx, "S-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already done")
}

func TestEvaluate_IsRepeatableWithoutTransition(t *testing.T) {
	f := newFixture(t, `story_id: S-1
plan: stories/S-1/plan.yml
`)
	writeFile(t, f.root, "stories/S-1/plan.yml", planYAML)

	ctx := context.Background()
	first, err := f.controller.Evaluate(ctx, "S-1")
	require.NoError(t, err)
	second, err := f.controller.Evaluate(ctx, "S-1")
	require.NoError(t, err)

	assert.Equal(t, first.Passed, second.Passed)
	assert.Equal(t, first.From, second.From)

	// Evaluate never moves the story.
	state, err := f.controller.Status("S-1")
	require.NoError(t, err)
	assert.Equal(t, PhasePlanning, state.Phase)
}

func TestEvaluate_RunnerErrorFailsTestCheck(t *testing.T) {
	f := newFixture(t, `story_id: S-1
plan: stories/S-1/plan.yml
tests:
  - ./...
`)
	writeFile(t, f.root, "stories/S-1/plan.yml", planYAML)

	ctx := context.Background()
	_, err := f.controller.Advance(ctx, "S-1")
	require.NoError(t, err)
	_, err = f.bundles.Create("S-1", []bundle.ArtifactRef{{Path: "p", Version: "1", Hash: "abc"}}, nil, nil)
	require.NoError(t, err)
	_, err = f.controller.Advance(ctx, "S-1")
	require.NoError(t, err)

	f.runner.Result = nil
	f.runner.Err = assert.AnError
	_, err = f.controller.Advance(ctx, "S-1")
	var failure *FailureError
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.Failed, 1)
	assert.Equal(t, "tests", failure.Failed[0].Name)
	assert.Contains(t, failure.Failed[0].Reason, "test runner failed")
}

func TestEvaluate_SideEffectCheckSkippedAfterReadOnlyFailure(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save(&StoryState{StoryID: "S-1", Phase: PhaseQA}))

	// A failing read-only check sits in front of the test check, so the
	// runner must never run. A runner error would surface as a result.
	runner := &collab.StaticTestRunner{Err: assert.AnError}
	c := &Controller{
		store:     store,
		contracts: staticContracts{&collab.Contract{StoryID: "S-1", PlanPath: "plan.yml"}},
		checks: map[Phase][]Check{
			PhaseQA: {
				&failingCheck{},
				&TestCheck{Runner: runner},
			},
		},
	}

	report, err := c.Evaluate(context.Background(), "S-1")
	require.NoError(t, err)
	assert.False(t, report.Passed)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "skipped: earlier checks failed", report.Results[1].Reason)
}

type staticContracts struct{ c *collab.Contract }

func (s staticContracts) Contract(storyID string) (*collab.Contract, error) { return s.c, nil }

type failingCheck struct{}

func (f *failingCheck) Name() string    { return "always-fails" }
func (f *failingCheck) Kind() CheckKind { return KindReadOnly }
func (f *failingCheck) Run(ctx context.Context, c *collab.Contract) *CheckResult {
	return fail(f.Name(), "intentional failure", "")
}

func TestStore_UnknownStoryStartsInPlanning(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	state, err := store.Get("S-999")
	require.NoError(t, err)
	assert.Equal(t, PhasePlanning, state.Phase)
	assert.Empty(t, state.History)
}

func TestPhase_NextChain(t *testing.T) {
	next, ok := PhasePlanning.Next()
	require.True(t, ok)
	assert.Equal(t, PhaseDevelopment, next)

	next, ok = next.Next()
	require.True(t, ok)
	assert.Equal(t, PhaseQA, next)

	next, ok = next.Next()
	require.True(t, ok)
	assert.Equal(t, PhaseDone, next)

	_, ok = next.Next()
	assert.False(t, ok)
}
