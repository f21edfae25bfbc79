package gate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stagehand/internal/bundle"
	"stagehand/internal/collab"
	"stagehand/pkg/task"
)

// CheckKind separates checks that only read workspace state from checks
// that run external commands. Read-only checks may run concurrently;
// side-effecting checks always run sequentially, after the read-only set.
type CheckKind string

const (
	KindReadOnly   CheckKind = "readonly"
	KindSideEffect CheckKind = "sideeffect"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name   string
	Passed bool
	Reason string
	Hint   string
}

func pass(name string) *CheckResult {
	return &CheckResult{Name: name, Passed: true}
}

func fail(name, reason, hint string) *CheckResult {
	return &CheckResult{Name: name, Reason: reason, Hint: hint}
}

// Check is a single gate condition evaluated against a story's contract.
type Check interface {
	Name() string
	Kind() CheckKind
	Run(ctx context.Context, c *collab.Contract) *CheckResult
}

// PlanCheck verifies that the story's planning artifact exists and is a
// valid task document.
type PlanCheck struct {
	Root string
}

func (p *PlanCheck) Name() string    { return "plan" }
func (p *PlanCheck) Kind() CheckKind { return KindReadOnly }

func (p *PlanCheck) Run(ctx context.Context, c *collab.Contract) *CheckResult {
	path := filepath.Join(p.Root, c.PlanPath)
	if _, err := task.Load(path); err != nil {
		return fail(p.Name(),
			fmt.Sprintf("plan %s is not a valid task document: %v", c.PlanPath, err),
			"fix the task document and re-run the gate")
	}
	return pass(p.Name())
}

// ArtifactCheck verifies that every required artifact exists.
type ArtifactCheck struct {
	Root string
}

func (a *ArtifactCheck) Name() string    { return "artifacts" }
func (a *ArtifactCheck) Kind() CheckKind { return KindReadOnly }

func (a *ArtifactCheck) Run(ctx context.Context, c *collab.Contract) *CheckResult {
	var missing []string
	for _, artifact := range c.RequiredArtifacts {
		if _, err := os.Stat(filepath.Join(a.Root, artifact)); err != nil {
			missing = append(missing, artifact)
		}
	}
	if len(missing) > 0 {
		return fail(a.Name(),
			fmt.Sprintf("missing required artifacts: %s", strings.Join(missing, ", ")),
			"produce the listed artifacts before advancing")
	}
	return pass(a.Name())
}

// GroundingCheck verifies that the story has a current grounding bundle and
// that every contract reference resolves: the file exists and, when a symbol
// is named, the file mentions it.
type GroundingCheck struct {
	Root    string
	Bundles *bundle.Store
}

func (g *GroundingCheck) Name() string    { return "grounding" }
func (g *GroundingCheck) Kind() CheckKind { return KindReadOnly }

func (g *GroundingCheck) Run(ctx context.Context, c *collab.Contract) *CheckResult {
	b, err := g.Bundles.Latest(c.StoryID)
	if err != nil {
		return fail(g.Name(), fmt.Sprintf("failed to load grounding bundle: %v", err), "")
	}
	if b == nil {
		return fail(g.Name(),
			fmt.Sprintf("no grounding bundle exists for story '%s'", c.StoryID),
			"run 'stagehand bundle create' for this story")
	}
	if b.Invalidated != nil {
		return fail(g.Name(),
			fmt.Sprintf("latest grounding bundle for story '%s' was invalidated: %s", c.StoryID, b.Invalidated.Reason),
			"create a superseding bundle")
	}

	for _, ref := range c.References {
		path := filepath.Join(g.Root, ref.File)
		data, err := os.ReadFile(path)
		if err != nil {
			if b.DeclaresCreated(ref.File) {
				// The bundle declared the file as newly created, so its
				// absence before development finishes is expected.
				continue
			}
			return fail(g.Name(),
				fmt.Sprintf("reference %s does not exist and is not declared as created", ref.File),
				"add the file or declare it in the bundle's created set")
		}
		if ref.Symbol != "" && !strings.Contains(string(data), ref.Symbol) {
			return fail(g.Name(),
				fmt.Sprintf("reference %s does not contain symbol '%s'", ref.File, ref.Symbol),
				"update the contract reference or restore the symbol")
		}
	}
	return pass(g.Name())
}

// PostConditionCheck verifies each declared post-condition: the path exists
// and contains the marker string when one is declared.
type PostConditionCheck struct {
	Root string
}

func (p *PostConditionCheck) Name() string    { return "post-conditions" }
func (p *PostConditionCheck) Kind() CheckKind { return KindReadOnly }

func (p *PostConditionCheck) Run(ctx context.Context, c *collab.Contract) *CheckResult {
	for _, pc := range c.PostConditions {
		data, err := os.ReadFile(filepath.Join(p.Root, pc.Path))
		if err != nil {
			return fail(p.Name(),
				fmt.Sprintf("post-condition '%s': %s does not exist", pc.Name, pc.Path),
				"")
		}
		if pc.MustContain != "" && !strings.Contains(string(data), pc.MustContain) {
			return fail(p.Name(),
				fmt.Sprintf("post-condition '%s': %s does not contain '%s'", pc.Name, pc.Path, pc.MustContain),
				"")
		}
	}
	return pass(p.Name())
}

// TestCheck runs the story's test suite through the configured runner.
// Running tests executes external commands, so this check is side-effecting.
type TestCheck struct {
	Runner collab.TestRunner
}

func (t *TestCheck) Name() string    { return "tests" }
func (t *TestCheck) Kind() CheckKind { return KindSideEffect }

func (t *TestCheck) Run(ctx context.Context, c *collab.Contract) *CheckResult {
	result, err := t.Runner.Run(ctx, c.Tests)
	if err != nil {
		return fail(t.Name(), fmt.Sprintf("test runner failed: %v", err), "")
	}
	if !result.Passed {
		return fail(t.Name(),
			fmt.Sprintf("tests failed (%d passed, %d failed)", result.TestsPassed, result.TestsFailed),
			"fix the failing tests and re-run the gate")
	}
	return pass(t.Name())
}
