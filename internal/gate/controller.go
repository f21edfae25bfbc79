package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"stagehand/internal/collab"
)

// FailedCheck is one failing condition in a gate report.
type FailedCheck struct {
	Name   string
	Reason string
	Hint   string
}

// FailureError reports a refused transition. It names every failing check
// and only failing checks, so callers can render an itemized report.
type FailureError struct {
	StoryID string
	From    Phase
	To      Phase
	Failed  []FailedCheck
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("gate %s -> %s refused for story '%s': %d check(s) failed",
		e.From, e.To, e.StoryID, len(e.Failed))
}

// Report is the full outcome of a gate evaluation, passing checks included.
type Report struct {
	StoryID string
	From    Phase
	To      Phase
	Results []*CheckResult
	Passed  bool
}

// Controller evaluates gates and advances story phase state. Checks are
// keyed by the phase being exited; a transition happens only when every
// check for that phase passes.
type Controller struct {
	store     *Store
	contracts collab.ContractProvider
	checks    map[Phase][]Check
}

// NewController creates a controller with the standard gate layout:
// leaving planning requires a valid plan and the required artifacts,
// leaving development requires grounding and post-conditions, and
// leaving qa requires a passing test run.
func NewController(store *Store, contracts collab.ContractProvider, plan *PlanCheck, artifacts *ArtifactCheck, grounding *GroundingCheck, postConditions *PostConditionCheck, tests *TestCheck) *Controller {
	return &Controller{
		store:     store,
		contracts: contracts,
		checks: map[Phase][]Check{
			PhasePlanning:    {plan, artifacts},
			PhaseDevelopment: {grounding, postConditions},
			PhaseQA:          {tests},
		},
	}
}

// Status returns the current phase state for a story.
func (c *Controller) Status(storyID string) (*StoryState, error) {
	return c.store.Get(storyID)
}

// Evaluate runs the checks guarding the story's current phase without
// transitioning. Read-only checks run concurrently; side-effecting checks
// run sequentially afterwards, and are skipped entirely when any read-only
// check has already failed. Results are reported in registration order
// regardless of completion order.
func (c *Controller) Evaluate(ctx context.Context, storyID string) (*Report, error) {
	state, err := c.store.Get(storyID)
	if err != nil {
		return nil, err
	}

	next, ok := state.Phase.Next()
	if !ok {
		return nil, fmt.Errorf("story '%s' is already done", storyID)
	}

	contract, err := c.contracts.Contract(storyID)
	if err != nil {
		return nil, err
	}

	checks := c.checks[state.Phase]
	report := &Report{
		StoryID: storyID,
		From:    state.Phase,
		To:      next,
		Results: make([]*CheckResult, len(checks)),
		Passed:  true,
	}

	var wg sync.WaitGroup
	for i, check := range checks {
		if check.Kind() != KindReadOnly {
			continue
		}
		wg.Add(1)
		go func(i int, check Check) {
			defer wg.Done()
			report.Results[i] = check.Run(ctx, contract)
		}(i, check)
	}
	wg.Wait()

	for _, result := range report.Results {
		if result != nil && !result.Passed {
			report.Passed = false
		}
	}

	for i, check := range checks {
		if check.Kind() != KindSideEffect {
			continue
		}
		if !report.Passed {
			report.Results[i] = fail(check.Name(), "skipped: earlier checks failed", "")
			continue
		}
		result := check.Run(ctx, contract)
		report.Results[i] = result
		if !result.Passed {
			report.Passed = false
		}
	}

	c.logEvent("gate_evaluated", map[string]interface{}{
		"story_id": storyID,
		"from":     string(report.From),
		"to":       string(report.To),
		"passed":   report.Passed,
	})

	return report, nil
}

// Advance evaluates the gate for the story's current phase and, when every
// check passes, transitions the story to the next phase. On refusal it
// returns the report alongside a *FailureError naming the failing checks.
//
// The state is refetched before writing; if another process already moved
// the story, the transition is skipped rather than applied twice.
func (c *Controller) Advance(ctx context.Context, storyID string) (*Report, error) {
	report, err := c.Evaluate(ctx, storyID)
	if err != nil {
		return nil, err
	}

	if !report.Passed {
		failure := &FailureError{StoryID: storyID, From: report.From, To: report.To}
		for _, result := range report.Results {
			if result != nil && !result.Passed {
				failure.Failed = append(failure.Failed, FailedCheck{
					Name:   result.Name,
					Reason: result.Reason,
					Hint:   result.Hint,
				})
			}
		}
		return report, failure
	}

	current, err := c.store.Get(storyID)
	if err != nil {
		return nil, err
	}
	if current.Phase != report.From {
		c.logEvent("transition_skipped", map[string]interface{}{
			"story_id":       storyID,
			"expected_phase": string(report.From),
			"actual_phase":   string(current.Phase),
		})
		log.Printf("[Gate] Transition skipped for story %s: phase changed from %s to %s",
			storyID, report.From, current.Phase)
		return report, nil
	}

	now := time.Now().UTC()
	current.Phase = report.To
	current.UpdatedAt = now
	current.History = append(current.History, Transition{From: report.From, To: report.To, At: now})
	if err := c.store.Save(current); err != nil {
		return nil, err
	}

	c.logEvent("phase_transition", map[string]interface{}{
		"story_id": storyID,
		"from":     string(report.From),
		"to":       string(report.To),
	})
	log.Printf("[Gate] Story %s transitioned from %s to %s", storyID, report.From, report.To)

	return report, nil
}

// logEvent emits a structured JSON log line.
func (c *Controller) logEvent(eventType string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"component":  "gate_controller",
		"event_type": eventType,
	}
	for k, v := range fields {
		entry[k] = v
	}
	if data, err := json.Marshal(entry); err == nil {
		log.Println(string(data))
	}
}
