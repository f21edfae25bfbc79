package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"stagehand/internal/registry"
	"stagehand/pkg/task"
)

// Engine runs task documents against a registry of operations.
type Engine struct {
	registry           *registry.Registry
	store              *Store
	decomposeThreshold int
}

// New creates an engine. Steps with more actions than decomposeThreshold
// are split into sequential sub-tasks during execution.
func New(reg *registry.Registry, store *Store, decomposeThreshold int) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if decomposeThreshold < 2 {
		return nil, fmt.Errorf("decompose threshold must be >= 2, got %d", decomposeThreshold)
	}
	return &Engine{registry: reg, store: store, decomposeThreshold: decomposeThreshold}, nil
}

// Execute runs a task from the beginning. Every operation the task references
// must be registered before the first action runs; an unregistered operation
// fails the run up front. The returned execution is persisted in its final
// state, which is StatusAwaitingInput when the task suspended on an
// interactive action.
func (e *Engine) Execute(ctx context.Context, def *task.TaskDefinition, initial map[string]any) (*Execution, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := e.registry.CheckComplete(def); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	exec := &Execution{
		ID:        uuid.New().String(),
		Task:      *def,
		Status:    StatusRunning,
		Context:   newExecutionContext(def, initial),
		Steps:     newStepRecords(def),
		StartedAt: now,
		UpdatedAt: now,
	}

	e.logEvent("execution_started", map[string]interface{}{
		"execution_id": exec.ID,
		"task_id":      def.ID,
		"steps":        len(def.Steps),
	})

	return e.run(ctx, exec, 0, 0)
}

// Resume continues a suspended execution. The input becomes the result of
// the interactive action that caused the suspension and is also stored in
// the execution context under the step's "input" key.
func (e *Engine) Resume(ctx context.Context, token string, input any) (*Execution, error) {
	exec, err := e.store.FindByToken(token)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("no suspended execution found for token '%s'", token)
	}
	if exec.Status != StatusAwaitingInput || exec.Suspended == nil {
		return nil, fmt.Errorf("execution %s is not awaiting input (status: %s)", exec.ID, exec.Status)
	}

	sp := exec.Suspended
	step := exec.Task.Steps[sp.StepIndex]
	action := &exec.Steps[sp.StepIndex].Actions[sp.ActionIndex]
	action.Status = StatusCompleted
	action.Result = input

	stepCtx := stepContext(exec, step.Name)
	stepCtx["input"] = input
	resultsFor(stepCtx)[fmt.Sprintf("%d", sp.ActionIndex+1)] = input

	exec.ResumptionToken = ""
	exec.Suspended = nil
	exec.Status = StatusRunning

	e.logEvent("execution_resumed", map[string]interface{}{
		"execution_id": exec.ID,
		"task_id":      exec.Task.ID,
		"step":         step.Name,
	})

	return e.run(ctx, exec, sp.StepIndex, sp.ActionIndex+1)
}

// Get returns a persisted execution by ID.
func (e *Engine) Get(id string) (*Execution, error) {
	return e.store.Get(id)
}

// run executes steps in declared order starting at (startStep, startAction).
func (e *Engine) run(ctx context.Context, exec *Execution, startStep, startAction int) (*Execution, error) {
	for si := startStep; si < len(exec.Task.Steps); si++ {
		step := exec.Task.Steps[si]
		rec := &exec.Steps[si]

		e.maybeDecompose(exec, si)
		rec.Status = StatusRunning

		firstAction := 0
		if si == startStep {
			firstAction = startAction
		}

		stepFailed := false
		for ai := firstAction; ai < len(step.Actions); ai++ {
			if err := ctx.Err(); err != nil {
				return e.cancel(exec, si, ai, err)
			}

			action := step.Actions[ai]
			arec := &rec.Actions[ai]

			if action.Interactive {
				return e.suspend(exec, si, ai, action.Description)
			}

			// Documentation-only actions carry no operation.
			if action.Operation == "" {
				arec.Status = StatusCompleted
				if err := e.maybeCheckpoint(exec, si, ai); err != nil {
					return nil, err
				}
				continue
			}

			arec.Status = StatusRunning
			result, err := e.registry.Invoke(ctx, action.Operation, action.Params, exec.Context)
			if err != nil {
				arec.Status = StatusFailed
				arec.Error = err.Error()

				execErr := &ExecutionError{
					TaskID:      exec.Task.ID,
					StepName:    step.Name,
					ActionIndex: ai + 1,
					Description: action.Description,
					Err:         err,
				}
				skipActions(rec, ai+1)
				rec.Status = StatusFailed
				rec.Error = execErr.Error()

				if step.ContinueOnError {
					e.logEvent("step_failed_continuing", map[string]interface{}{
						"execution_id": exec.ID,
						"task_id":      exec.Task.ID,
						"step":         step.Name,
						"action":       ai + 1,
						"error":        err.Error(),
					})
					log.Printf("[Engine] Step %s failed, continuing: %v", step.Name, execErr)
					stepFailed = true
					break
				}

				return e.fail(exec, si, execErr)
			}

			arec.Status = StatusCompleted
			arec.Result = result
			if result != nil {
				resultsFor(stepContext(exec, step.Name))[fmt.Sprintf("%d", ai+1)] = result
			}

			if err := e.maybeCheckpoint(exec, si, ai); err != nil {
				return nil, err
			}
		}

		if !stepFailed {
			rec.Status = StatusCompleted
		}
	}

	exec.Status = StatusCompleted
	exec.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(exec); err != nil {
		return nil, err
	}

	e.logEvent("execution_completed", map[string]interface{}{
		"execution_id": exec.ID,
		"task_id":      exec.Task.ID,
	})
	log.Printf("[Engine] Execution %s completed for task %s", exec.ID, exec.Task.ID)

	return exec, nil
}

// maybeDecompose splits an oversized step into named sequential sub-tasks.
// The actions still run in declared order; the sub-task names are recorded
// on the step and in the execution context so the split is observable.
func (e *Engine) maybeDecompose(exec *Execution, si int) {
	step := exec.Task.Steps[si]
	rec := &exec.Steps[si]
	if len(step.Actions) <= e.decomposeThreshold || rec.SubTasks != nil {
		return
	}

	count := (len(step.Actions) + e.decomposeThreshold - 1) / e.decomposeThreshold
	names := make([]string, count)
	for i := range names {
		names[i] = fmt.Sprintf("%s.%s.sub-%d", exec.Task.ID, step.Name, i+1)
	}
	rec.SubTasks = names
	stepContext(exec, step.Name)["subtasks"] = names

	e.logEvent("step_decomposed", map[string]interface{}{
		"execution_id": exec.ID,
		"task_id":      exec.Task.ID,
		"step":         step.Name,
		"actions":      len(step.Actions),
		"sub_tasks":    count,
	})
	log.Printf("[Engine] Step %s decomposed into %d sub-tasks (%d actions, threshold %d)",
		step.Name, count, len(step.Actions), e.decomposeThreshold)
}

// maybeCheckpoint persists the execution record when a decomposed step
// finishes a sub-task's worth of actions, so a crash mid-step picks up from
// the last completed sub-task instead of replaying the whole step. The final
// sub-task is covered by the terminal save.
func (e *Engine) maybeCheckpoint(exec *Execution, si, ai int) error {
	rec := &exec.Steps[si]
	done := ai + 1
	if rec.SubTasks == nil || done%e.decomposeThreshold != 0 || done == len(exec.Task.Steps[si].Actions) {
		return nil
	}

	exec.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(exec); err != nil {
		return fmt.Errorf("failed to checkpoint sub-task: %w", err)
	}

	e.logEvent("sub_task_checkpoint", map[string]interface{}{
		"execution_id": exec.ID,
		"task_id":      exec.Task.ID,
		"step":         exec.Task.Steps[si].Name,
		"sub_task":     rec.SubTasks[done/e.decomposeThreshold-1],
		"actions_done": done,
	})
	return nil
}

// suspend persists the execution in an awaiting-input state and mints the
// resumption token.
func (e *Engine) suspend(exec *Execution, si, ai int, prompt string) (*Execution, error) {
	exec.Steps[si].Actions[ai].Status = StatusAwaitingInput
	exec.Status = StatusAwaitingInput
	exec.ResumptionToken = uuid.New().String()
	exec.Suspended = &SuspensionPoint{StepIndex: si, ActionIndex: ai, Prompt: prompt}
	exec.UpdatedAt = time.Now().UTC()

	if err := e.store.Save(exec); err != nil {
		return nil, err
	}

	e.logEvent("execution_suspended", map[string]interface{}{
		"execution_id": exec.ID,
		"task_id":      exec.Task.ID,
		"step":         exec.Task.Steps[si].Name,
		"action":       ai + 1,
	})
	log.Printf("[Engine] Execution %s suspended awaiting input (token %s)", exec.ID, exec.ResumptionToken)

	return exec, nil
}

// cancel marks the execution failed because the context was cancelled
// between actions.
func (e *Engine) cancel(exec *Execution, si, ai int, cause error) (*Execution, error) {
	step := exec.Task.Steps[si]
	rec := &exec.Steps[si]

	skipActions(rec, ai)
	rec.Status = StatusFailed
	skipSteps(exec, si+1)

	err := fmt.Errorf("execution cancelled before step '%s' action %d: %w", step.Name, ai+1, cause)
	exec.Status = StatusFailed
	exec.Error = err.Error()
	// The working context is discarded on cancellation; only the step and
	// action statuses survive in the record.
	exec.Context = nil
	exec.UpdatedAt = time.Now().UTC()
	if saveErr := e.store.Save(exec); saveErr != nil {
		return nil, saveErr
	}

	e.logEvent("execution_cancelled", map[string]interface{}{
		"execution_id": exec.ID,
		"task_id":      exec.Task.ID,
		"step":         step.Name,
	})

	return exec, err
}

// fail finalizes the execution after a non-continuable action failure.
func (e *Engine) fail(exec *Execution, si int, execErr *ExecutionError) (*Execution, error) {
	skipSteps(exec, si+1)
	exec.Status = StatusFailed
	exec.Error = execErr.Error()
	exec.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(exec); err != nil {
		return nil, err
	}

	e.logEvent("execution_failed", map[string]interface{}{
		"execution_id": exec.ID,
		"task_id":      exec.Task.ID,
		"step":         execErr.StepName,
		"action":       execErr.ActionIndex,
		"error":        execErr.Err.Error(),
	})
	log.Printf("[Engine] Execution %s failed: %v", exec.ID, execErr)

	return exec, execErr
}

func newStepRecords(def *task.TaskDefinition) []StepRecord {
	steps := make([]StepRecord, len(def.Steps))
	for i, step := range def.Steps {
		actions := make([]ActionRecord, len(step.Actions))
		for j, action := range step.Actions {
			actions[j] = ActionRecord{
				Description: action.Description,
				Operation:   action.Operation,
				Status:      StatusPending,
			}
		}
		steps[i] = StepRecord{Name: step.Name, Status: StatusPending, Actions: actions}
	}
	return steps
}

func newExecutionContext(def *task.TaskDefinition, initial map[string]any) map[string]any {
	execCtx := make(map[string]any, len(initial)+2)
	for k, v := range initial {
		execCtx[k] = v
	}
	execCtx["task"] = map[string]any{"id": def.ID, "name": def.Name}
	execCtx["steps"] = map[string]any{}
	return execCtx
}

// stepContext returns the mutable context map for a step, creating it and
// its parents if needed. Parents may arrive as freshly unmarshalled maps
// after a resume, so each level is re-asserted rather than cached.
func stepContext(exec *Execution, stepName string) map[string]any {
	steps, ok := exec.Context["steps"].(map[string]any)
	if !ok {
		steps = map[string]any{}
		exec.Context["steps"] = steps
	}
	stepCtx, ok := steps[stepName].(map[string]any)
	if !ok {
		stepCtx = map[string]any{}
		steps[stepName] = stepCtx
	}
	return stepCtx
}

func resultsFor(stepCtx map[string]any) map[string]any {
	results, ok := stepCtx["results"].(map[string]any)
	if !ok {
		results = map[string]any{}
		stepCtx["results"] = results
	}
	return results
}

func skipActions(rec *StepRecord, from int) {
	for i := from; i < len(rec.Actions); i++ {
		rec.Actions[i].Status = StatusSkipped
	}
}

func skipSteps(exec *Execution, from int) {
	for i := from; i < len(exec.Steps); i++ {
		exec.Steps[i].Status = StatusSkipped
		skipActions(&exec.Steps[i], 0)
	}
}

// logEvent emits a structured JSON log line.
func (e *Engine) logEvent(eventType string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"component":  "engine",
		"event_type": eventType,
	}
	for k, v := range fields {
		entry[k] = v
	}
	if data, err := json.Marshal(entry); err == nil {
		log.Println(string(data))
	}
}
