package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/registry"
	"stagehand/pkg/task"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["value"], nil
	}, []string{"value"}))
	require.NoError(t, reg.Register("boom", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, fmt.Errorf("operation exploded")
	}, nil))
	return reg
}

func newTestEngine(t *testing.T) (*Engine, *Store) {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	eng, err := New(testRegistry(t), store, 5)
	require.NoError(t, err)
	return eng, store
}

func echoAction(desc, value string) task.Action {
	return task.Action{
		Description: desc,
		Operation:   "echo",
		Params:      map[string]any{"value": value},
	}
}

func TestExecute_CompletesStepsInOrder(t *testing.T) {
	eng, _ := newTestEngine(t)

	def := &task.TaskDefinition{
		ID:   "task-1",
		Name: "ordered",
		Steps: []task.Step{
			{Name: "first", Actions: []task.Action{echoAction("a1", "one")}},
			{Name: "second", Actions: []task.Action{echoAction("a2", "two"), echoAction("a3", "three")}},
		},
	}

	exec, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, StatusCompleted, exec.Steps[0].Status)
	assert.Equal(t, StatusCompleted, exec.Steps[1].Status)
	assert.Equal(t, "one", exec.Steps[0].Actions[0].Result)
	assert.Equal(t, "three", exec.Steps[1].Actions[1].Result)
}

func TestExecute_FailureStopsRemainingActions(t *testing.T) {
	eng, _ := newTestEngine(t)

	def := &task.TaskDefinition{
		ID:   "task-1",
		Name: "failing",
		Steps: []task.Step{
			{Name: "work", Actions: []task.Action{
				echoAction("a1", "ok"),
				{Description: "a2", Operation: "boom"},
				echoAction("a3", "never"),
			}},
			{Name: "after", Actions: []task.Action{echoAction("a4", "never")}},
		},
	}

	exec, err := eng.Execute(context.Background(), def, nil)
	require.Error(t, err)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "work", execErr.StepName)
	assert.Equal(t, 2, execErr.ActionIndex)
	assert.Equal(t, "a2", execErr.Description)
	assert.Contains(t, err.Error(), "operation exploded")

	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, StatusCompleted, exec.Steps[0].Actions[0].Status)
	assert.Equal(t, StatusFailed, exec.Steps[0].Actions[1].Status)
	assert.Equal(t, StatusSkipped, exec.Steps[0].Actions[2].Status)
	assert.Equal(t, StatusSkipped, exec.Steps[1].Status)
}

func TestExecute_ContinueOnErrorProceedsToNextStep(t *testing.T) {
	eng, _ := newTestEngine(t)

	def := &task.TaskDefinition{
		ID:   "task-1",
		Name: "tolerant",
		Steps: []task.Step{
			{Name: "flaky", ContinueOnError: true, Actions: []task.Action{
				{Description: "a1", Operation: "boom"},
				echoAction("a2", "skipped anyway"),
			}},
			{Name: "after", Actions: []task.Action{echoAction("a3", "ran")}},
		},
	}

	exec, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, StatusFailed, exec.Steps[0].Status)
	assert.Equal(t, StatusSkipped, exec.Steps[0].Actions[1].Status)
	assert.Equal(t, StatusCompleted, exec.Steps[1].Status)
	assert.Equal(t, "ran", exec.Steps[1].Actions[0].Result)
}

func TestExecute_UnregisteredOperationFailsBeforeAnyAction(t *testing.T) {
	eng, store := newTestEngine(t)

	def := &task.TaskDefinition{
		ID:   "task-1",
		Name: "typo",
		Steps: []task.Step{
			{Name: "work", Actions: []task.Action{
				echoAction("a1", "would run"),
				{Description: "a2", Operation: "ehco"},
			}},
		},
	}

	_, err := eng.Execute(context.Background(), def, nil)
	require.Error(t, err)

	var unknown *registry.UnknownOperationError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ehco", unknown.Name)

	// Nothing was persisted because nothing ran.
	ids, err := store.IDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestExecute_PlaceholdersResolveAcrossSteps(t *testing.T) {
	eng, _ := newTestEngine(t)

	def := &task.TaskDefinition{
		ID:   "task-1",
		Name: "chained",
		Steps: []task.Step{
			{Name: "produce", Actions: []task.Action{echoAction("a1", "hello")}},
			{Name: "consume", Actions: []task.Action{
				echoAction("a2", "{{steps.produce.results.1}} world"),
			}},
		},
	}

	exec, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", exec.Steps[1].Actions[0].Result)
}

func TestExecute_UnresolvedPlaceholderPassesThroughVerbatim(t *testing.T) {
	eng, _ := newTestEngine(t)

	def := &task.TaskDefinition{
		ID:   "task-1",
		Name: "verbatim",
		Steps: []task.Step{
			{Name: "work", Actions: []task.Action{echoAction("a1", "{{no.such.path}}")}},
		},
	}

	exec, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, "{{no.such.path}}", exec.Steps[0].Actions[0].Result)
}

func TestExecute_SuspendAndResume(t *testing.T) {
	eng, store := newTestEngine(t)

	def := &task.TaskDefinition{
		ID:   "task-1",
		Name: "interactive",
		Steps: []task.Step{
			{Name: "gather", Actions: []task.Action{
				echoAction("a1", "before"),
				{Description: "ask for approval", Interactive: true},
				echoAction("a3", "approved: {{steps.gather.input}}"),
			}},
		},
	}

	exec, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingInput, exec.Status)
	require.NotEmpty(t, exec.ResumptionToken)
	require.NotNil(t, exec.Suspended)
	assert.Equal(t, "ask for approval", exec.Suspended.Prompt)
	assert.Equal(t, StatusAwaitingInput, exec.Steps[0].Actions[1].Status)

	// A fresh engine over the same store resumes from the persisted record.
	resumer, err := New(testRegistry(t), store, 5)
	require.NoError(t, err)

	resumed, err := resumer.Resume(context.Background(), exec.ResumptionToken, "yes")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Equal(t, "yes", resumed.Steps[0].Actions[1].Result)
	assert.Equal(t, "approved: yes", resumed.Steps[0].Actions[2].Result)
	assert.Empty(t, resumed.ResumptionToken)
	assert.Nil(t, resumed.Suspended)
}

func TestResume_UnknownToken(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.Resume(context.Background(), "bogus-token", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no suspended execution")
}

func TestResume_CompletedExecutionRejected(t *testing.T) {
	eng, store := newTestEngine(t)

	def := &task.TaskDefinition{
		ID:    "task-1",
		Name:  "plain",
		Steps: []task.Step{{Name: "work", Actions: []task.Action{echoAction("a1", "v")}}},
	}
	exec, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	// Forge a token onto the completed record.
	exec.ResumptionToken = "stale"
	require.NoError(t, store.Save(exec))

	_, err = eng.Resume(context.Background(), "stale", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not awaiting input")
}

func TestExecute_CancellationBetweenActions(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	reg := registry.New()
	require.NoError(t, reg.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["value"], nil
	}, []string{"value"}))
	require.NoError(t, reg.Register("pull-the-plug", func(ctx context.Context, args map[string]any) (any, error) {
		cancel()
		return nil, nil
	}, nil))

	eng, err := New(reg, store, 5)
	require.NoError(t, err)

	def := &task.TaskDefinition{
		ID:   "task-1",
		Name: "cancelled",
		Steps: []task.Step{
			{Name: "work", Actions: []task.Action{
				{Description: "a1", Operation: "pull-the-plug"},
				echoAction("a2", "never"),
			}},
		},
	}

	exec, err := eng.Execute(ctx, def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")

	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, StatusCompleted, exec.Steps[0].Actions[0].Status)
	assert.Equal(t, StatusSkipped, exec.Steps[0].Actions[1].Status)

	// The working context is discarded, in memory and on disk.
	assert.Nil(t, exec.Context)
	persisted, err := store.Get(exec.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Nil(t, persisted.Context)
}

func TestExecute_DecomposesOversizedStep(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	eng, err := New(testRegistry(t), store, 2)
	require.NoError(t, err)

	actions := make([]task.Action, 5)
	for i := range actions {
		actions[i] = echoAction(fmt.Sprintf("a%d", i+1), fmt.Sprintf("v%d", i+1))
	}
	def := &task.TaskDefinition{
		ID:    "task-1",
		Name:  "big",
		Steps: []task.Step{{Name: "bulk", Actions: actions}},
	}

	exec, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, []string{"task-1.bulk.sub-1", "task-1.bulk.sub-2", "task-1.bulk.sub-3"}, exec.Steps[0].SubTasks)

	// All actions still ran, in order.
	for i, arec := range exec.Steps[0].Actions {
		assert.Equal(t, StatusCompleted, arec.Status)
		assert.Equal(t, fmt.Sprintf("v%d", i+1), arec.Result)
	}
}

func TestExecute_DecompositionCheckpointsBetweenSubTasks(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	// The "peek" operation reads the record back from the store mid-run,
	// so it observes exactly what a restarted engine would see after a
	// crash at that point.
	var persisted *Execution
	reg := registry.New()
	require.NoError(t, reg.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["value"], nil
	}, []string{"value"}))
	require.NoError(t, reg.Register("peek", func(ctx context.Context, args map[string]any) (any, error) {
		ids, err := store.IDs()
		if err != nil {
			return nil, err
		}
		if len(ids) != 1 {
			return nil, fmt.Errorf("expected one persisted execution, got %d", len(ids))
		}
		persisted, err = store.Get(ids[0])
		return nil, err
	}, nil))

	eng, err := New(reg, store, 2)
	require.NoError(t, err)

	def := &task.TaskDefinition{
		ID:   "task-1",
		Name: "checkpointed",
		Steps: []task.Step{{Name: "bulk", Actions: []task.Action{
			echoAction("a1", "v1"),
			echoAction("a2", "v2"),
			{Description: "a3", Operation: "peek"},
			echoAction("a4", "v4"),
			echoAction("a5", "v5"),
		}}},
	}

	exec, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status)

	// The first sub-task's work was already durable before the third
	// action started.
	require.NotNil(t, persisted)
	assert.Equal(t, StatusRunning, persisted.Status)
	assert.Equal(t, []string{"task-1.bulk.sub-1", "task-1.bulk.sub-2", "task-1.bulk.sub-3"}, persisted.Steps[0].SubTasks)
	assert.Equal(t, StatusCompleted, persisted.Steps[0].Actions[0].Status)
	assert.Equal(t, StatusCompleted, persisted.Steps[0].Actions[1].Status)
	assert.Equal(t, StatusPending, persisted.Steps[0].Actions[2].Status)
	assert.Equal(t, StatusPending, persisted.Steps[0].Actions[3].Status)
	assert.Equal(t, "v2", persisted.Steps[0].Actions[1].Result)
}

func TestExecute_SmallStepNotDecomposed(t *testing.T) {
	eng, _ := newTestEngine(t)

	def := &task.TaskDefinition{
		ID:   "task-1",
		Name: "small",
		Steps: []task.Step{{Name: "work", Actions: []task.Action{
			echoAction("a1", "one"), echoAction("a2", "two"),
		}}},
	}

	exec, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Nil(t, exec.Steps[0].SubTasks)
}

func TestExecute_DocumentationOnlyActionCompletes(t *testing.T) {
	eng, _ := newTestEngine(t)

	def := &task.TaskDefinition{
		ID:   "task-1",
		Name: "documented",
		Steps: []task.Step{{Name: "work", Actions: []task.Action{
			{Description: "review the design notes"},
			echoAction("a2", "done"),
		}}},
	}

	exec, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Steps[0].Actions[0].Status)
	assert.Nil(t, exec.Steps[0].Actions[0].Result)
}

func TestStore_RoundTrip(t *testing.T) {
	eng, store := newTestEngine(t)

	def := &task.TaskDefinition{
		ID:    "task-1",
		Name:  "persisted",
		Steps: []task.Step{{Name: "work", Actions: []task.Action{echoAction("a1", "v")}}},
	}
	exec, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	loaded, err := store.Get(exec.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, exec.ID, loaded.ID)
	assert.Equal(t, StatusCompleted, loaded.Status)
	assert.Equal(t, "task-1", loaded.Task.ID)
	assert.Equal(t, "v", loaded.Steps[0].Actions[0].Result)
}

func TestStore_GetMissingReturnsNil(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	exec, err := store.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, exec)
}
