// Package registry maps operation names to callables and resolves action
// parameters against an execution context. The registry is built once at
// startup and read-mostly afterwards; it is passed explicitly into the
// execution engine so tests can construct isolated registries.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"stagehand/pkg/task"
)

// Operation is a registered callable. Args arrive in the registered
// parameter order, already resolved against the execution context.
type Operation func(ctx context.Context, args map[string]any) (any, error)

type entry struct {
	fn         Operation
	paramOrder []string
}

// UnknownOperationError is returned when an action references an operation
// that was never registered. It enumerates every registered name so the
// author can spot typos without consulting the source.
type UnknownOperationError struct {
	Name       string
	Registered []string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation '%s' (registered operations: %s)",
		e.Name, strings.Join(e.Registered, ", "))
}

// Registry holds the process-wide operation table.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds an operation under name. Re-registering a name replaces the
// previous entry; paramOrder documents the canonical argument ordering used
// when rendering diagnostics.
func (r *Registry) Register(name string, fn Operation, paramOrder []string) error {
	if name == "" {
		return fmt.Errorf("operation name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("operation '%s': callable cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{fn: fn, paramOrder: paramOrder}
	return nil
}

// Names returns every registered operation name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParamOrder returns the registered parameter ordering for an operation.
func (r *Registry) ParamOrder(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, &UnknownOperationError{Name: name, Registered: r.namesLocked()}
	}
	return e.paramOrder, nil
}

// CheckComplete verifies that every operation referenced by the task is
// registered. Called before execution starts so an unregistered name fails
// fast instead of surfacing mid-run.
func (r *Registry) CheckComplete(def *task.TaskDefinition) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range def.OperationNames() {
		if _, ok := r.entries[name]; !ok {
			return &UnknownOperationError{Name: name, Registered: r.namesLocked()}
		}
	}
	return nil
}

// Resolve substitutes placeholders in rawParams against execCtx and returns
// the resolved argument map. The registry entry must exist.
func (r *Registry) Resolve(name string, rawParams map[string]any, execCtx map[string]any) (map[string]any, error) {
	r.mu.RLock()
	_, ok := r.entries[name]
	registered := r.namesLocked()
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownOperationError{Name: name, Registered: registered}
	}

	resolved := ResolveValue(rawParams, execCtx)
	args, _ := resolved.(map[string]any)
	if args == nil {
		args = make(map[string]any)
	}
	return args, nil
}

// Invoke resolves parameters and calls the named operation.
func (r *Registry) Invoke(ctx context.Context, name string, rawParams map[string]any, execCtx map[string]any) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	registered := r.namesLocked()
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownOperationError{Name: name, Registered: registered}
	}

	args, err := r.Resolve(name, rawParams, execCtx)
	if err != nil {
		return nil, err
	}

	return e.fn(ctx, args)
}

// namesLocked returns sorted names; callers must hold at least a read lock.
func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
