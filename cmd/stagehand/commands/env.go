package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"stagehand/internal/bundle"
	"stagehand/internal/collab"
	"stagehand/internal/config"
	"stagehand/internal/drift"
	"stagehand/internal/engine"
	"stagehand/internal/gate"
	"stagehand/internal/lock"
	"stagehand/internal/ops"
	"stagehand/internal/printer"
	"stagehand/internal/registry"
	"stagehand/internal/rollback"
	"stagehand/internal/workspace"
)

// cmdEnv bundles the discovered workspace and its loaded configuration.
// Every command starts by loading one.
type cmdEnv struct {
	ws  *workspace.Workspace
	cfg *config.StagehandConfig
}

// loadEnv discovers the workspace from the current directory, loads and
// validates stagehand.yml, and makes sure the state tree exists.
func loadEnv() (*cmdEnv, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}

	ws, err := workspace.Discover(cwd)
	if err != nil {
		return nil, printer.Error(
			"not inside a stagehand workspace",
			err.Error(),
			[]string{"Initialize one in your project root:\n  stagehand init"},
		)
	}

	cfg, err := config.Load(ws.ConfigPath())
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid stagehand.yml",
			err.Error(),
			map[string]string{"Path": ws.ConfigPath()},
			nil,
		)
	}

	if cfg.Instance != "" {
		if err := workspace.ValidateInstanceName(cfg.Instance); err != nil {
			return nil, printer.Error("invalid instance name", err.Error(), nil)
		}
	}

	if err := ws.EnsureStateDirs(); err != nil {
		return nil, err
	}

	return &cmdEnv{ws: ws, cfg: cfg}, nil
}

// instanceName returns the configured instance name, defaulting to "default".
func (e *cmdEnv) instanceName() string {
	if e.cfg.Instance != "" {
		return e.cfg.Instance
	}
	return "default"
}

// lockManager builds the configured lock backend. The returned closer is a
// no-op for the file backend.
func (e *cmdEnv) lockManager(ctx context.Context) (*lock.Manager, func(), error) {
	switch e.cfg.Locks.Backend {
	case "redis":
		backend, err := lock.NewRedisBackend(&redis.Options{
			Addr:     e.cfg.Locks.Redis.Addr,
			Password: e.cfg.Locks.Redis.Password,
			DB:       e.cfg.Locks.Redis.DB,
		}, e.instanceName())
		if err != nil {
			return nil, nil, err
		}
		if err := backend.Ping(ctx); err != nil {
			backend.Close()
			return nil, nil, printer.ErrorWithContext(
				"Redis connection failed",
				err.Error(),
				map[string]string{"Addr": e.cfg.Locks.Redis.Addr},
				[]string{"Check that Redis is running, or switch locks.backend to 'file'"},
			)
		}
		return lock.NewManager(backend, e.cfg.Locks.Timeout()), func() { backend.Close() }, nil

	default:
		backend, err := lock.NewFileBackend(e.ws.LockDir())
		if err != nil {
			return nil, nil, err
		}
		return lock.NewManager(backend, e.cfg.Locks.Timeout()), func() {}, nil
	}
}

// bundleStore opens the workspace bundle store.
func (e *cmdEnv) bundleStore() (*bundle.Store, error) {
	return bundle.NewStore(e.ws.BundleDir())
}

// driftDetector builds a detector over the configured tracked set.
func (e *cmdEnv) driftDetector() *drift.Detector {
	return drift.NewDetector(
		e.ws.Root,
		e.cfg.Drift.Tracked,
		e.cfg.Drift.Manifests,
		e.ws.ConfigPath(),
		e.ws.DriftDir(),
		*e.cfg.Drift.Thresholds,
	)
}

// rollbackManager builds a manager with the configured shell hooks attached.
func (e *cmdEnv) rollbackManager() *rollback.Manager {
	m := rollback.NewManager(
		e.ws.Root,
		e.ws.RollbackDir(),
		e.ws.ConfigPath(),
		e.cfg.Rollback.Tracked,
		e.cfg.Rollback.ResetRevision,
	)
	for _, command := range e.cfg.Rollback.PreHooks {
		m.AddPreHook(shellHook(command, e.ws.Root))
	}
	for _, command := range e.cfg.Rollback.PostHooks {
		m.AddPostHook(shellHook(command, e.ws.Root))
	}
	return m
}

// gateController wires the gate checks against the workspace.
func (e *cmdEnv) gateController() (*gate.Controller, error) {
	store, err := gate.NewStore(e.ws.PhaseDir())
	if err != nil {
		return nil, err
	}
	bundles, err := e.bundleStore()
	if err != nil {
		return nil, err
	}
	runner, err := collab.NewCommandTestRunner(e.ws.Root, e.cfg.Gates.TestCommand)
	if err != nil {
		return nil, err
	}

	return gate.NewController(
		store,
		collab.NewFileContractProvider(filepath.Join(e.ws.Root, e.cfg.Gates.ContractDir)),
		&gate.PlanCheck{Root: e.ws.Root},
		&gate.ArtifactCheck{Root: e.ws.Root},
		&gate.GroundingCheck{Root: e.ws.Root, Bundles: bundles},
		&gate.PostConditionCheck{Root: e.ws.Root},
		&gate.TestCheck{Runner: runner},
	), nil
}

// executionEngine builds an engine with the full built-in operation set.
func (e *cmdEnv) executionEngine(ctx context.Context, holder string) (*engine.Engine, func(), error) {
	locks, closeLocks, err := e.lockManager(ctx)
	if err != nil {
		return nil, nil, err
	}
	bundles, err := e.bundleStore()
	if err != nil {
		closeLocks()
		return nil, nil, err
	}

	reg := registry.New()
	err = ops.Register(reg, ops.Deps{
		Root:      e.ws.Root,
		Holder:    holder,
		Locks:     locks,
		Bundles:   bundles,
		Rollbacks: e.rollbackManager(),
		Drift:     e.driftDetector(),
	})
	if err != nil {
		closeLocks()
		return nil, nil, err
	}

	store, err := engine.NewStore(e.ws.ExecutionDir())
	if err != nil {
		closeLocks()
		return nil, nil, err
	}

	eng, err := engine.New(reg, store, e.cfg.Engine.DecomposeThreshold)
	if err != nil {
		closeLocks()
		return nil, nil, err
	}
	return eng, closeLocks, nil
}

// defaultHolder identifies this process for lock ownership.
func defaultHolder() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "stagehand"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// shellHook wraps a configured shell command as a rollback hook.
func shellHook(command, dir string) rollback.Hook {
	return rollback.Hook{
		Name: command,
		Run: func(point *rollback.Point) error {
			cmd := exec.Command("sh", "-c", command)
			cmd.Dir = dir
			output, err := cmd.CombinedOutput()
			if err != nil {
				return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
			}
			return nil
		},
	}
}

// parseKeyValues converts repeated k=v flags into a context map.
func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid input '%s': expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}
