package pergola

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/internal/runtime"
	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/budget"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/nodes"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/session"
	"github.com/aretw0/pergola/pkg/templates"
)

// DefaultMaxIterations is the iteration ceiling of runs started without one.
const DefaultMaxIterations = 10

// Engine is the high-level entry point of the library.
// It compiles one graph and drives runs of it, persisting every step.
type Engine struct {
	runtime  *runtime.Engine
	graph    *runtime.Graph
	sessions *session.Manager

	loader     ports.GraphLoader
	definition *domain.GraphDefinition
	registry   *nodes.Registry
	store      ports.RunStore
	memory     ports.MemoryStore
	locker     ports.DistributedLocker
	lockTTL    time.Duration
	budget     *budget.Guard

	hooks         domain.LifecycleHooks
	logger        *slog.Logger
	stepCeiling   int
	maxIterations int
	newID         func() string
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLoader resolves the graph name through l instead of the built-in templates.
func WithLoader(l ports.GraphLoader) Option {
	return func(e *Engine) {
		e.loader = l
	}
}

// WithDefinition uses def directly; the graph name passed to New is ignored.
func WithDefinition(def domain.GraphDefinition) Option {
	return func(e *Engine) {
		e.definition = &def
	}
}

// WithRegistry replaces the built-in node kinds.
func WithRegistry(r *nodes.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithStore sets where runs are persisted (default: in memory).
func WithStore(s ports.RunStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithMemory enables memory_inject and transcript recording.
func WithMemory(m ports.MemoryStore) Option {
	return func(e *Engine) {
		e.memory = m
	}
}

// WithLocker serialises steps of one run across processes.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithLockTTL bounds how long a crashed process can hold a run's lock.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

// WithBudget sets the thresholds of context_guard nodes that do not configure their own.
func WithBudget(g budget.Guard) Option {
	return func(e *Engine) {
		e.budget = &g
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStepCeiling bounds the number of steps a run may take.
func WithStepCeiling(n int) Option {
	return func(e *Engine) {
		e.stepCeiling = n
	}
}

// WithMaxIterations sets the iteration ceiling used by RunToCompletion and by
// StartRun when called with maxIterations <= 0.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		e.maxIterations = n
	}
}

// WithIDGenerator overrides run id generation (default: ULID).
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// New loads and compiles the named graph and prepares an engine that invokes
// the model through invoker.
func New(ctx context.Context, graph string, invoker ports.ModelInvoker, opts ...Option) (*Engine, error) {
	eng := &Engine{
		loader:        templates.Loader{},
		registry:      nodes.Builtin(),
		logger:        logging.NewNop(),
		stepCeiling:   runtime.DefaultStepCeiling,
		maxIterations: DefaultMaxIterations,
		newID:         func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(eng)
	}
	if invoker == nil {
		return nil, errors.New("model invoker is required")
	}
	if eng.store == nil {
		eng.store = memory.NewStore()
	}

	var def domain.GraphDefinition
	if eng.definition != nil {
		def = *eng.definition
	} else {
		var err error
		def, err = eng.loader.Load(ctx, graph)
		if err != nil {
			return nil, fmt.Errorf("load graph %q: %w", graph, err)
		}
	}
	if eng.budget != nil {
		def = applyBudget(def, *eng.budget)
	}

	compiled, err := runtime.Compile(def, eng.registry)
	if err != nil {
		return nil, err
	}
	eng.graph = compiled
	eng.logger = eng.logger.With("graph", compiled.Name())

	runtimeOpts := []runtime.EngineOption{
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithStepCeiling(eng.stepCeiling),
	}
	if eng.memory != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithMemory(eng.memory))
	}
	eng.runtime = runtime.NewEngine(compiled, invoker, runtimeOpts...)

	sessionOpts := []session.Option{session.WithLogger(eng.logger)}
	if eng.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(eng.locker))
	}
	if eng.lockTTL > 0 {
		sessionOpts = append(sessionOpts, session.WithLockTTL(eng.lockTTL))
	}
	eng.sessions = session.NewManager(eng.store, sessionOpts...)

	return eng, nil
}

// applyBudget fills unset thresholds of context_guard nodes.
func applyBudget(def domain.GraphDefinition, g budget.Guard) domain.GraphDefinition {
	out := def
	out.Nodes = make([]domain.NodeSpec, len(def.Nodes))
	for i, n := range def.Nodes {
		if n.Kind == nodes.KindContextGuard {
			cfg := maps.Clone(n.Config)
			if cfg == nil {
				cfg = make(map[string]any)
			}
			setDefault(cfg, "limit", g.Limit)
			setDefault(cfg, "warn_ratio", g.WarnRatio)
			setDefault(cfg, "block_ratio", g.BlockRatio)
			n.Config = cfg
		}
		out.Nodes[i] = n
	}
	return out
}

func setDefault[T int | float64](cfg map[string]any, key string, v T) {
	if _, ok := cfg[key]; !ok && v > 0 {
		cfg[key] = v
	}
}

// StartRun creates and persists a run positioned at the entry node.
// A maxIterations of zero or less selects the engine default.
func (e *Engine) StartRun(ctx context.Context, input string, maxIterations int) (string, error) {
	if maxIterations <= 0 {
		maxIterations = e.maxIterations
	}
	run := e.runtime.NewRun(e.newID(), input, maxIterations)
	if err := e.sessions.Save(ctx, run); err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}
	e.logger.Info("run started", "run_id", run.ID, "max_iterations", maxIterations)
	return run.ID, nil
}

// Step executes the current node of a run and persists the outcome.
// Stepping a finished run returns domain.ErrRunFinished with its final state.
func (e *Engine) Step(ctx context.Context, runID string) (domain.StepResult, error) {
	var executed string
	run, err := e.sessions.Update(ctx, runID, func(ctx context.Context, run *domain.Run) (*domain.Run, error) {
		executed = run.CurrentNode
		if run.Done {
			return nil, domain.ErrRunFinished
		}
		next, err := e.runtime.Step(ctx, run)
		if err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrRunFinished) {
			if final, loadErr := e.sessions.Load(ctx, runID); loadErr == nil {
				return result(final, executed), err
			}
		}
		return domain.StepResult{RunID: runID}, err
	}
	return result(run, executed), nil
}

func result(run *domain.Run, node string) domain.StepResult {
	return domain.StepResult{RunID: run.ID, Node: node, Done: run.Done, State: run.State}
}

// Resume steps a run until it is done, persisting after every step.
// A cancelled context stops between steps and the run can be resumed later.
// On a step error the last persisted run is returned alongside the error.
func (e *Engine) Resume(ctx context.Context, runID string) (*domain.Run, error) {
	for {
		res, err := e.Step(ctx, runID)
		switch {
		case errors.Is(err, domain.ErrRunFinished):
			return e.sessions.Load(ctx, runID)
		case err != nil:
			run, loadErr := e.sessions.Load(context.WithoutCancel(ctx), runID)
			if loadErr != nil {
				return nil, err
			}
			return run, err
		case res.Done:
			return e.sessions.Load(ctx, runID)
		}
	}
}

// RunToCompletion starts a run for input and drives it to the terminal node.
// When the run stops early the most recent persisted state is returned with
// the error.
func (e *Engine) RunToCompletion(ctx context.Context, input string) (domain.State, error) {
	runID, err := e.StartRun(ctx, input, 0)
	if err != nil {
		return domain.State{}, err
	}
	run, err := e.Resume(ctx, runID)
	if run == nil {
		return domain.State{}, err
	}
	return run.State, err
}

// Inspect returns the stored run.
func (e *Engine) Inspect(ctx context.Context, runID string) (*domain.Run, error) {
	return e.sessions.Load(ctx, runID)
}

// ListRuns returns the ids of stored runs.
func (e *Engine) ListRuns(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// DeleteRun removes a stored run.
func (e *Engine) DeleteRun(ctx context.Context, runID string) error {
	return e.sessions.Delete(ctx, runID)
}

// Definition returns the graph definition the engine was compiled from.
func (e *Engine) Definition() domain.GraphDefinition {
	return e.graph.Definition()
}

// Fingerprint identifies the compiled graph.
func (e *Engine) Fingerprint() string {
	return e.graph.Fingerprint()
}

// Graph exposes the compiled graph to in-module tooling (analysis, rendering).
func (e *Engine) Graph() *runtime.Graph {
	return e.graph
}
