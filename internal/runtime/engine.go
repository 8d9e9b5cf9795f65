package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/nodes"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/reducer"
)

// DefaultStepCeiling bounds how many nodes one run may execute.
const DefaultStepCeiling = 500

// Engine executes runs over one compiled graph.
type Engine struct {
	graph       *Graph
	invoker     ports.ModelInvoker
	memory      ports.MemoryStore
	logger      *slog.Logger
	hooks       domain.LifecycleHooks
	stepCeiling int
	now         func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithMemory attaches a memory store for transcript and recall nodes.
func WithMemory(store ports.MemoryStore) EngineOption {
	return func(e *Engine) {
		e.memory = store
	}
}

// WithStepCeiling overrides DefaultStepCeiling. Values below 1 are ignored.
func WithStepCeiling(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.stepCeiling = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine for g.
func NewEngine(g *Graph, invoker ports.ModelInvoker, opts ...EngineOption) *Engine {
	e := &Engine{
		graph:       g,
		invoker:     invoker,
		logger:      logging.NewNop(),
		stepCeiling: DefaultStepCeiling,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the compiled graph.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// NewRun creates a run positioned at the entry node.
func (e *Engine) NewRun(id, input string, maxIterations int) *domain.Run {
	now := e.now()
	return &domain.Run{
		ID:               id,
		Graph:            e.graph.Name(),
		GraphFingerprint: e.graph.Fingerprint(),
		CurrentNode:      e.graph.Entry(),
		State:            domain.NewState(input, maxIterations),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Step executes the current node of run, merges its patch and advances to
// the next node. The given run is not modified.
//
// Cancellation is checked before and after the node: a cancelled step
// discards the node's patch and returns the unchanged run with ctx.Err().
func (e *Engine) Step(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	if run.Done {
		return run, domain.ErrRunFinished
	}
	if run.GraphFingerprint != e.graph.Fingerprint() {
		return run, fmt.Errorf("%w: run %s", domain.ErrGraphChanged, run.ID)
	}
	if err := ctx.Err(); err != nil {
		return run, err
	}

	n, ok := e.graph.nodes[run.CurrentNode]
	if !ok {
		return run, fmt.Errorf("run %s: current node %q is not in graph %s", run.ID, run.CurrentNode, e.graph.Name())
	}

	next := run.Clone()
	log := e.logger.With("run_id", run.ID, "node", n.spec.ID, "kind", n.kind.Name)

	if run.Steps >= e.stepCeiling && n.kind.Name != domain.KindEnd {
		log.Error("step ceiling exceeded", "steps", run.Steps, "ceiling", e.stepCeiling)
		next.State = reducer.Apply(next.State, domain.Fail(domain.ErrStepCeiling))
		next.CurrentNode = e.graph.terminal
		next.UpdatedAt = e.now()
		return next, nil
	}

	e.emitNodeEnter(ctx, run, n)
	start := time.Now()

	env := nodes.Env{
		RunID:   run.ID,
		NodeID:  n.spec.ID,
		Invoker: e.invoker,
		Memory:  e.memory,
		Logger:  log,
		Hooks:   e.hooks,
	}
	patch, err := n.exec.Execute(ctx, run.State.Clone(), env)
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Warn("step cancelled", "error", ctxErr)
		return run, ctxErr
	}
	if err != nil {
		log.Error("node failed", "error", err)
		patch = domain.Fail(fmt.Errorf("node %s: %w", n.spec.ID, err))
	}

	next.State = reducer.Apply(next.State, patch)
	next.Steps++
	next.Visited = append(next.Visited, n.spec.ID)
	next.UpdatedAt = e.now()
	e.emitNodeLeave(ctx, run, n, patch, time.Since(start))

	if n.kind.Name == domain.KindEnd {
		next.State.IsComplete = true
		next.Done = true
		log.Info("run finished", "steps", next.Steps, "error", next.State.Error)
		e.emitRunDone(ctx, next)
		return next, nil
	}

	target, branch, fault := e.graph.route(n, next.State)
	if fault != nil {
		log.Error("routing failed", "error", fault)
		next.State = reducer.Apply(next.State, domain.Fail(fault))
	}
	if next.State.Error != "" {
		next.State.IsComplete = true
	}
	if branch != "" {
		e.emitRouted(ctx, run, n, branch, target)
	}
	log.Debug("step complete", "next", target, "branch", branch, "fields", patch.Fields())

	next.CurrentNode = target
	return next, nil
}

// Run steps until the terminal node has executed. On cancellation the last
// merged run is returned with the context error.
func (e *Engine) Run(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	for !run.Done {
		next, err := e.Step(ctx, run)
		if err != nil {
			if errors.Is(err, domain.ErrRunFinished) {
				return next, nil
			}
			return next, err
		}
		run = next
	}
	return run, nil
}

func (e *Engine) emitNodeEnter(ctx context.Context, run *domain.Run, n *node) {
	if e.hooks.OnNodeEnter == nil {
		return
	}
	e.hooks.OnNodeEnter(ctx, &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: e.now(), Type: domain.EventNodeEnter, RunID: run.ID},
		NodeID:    n.spec.ID,
		NodeKind:  n.kind.Name,
		Step:      run.Steps + 1,
	})
}

func (e *Engine) emitNodeLeave(ctx context.Context, run *domain.Run, n *node, p domain.Patch, d time.Duration) {
	if e.hooks.OnNodeLeave == nil {
		return
	}
	e.hooks.OnNodeLeave(ctx, &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: e.now(), Type: domain.EventNodeLeave, RunID: run.ID},
		NodeID:    n.spec.ID,
		NodeKind:  n.kind.Name,
		Step:      run.Steps + 1,
		Fields:    p.Fields(),
		Duration:  d,
	})
}

func (e *Engine) emitRouted(ctx context.Context, run *domain.Run, n *node, branch, target string) {
	if e.hooks.OnRouted == nil {
		return
	}
	e.hooks.OnRouted(ctx, &domain.RouteEvent{
		EventBase: domain.EventBase{Timestamp: e.now(), Type: domain.EventRouted, RunID: run.ID},
		NodeID:    n.spec.ID,
		Branch:    branch,
		Target:    target,
	})
}

func (e *Engine) emitRunDone(ctx context.Context, run *domain.Run) {
	if e.hooks.OnRunDone == nil {
		return
	}
	e.hooks.OnRunDone(ctx, &domain.RunEvent{
		EventBase:  domain.EventBase{Timestamp: e.now(), Type: domain.EventRunDone, RunID: run.ID},
		Steps:      run.Steps,
		Difficulty: string(run.State.Difficulty),
		Error:      run.State.Error,
	})
}
