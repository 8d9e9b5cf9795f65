// Package nodes implements the node kinds a graph is assembled from.
//
// A node executor reads the run state and returns a sparse domain.Patch; it never
// mutates the state it was given. Conditional kinds also implement Router, which
// picks a named branch from the state after the patch has been merged.
//
// Model failures never escape as Go errors: model nodes turn them into
// Patch.Error (plus IsComplete) so routing can steer the run to the terminal.
// A returned error means a programming or configuration fault.
package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

// Executor runs one node.
type Executor interface {
	Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error)
}

// Router is implemented by conditional executors. It must be pure and must
// check State.Error before anything else.
type Router interface {
	Route(s domain.State) string
}

// BranchLister is implemented by routers whose branch set comes from configuration.
type BranchLister interface {
	Branches() []string
}

// Factory builds an executor from a node's raw configuration.
type Factory func(config map[string]any) (Executor, error)

// Kind describes a registered node kind.
type Kind struct {
	Name        string
	Description string

	// Branches declares the branch names of a conditional kind.
	Branches []string
	// Dynamic marks conditional kinds whose branches depend on configuration.
	Dynamic bool

	// Model marks kinds that call the model invoker.
	Model bool

	// Reads and Writes name the state fields the kind touches.
	Reads  []string
	Writes []string

	New Factory
}

// Conditional reports whether nodes of this kind route through a branch table.
func (k Kind) Conditional() bool {
	return len(k.Branches) > 0 || k.Dynamic
}

// Registry maps kind names to kinds.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// Register adds a kind. Names must be unique.
func (r *Registry) Register(k Kind) error {
	if k.Name == "" || k.New == nil {
		return fmt.Errorf("register kind %q: name and factory are required", k.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[k.Name]; exists {
		return fmt.Errorf("register kind %q: already registered", k.Name)
	}
	r.kinds[k.Name] = k
	return nil
}

// MustRegister is Register for package initialisation; it panics on error.
func (r *Registry) MustRegister(k Kind) {
	if err := r.Register(k); err != nil {
		panic(err)
	}
}

// Lookup returns the kind registered under name.
func (r *Registry) Lookup(name string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", domain.ErrUnknownKind, name)
	}
	return k, nil
}

// Names returns the registered kind names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Env carries the collaborators of one node execution.
type Env struct {
	RunID  string
	NodeID string

	Invoker ports.ModelInvoker
	// Memory is optional.
	Memory ports.MemoryStore

	Logger *slog.Logger
	Hooks  domain.LifecycleHooks
}

func (e Env) log() *slog.Logger {
	if e.Logger == nil {
		return logging.NewNop()
	}
	return e.Logger
}

// Invoke sends prompt to the model as a single user message and fires the model hooks.
func (e Env) Invoke(ctx context.Context, prompt string) (string, error) {
	if e.Invoker == nil {
		return "", fmt.Errorf("node %s: no model invoker configured", e.NodeID)
	}

	base := domain.EventBase{Timestamp: time.Now(), Type: domain.EventModelCall, RunID: e.RunID}
	if e.Hooks.OnModelCall != nil {
		e.Hooks.OnModelCall(ctx, &domain.ModelEvent{EventBase: base, NodeID: e.NodeID, Prompt: prompt})
	}

	start := time.Now()
	out, err := e.Invoker.Invoke(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}})
	elapsed := time.Since(start)

	if e.Hooks.OnModelReturn != nil {
		ev := &domain.ModelEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventModelReturn, RunID: e.RunID},
			NodeID:    e.NodeID,
			Output:    out,
			IsError:   err != nil,
			Duration:  elapsed,
		}
		if err != nil {
			ev.Output = err.Error()
		}
		e.Hooks.OnModelReturn(ctx, ev)
	}

	if err != nil {
		e.log().Warn("model call failed", "error", err, "duration", elapsed)
		return "", err
	}
	e.log().Debug("model call returned", "chars", len(out), "duration", elapsed)
	return out, nil
}

// record writes a transcript entry if a memory store is configured.
// Failures are logged and swallowed.
func (e Env) record(ctx context.Context, role, text string) {
	if e.Memory == nil || text == "" {
		return
	}
	if err := e.Memory.Record(ctx, e.RunID, role, text); err != nil {
		e.log().Warn("memory record failed", "error", err, "role", role)
	}
}
