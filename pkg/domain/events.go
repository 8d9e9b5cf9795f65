package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter   EventType = "node_enter"
	EventNodeLeave   EventType = "node_leave"
	EventModelCall   EventType = "model_call"
	EventModelReturn EventType = "model_return"
	EventRouted      EventType = "routed"
	EventRunDone     EventType = "run_done"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
}

// NodeEvent represents entry into or exit from a node.
type NodeEvent struct {
	EventBase
	NodeID   string `json:"node_id"`
	NodeKind string `json:"node_kind"`
	Step     int    `json:"step"`

	// Fields lists the state fields the node patched (leave only).
	Fields []string `json:"fields,omitempty"`
	// Duration of the node execution (leave only).
	Duration time.Duration `json:"duration,omitempty"`
}

// ModelEvent represents one call to the model invoker.
type ModelEvent struct {
	EventBase
	NodeID   string        `json:"node_id"`
	Prompt   string        `json:"prompt,omitempty"`
	Output   string        `json:"output,omitempty"`
	IsError  bool          `json:"is_error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// RouteEvent records the branch a conditional node selected.
type RouteEvent struct {
	EventBase
	NodeID string `json:"node_id"`
	Branch string `json:"branch"`
	Target string `json:"target"`
}

// RunEvent marks the end of a run.
type RunEvent struct {
	EventBase
	Steps      int    `json:"steps"`
	Difficulty string `json:"difficulty,omitempty"`
	Error      string `json:"error,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability.
// Nil callbacks are skipped.
type LifecycleHooks struct {
	OnNodeEnter   func(context.Context, *NodeEvent)
	OnNodeLeave   func(context.Context, *NodeEvent)
	OnModelCall   func(context.Context, *ModelEvent)
	OnModelReturn func(context.Context, *ModelEvent)
	OnRouted      func(context.Context, *RouteEvent)
	OnRunDone     func(context.Context, *RunEvent)
}

// Merge combines two hook sets; both callbacks run, h first.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeEnter:   chain(h.OnNodeEnter, other.OnNodeEnter),
		OnNodeLeave:   chain(h.OnNodeLeave, other.OnNodeLeave),
		OnModelCall:   chain(h.OnModelCall, other.OnModelCall),
		OnModelReturn: chain(h.OnModelReturn, other.OnModelReturn),
		OnRouted:      chain(h.OnRouted, other.OnRouted),
		OnRunDone:     chain(h.OnRunDone, other.OnRunDone),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
