package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/pergola/pkg/domain"
)

// Branch names shared by the gate kinds.
const (
	BranchContinue = "continue"
	BranchStop     = "stop"
	BranchComplete = "complete"
)

// defaultMaxIterations applies when neither state nor config set a limit.
const defaultMaxIterations = 50

type iterationGateConfig struct {
	MaxIterationsOverride int `mapstructure:"max_iterations_override"`
}

type iterationGate struct {
	cfg iterationGateConfig
}

func newIterationGate(raw map[string]any) (Executor, error) {
	var cfg iterationGateConfig
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxIterationsOverride < 0 {
		return nil, fmt.Errorf("max_iterations_override must not be negative")
	}
	return &iterationGate{cfg: cfg}, nil
}

func (g *iterationGate) limit(s domain.State) int {
	switch {
	case g.cfg.MaxIterationsOverride > 0:
		return g.cfg.MaxIterationsOverride
	case s.MaxIterations > 0:
		return s.MaxIterations
	default:
		return defaultMaxIterations
	}
}

// stopReason returns why the loop must end, or "" to continue.
func (g *iterationGate) stopReason(s domain.State) string {
	if s.Error != "" {
		return "error: " + s.Error
	}
	if max := g.limit(s); s.Iteration >= max {
		return fmt.Sprintf("iteration limit (%d/%d)", s.Iteration, max)
	}
	if s.ContextBudget.Status.Tight() {
		return "context budget " + string(s.ContextBudget.Status)
	}
	switch s.CompletionSignal {
	case domain.SignalComplete, domain.SignalBlocked, domain.SignalError:
		return "completion signal: " + string(s.CompletionSignal)
	default:
		return ""
	}
}

func (g *iterationGate) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	reason := g.stopReason(s)
	if reason == "" {
		return domain.Patch{}, nil
	}
	env.log().Warn("iteration gate stop", "reason", reason)
	p := domain.Patch{
		IsComplete: domain.Ptr(true),
		Metadata:   map[string]any{"stop_reason": reason},
	}
	// A loop cut short keeps its latest draft as the answer.
	if s.Error == "" && s.FinalAnswer == "" && s.Answer != "" {
		p.FinalAnswer = finalText(s.Answer)
	}
	return p, nil
}

func (g *iterationGate) Route(s domain.State) string {
	if s.Error != "" || s.IsComplete {
		return BranchStop
	}
	return BranchContinue
}

type checkProgress struct{}

func newCheckProgress(raw map[string]any) (Executor, error) {
	if err := decode(raw, &struct{}{}); err != nil {
		return nil, err
	}
	return checkProgress{}, nil
}

func (checkProgress) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	completed := 0
	for _, t := range s.Todos {
		if t.Status == domain.TodoCompleted {
			completed++
		}
	}
	env.log().Info("progress", "completed", completed, "index", s.CurrentTodoIndex, "total", len(s.Todos))
	return domain.Patch{
		CurrentStep: domain.Ptr("progress_checked"),
		Metadata: map[string]any{
			"completed_todos": completed,
			"pending_todos":   len(s.Todos) - completed,
			"total_todos":     len(s.Todos),
		},
	}, nil
}

func (checkProgress) Route(s domain.State) string {
	if s.Error != "" || s.IsComplete {
		return BranchComplete
	}
	if s.CompletionSignal == domain.SignalComplete || s.CompletionSignal == domain.SignalBlocked {
		return BranchComplete
	}
	if s.CurrentTodoIndex >= len(s.Todos) {
		return BranchComplete
	}
	return BranchContinue
}

type conditionalRouterConfig struct {
	RoutingField string `mapstructure:"routing_field"`
	// RouteMap is an object, or a JSON document encoding one.
	RouteMap    any    `mapstructure:"route_map"`
	DefaultPort string `mapstructure:"default_port"`
}

type conditionalRouter struct {
	field       string
	routes      map[string]string
	defaultPort string
}

func newConditionalRouter(raw map[string]any) (Executor, error) {
	cfg := conditionalRouterConfig{
		RoutingField: "difficulty",
		DefaultPort:  domain.DefaultPort,
	}
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.RouteMap == nil {
		cfg.RouteMap = map[string]any{"easy": "easy", "medium": "medium", "hard": "hard"}
	}

	if s, ok := cfg.RouteMap.(string); ok {
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("route_map: %w", err)
		}
		cfg.RouteMap = m
	}
	var routes map[string]string
	if err := mapstructure.WeakDecode(cfg.RouteMap, &routes); err != nil {
		return nil, fmt.Errorf("route_map: %w", err)
	}

	r := &conditionalRouter{field: cfg.RoutingField, routes: make(map[string]string, len(routes)), defaultPort: cfg.DefaultPort}
	for value, port := range routes {
		if port == "" {
			return nil, fmt.Errorf("route_map: empty port for %q", value)
		}
		r.routes[strings.ToLower(strings.TrimSpace(value))] = port
	}
	if _, ok := stateVars(domain.State{})[r.field]; !ok && r.field != "is_complete" {
		return nil, fmt.Errorf("routing_field %q is not a routable state field", r.field)
	}
	return r, nil
}

func (r *conditionalRouter) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	return domain.Patch{CurrentStep: domain.Ptr("routed")}, nil
}

// Route maps the configured field through the route map. The error check
// stays first: a failed run leaves through the default port.
func (r *conditionalRouter) Route(s domain.State) string {
	if s.Error != "" {
		return r.defaultPort
	}
	value := strconv.FormatBool(s.IsComplete)
	if r.field != "is_complete" {
		value = stateVars(s)[r.field]
	}
	if port, ok := r.routes[strings.ToLower(strings.TrimSpace(value))]; ok {
		return port
	}
	return r.defaultPort
}

func (r *conditionalRouter) Branches() []string {
	seen := map[string]bool{r.defaultPort: true}
	out := []string{r.defaultPort}
	for _, port := range r.routes {
		if !seen[port] {
			seen[port] = true
			out = append(out, port)
		}
	}
	sort.Strings(out[1:])
	return out
}

type stateSetterConfig struct {
	// StateUpdates is an object, or a JSON document encoding one.
	StateUpdates any `mapstructure:"state_updates"`
}

type stateSetter struct {
	patch domain.Patch
}

func newStateSetter(raw map[string]any) (Executor, error) {
	var cfg stateSetterConfig
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	if s, ok := cfg.StateUpdates.(string); ok {
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("state_updates: %w", err)
		}
		cfg.StateUpdates = m
	}

	var p domain.Patch
	if cfg.StateUpdates != nil {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &p,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(cfg.StateUpdates); err != nil {
			return nil, fmt.Errorf("state_updates: %w", err)
		}
	}
	if err := validateEnums(p); err != nil {
		return nil, fmt.Errorf("state_updates: %w", err)
	}
	return &stateSetter{patch: p}, nil
}

func validateEnums(p domain.Patch) error {
	if p.Difficulty != nil && *p.Difficulty != "" {
		v, err := domain.ParseDifficulty(string(*p.Difficulty))
		if err != nil {
			return err
		}
		*p.Difficulty = v
	}
	if p.ReviewResult != nil && *p.ReviewResult != "" {
		v, err := domain.ParseReviewResult(string(*p.ReviewResult))
		if err != nil {
			return err
		}
		*p.ReviewResult = v
	}
	if p.CompletionSignal != nil {
		switch *p.CompletionSignal {
		case domain.SignalNone, domain.SignalComplete, domain.SignalBlocked, domain.SignalError, domain.SignalContinue:
		default:
			return fmt.Errorf("unknown completion signal %q", *p.CompletionSignal)
		}
	}
	return nil
}

func (n *stateSetter) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	return n.patch, nil
}
