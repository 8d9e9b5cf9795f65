package nodes

import (
	"context"

	"github.com/aretw0/pergola/pkg/budget"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/signal"
)

// transcriptChars bounds what post_model and memory_inject write to memory.
const transcriptChars = 5000

type contextGuardConfig struct {
	PositionLabel string  `mapstructure:"position_label"`
	Limit         int     `mapstructure:"limit"`
	WarnRatio     float64 `mapstructure:"warn_ratio"`
	BlockRatio    float64 `mapstructure:"block_ratio"`
	Compact       bool    `mapstructure:"compact"`
	CompactKeep   int     `mapstructure:"compact_keep"`
}

type contextGuard struct {
	cfg   contextGuardConfig
	guard budget.Guard
}

func newContextGuard(raw map[string]any) (Executor, error) {
	cfg := contextGuardConfig{PositionLabel: "general", Compact: true, CompactKeep: 6}
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	return &contextGuard{
		cfg:   cfg,
		guard: budget.Guard{Limit: cfg.Limit, WarnRatio: cfg.WarnRatio, BlockRatio: cfg.BlockRatio},
	}, nil
}

// Execute recomputes the budget. A tight history is compacted when enabled,
// and the budget then describes the compacted history.
func (g *contextGuard) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	b := g.guard.Check(s.Messages, s.ContextBudget)
	p := domain.Patch{ContextBudget: &b}

	if !b.Status.Tight() {
		return p, nil
	}

	env.log().Warn("context budget tight",
		"position", g.cfg.PositionLabel,
		"status", b.Status,
		"tokens", b.EstimatedTokens,
		"limit", b.Limit,
	)

	if g.cfg.Compact && len(s.Messages) > g.cfg.CompactKeep {
		compacted := budget.Compact(s.Messages, g.cfg.CompactKeep)
		after := g.guard.Check(compacted, domain.ContextBudget{})
		after.CompactionCount = b.CompactionCount
		p.Messages = compacted
		p.ResetMessages = true
		p.ContextBudget = &after
		env.log().Info("history compacted", "kept", g.cfg.CompactKeep, "status", after.Status)
	}
	return p, nil
}

type postModelConfig struct {
	DetectCompletion bool `mapstructure:"detect_completion"`
	RecordTranscript bool `mapstructure:"record_transcript"`
}

type postModel struct {
	cfg postModelConfig
}

func newPostModel(raw map[string]any) (Executor, error) {
	cfg := postModelConfig{DetectCompletion: true, RecordTranscript: true}
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	return &postModel{cfg: cfg}, nil
}

// Execute increments the iteration counter, detects completion markers in the
// latest output and records that output to memory.
func (n *postModel) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	p := domain.Patch{
		Iteration:   domain.Ptr(s.Iteration + 1),
		CurrentStep: domain.Ptr("post_model"),
	}

	if n.cfg.DetectCompletion && s.LastOutput != "" {
		sig, detail := signal.Detect(s.LastOutput)
		p.CompletionSignal = &sig
		p.CompletionDetail = &detail
		if sig.Terminal() {
			env.log().Info("completion signal", "signal", sig, "detail", detail)
		}
	}

	if n.cfg.RecordTranscript {
		env.record(ctx, domain.RoleAssistant, head(s.LastOutput, transcriptChars))
	}
	return p, nil
}

type transcriptRecordConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

type transcriptRecord struct {
	cfg transcriptRecordConfig
}

func newTranscriptRecord(raw map[string]any) (Executor, error) {
	cfg := transcriptRecordConfig{MaxLength: transcriptChars}
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	return &transcriptRecord{cfg: cfg}, nil
}

func (n *transcriptRecord) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	env.record(ctx, domain.RoleAssistant, head(s.LastOutput, n.cfg.MaxLength))
	return domain.Patch{}, nil
}

type memoryInjectConfig struct {
	MaxResults  int `mapstructure:"max_results"`
	SearchChars int `mapstructure:"search_chars"`
}

type memoryInject struct {
	cfg memoryInjectConfig
}

func newMemoryInject(raw map[string]any) (Executor, error) {
	cfg := memoryInjectConfig{MaxResults: 5, SearchChars: 500}
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	return &memoryInject{cfg: cfg}, nil
}

// Execute records the request and loads references to related memories.
// Memory problems never fail the run.
func (n *memoryInject) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	if env.Memory == nil {
		env.log().Debug("no memory store configured")
		return domain.Patch{}, nil
	}

	env.record(ctx, domain.RoleUser, head(s.Input, transcriptChars))

	refs, err := env.Memory.Search(ctx, env.RunID, head(s.Input, n.cfg.SearchChars), n.cfg.MaxResults)
	if err != nil {
		env.log().Warn("memory search failed", "error", err)
		return domain.Patch{}, nil
	}
	if len(refs) == 0 {
		return domain.Patch{}, nil
	}
	env.log().Info("memory refs loaded", "count", len(refs))
	return domain.Patch{MemoryRefs: refs}, nil
}
