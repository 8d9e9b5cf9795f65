// Package budget estimates how much of the model context window a run's
// message history uses, and shrinks the history when it gets too large.
package budget

import (
	"fmt"
	"unicode/utf8"

	"github.com/aretw0/pergola/pkg/domain"
)

const (
	DefaultLimit      = 128000
	DefaultWarnRatio  = 0.75
	DefaultBlockRatio = 0.90

	// CharsPerToken is the heuristic used by Estimate.
	CharsPerToken = 4
	// MessageOverhead is the fixed per-message token cost (role, separators).
	MessageOverhead = 4
)

// Guard holds the thresholds of the budget check. Zero fields take the defaults.
type Guard struct {
	Limit      int     `yaml:"limit" mapstructure:"limit" validate:"gte=0"`
	WarnRatio  float64 `yaml:"warn_ratio" mapstructure:"warn_ratio" validate:"gte=0,lte=1"`
	BlockRatio float64 `yaml:"block_ratio" mapstructure:"block_ratio" validate:"gte=0,lte=1"`
}

// DefaultGuard returns a guard with the default thresholds.
func DefaultGuard() Guard {
	return Guard{Limit: DefaultLimit, WarnRatio: DefaultWarnRatio, BlockRatio: DefaultBlockRatio}
}

func (g Guard) normalized() Guard {
	if g.Limit <= 0 {
		g.Limit = DefaultLimit
	}
	if g.WarnRatio <= 0 {
		g.WarnRatio = DefaultWarnRatio
	}
	if g.BlockRatio <= 0 {
		g.BlockRatio = DefaultBlockRatio
	}
	if g.WarnRatio > g.BlockRatio {
		g.WarnRatio = g.BlockRatio
	}
	return g
}

// Estimate approximates the token count of messages: characters / 4, rounded
// up, plus a fixed overhead per message.
func Estimate(messages []domain.Message) int {
	chars := 0
	for _, m := range messages {
		chars += utf8.RuneCountInString(m.Content)
	}
	return (chars+CharsPerToken-1)/CharsPerToken + MessageOverhead*len(messages)
}

// Check classifies the current history. The compaction count is carried over
// from previous and incremented whenever the status is block or overflow.
func (g Guard) Check(messages []domain.Message, previous domain.ContextBudget) domain.ContextBudget {
	g = g.normalized()

	estimate := Estimate(messages)
	ratio := float64(estimate) / float64(g.Limit)

	var status domain.BudgetStatus
	switch {
	case estimate > g.Limit:
		status = domain.BudgetOverflow
	case ratio >= g.BlockRatio:
		status = domain.BudgetBlock
	case ratio >= g.WarnRatio:
		status = domain.BudgetWarn
	default:
		status = domain.BudgetOK
	}

	count := previous.CompactionCount
	if status.Tight() {
		count++
	}

	return domain.ContextBudget{
		EstimatedTokens: estimate,
		Limit:           g.Limit,
		Ratio:           ratio,
		Status:          status,
		CompactionCount: count,
	}
}

// Compact keeps the last keep messages and prepends one system note counting
// the dropped ones. A history that already fits is returned as a copy.
func Compact(messages []domain.Message, keep int) []domain.Message {
	if keep < 0 {
		keep = 0
	}
	if len(messages) <= keep {
		return append([]domain.Message{}, messages...)
	}

	dropped := len(messages) - keep
	out := make([]domain.Message, 0, keep+1)
	out = append(out, domain.Message{
		Role:    domain.RoleSystem,
		Content: fmt.Sprintf("[context compacted: %d earlier messages removed]", dropped),
	})
	return append(out, messages[dropped:]...)
}
