package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/pkg/domain"
)

func msg(n int) domain.Message {
	return domain.Message{Role: domain.RoleUser, Content: strings.Repeat("x", n)}
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate(nil))
	assert.Equal(t, 4, Estimate([]domain.Message{msg(0)}))
	assert.Equal(t, 5, Estimate([]domain.Message{msg(1)}))
	assert.Equal(t, 5, Estimate([]domain.Message{msg(4)}))
	assert.Equal(t, 8+3, Estimate([]domain.Message{msg(5), msg(4)}))

	// Runes, not bytes.
	assert.Equal(t, 5, Estimate([]domain.Message{{Content: "日本語"}}))
}

func TestGuard_Check(t *testing.T) {
	g := Guard{Limit: 100, WarnRatio: 0.75, BlockRatio: 0.90}

	tests := []struct {
		name   string
		chars  int
		status domain.BudgetStatus
		count  int
	}{
		{"OK", 100, domain.BudgetOK, 2},    // 25 + 4 = 29
		{"Warn", 284, domain.BudgetWarn, 2}, // 71 + 4 = 75
		{"Block", 344, domain.BudgetBlock, 3},
		{"At Limit Is Block", 384, domain.BudgetBlock, 3}, // 96 + 4 = 100
		{"Overflow", 388, domain.BudgetOverflow, 3},       // 97 + 4 = 101
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := g.Check([]domain.Message{msg(tt.chars)}, domain.ContextBudget{CompactionCount: 2})
			assert.Equal(t, tt.status, b.Status)
			assert.Equal(t, tt.count, b.CompactionCount)
			assert.Equal(t, 100, b.Limit)
		})
	}
}

func TestGuard_Defaults(t *testing.T) {
	b := Guard{}.Check([]domain.Message{msg(10)}, domain.ContextBudget{})
	assert.Equal(t, DefaultLimit, b.Limit)
	assert.Equal(t, domain.BudgetOK, b.Status)
	assert.Equal(t, DefaultGuard(), Guard{}.normalized())
}

func TestCompact(t *testing.T) {
	history := []domain.Message{msg(1), msg(2), msg(3), msg(4), msg(5)}

	out := Compact(history, 2)
	require.Len(t, out, 3)
	assert.Equal(t, domain.RoleSystem, out[0].Role)
	assert.Contains(t, out[0].Content, "3 earlier messages")
	assert.Equal(t, history[3:], out[1:])

	// Fits already: unchanged copy.
	same := Compact(history, 10)
	assert.Equal(t, history, same)
	same[0].Content = "mutated"
	assert.NotEqual(t, "mutated", history[0].Content)

	assert.Len(t, Compact(history, -1), 1)
	assert.Empty(t, Compact(nil, 0))
}

func TestCompact_ShrinksEstimate(t *testing.T) {
	var history []domain.Message
	for i := 0; i < 50; i++ {
		history = append(history, msg(400))
	}
	assert.Less(t, Estimate(Compact(history, 6)), Estimate(history))
}
