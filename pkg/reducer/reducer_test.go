package reducer

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestApply_AbsentFieldsUntouched(t *testing.T) {
	s := domain.NewState("goal", 5)
	s.Answer = "kept"
	s.Iteration = 2

	out := Apply(s, domain.Patch{LastOutput: domain.Ptr("x")})

	assert.Equal(t, "kept", out.Answer)
	assert.Equal(t, 2, out.Iteration)
	assert.Equal(t, "x", out.LastOutput)
}

func TestApply_DoesNotAliasInput(t *testing.T) {
	s := domain.NewState("goal", 5)
	s.Todos = []domain.TodoItem{{ID: 1, Title: "a", Status: domain.TodoPending}}

	out := Apply(s, domain.Patch{Todos: []domain.TodoItem{{ID: 1, Title: "a", Status: domain.TodoCompleted}}})

	assert.Equal(t, domain.TodoPending, s.Todos[0].Status)
	assert.Equal(t, domain.TodoCompleted, out.Todos[0].Status)
}

func TestApply_InputImmutable(t *testing.T) {
	s := domain.NewState("original", 5)
	out := Apply(s, domain.Patch{Input: domain.Ptr("rewritten")})
	assert.Equal(t, "original", out.Input)
}

func TestAppendMessages(t *testing.T) {
	old := []domain.Message{{Role: "user", Content: "a"}}
	out := AppendMessages(old, []domain.Message{{Role: "assistant", Content: "a"}, {Role: "user", Content: "a"}})
	assert.Len(t, out, 3, "messages are never deduplicated")
	assert.Equal(t, "user", out[0].Role)
	assert.Equal(t, "assistant", out[1].Role)
}

func TestMergeTodosByID(t *testing.T) {
	old := []domain.TodoItem{
		{ID: 1, Title: "one"},
		{ID: 2, Title: "two"},
		{ID: 3, Title: "three"},
	}
	out := MergeTodosByID(old, []domain.TodoItem{
		{ID: 2, Title: "two", Status: domain.TodoCompleted, Result: "done"},
		{ID: 7, Title: "seven"},
	})

	assert.Equal(t, []int{1, 2, 3, 7}, ids(out))
	assert.Equal(t, "done", out[1].Result)
	assert.Empty(t, old[1].Result, "old slice must not be mutated")
}

func TestDedupMemoryRefs(t *testing.T) {
	old := []domain.MemoryRef{{SourceKey: "notes.md", ContentSummary: "first"}}
	out := DedupMemoryRefs(old, []domain.MemoryRef{
		{SourceKey: "notes.md", ContentSummary: "second"},
		{SourceKey: "log.md", ContentSummary: "x"},
		{SourceKey: "log.md", ContentSummary: "y"},
	})

	assert.Len(t, out, 2)
	assert.Equal(t, "first", out[0].ContentSummary)
	assert.Equal(t, "x", out[1].ContentSummary)
}

func TestCompose_ResetMessages(t *testing.T) {
	s := domain.NewState("goal", 5)
	s.Messages = []domain.Message{{Role: "user", Content: "1"}, {Role: "assistant", Content: "2"}}

	compact := domain.Patch{ResetMessages: true, Messages: []domain.Message{{Role: "system", Content: "summary"}}}
	add := domain.Patch{Messages: []domain.Message{{Role: "assistant", Content: "3"}}}

	assert.Equal(t, Apply(Apply(s, compact), add), Apply(s, Compose(compact, add)))
	assert.Equal(t, Apply(Apply(s, add), compact), Apply(s, Compose(add, compact)))
}

// TestCompose_Associative checks, for random patch pairs, that applying them in
// sequence equals applying their composition.
func TestCompose_Associative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		s := randomState(rng)
		p1 := randomPatch(rng)
		p2 := randomPatch(rng)

		sequential := Apply(Apply(s, p1), p2)
		combined := Apply(s, Compose(p1, p2))

		if !assert.Equal(t, sequential, combined, "iteration %d", i) {
			return
		}
	}
}

// TestCompose_Grouping checks (p1∘p2)∘p3 == p1∘(p2∘p3) in effect.
func TestCompose_Grouping(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 300; i++ {
		s := randomState(rng)
		p1, p2, p3 := randomPatch(rng), randomPatch(rng), randomPatch(rng)

		left := Apply(s, Compose(Compose(p1, p2), p3))
		right := Apply(s, Compose(p1, Compose(p2, p3)))

		if !assert.Equal(t, left, right, "iteration %d", i) {
			return
		}
	}
}

func ids(todos []domain.TodoItem) []int {
	out := make([]int, 0, len(todos))
	for _, t := range todos {
		out = append(out, t.ID)
	}
	return out
}

func randomState(rng *rand.Rand) domain.State {
	s := domain.NewState("goal", 1+rng.Intn(10))
	s.Iteration = rng.Intn(5)
	for i := 0; i < rng.Intn(4); i++ {
		s.Messages = append(s.Messages, domain.Message{Role: "user", Content: fmt.Sprint(i)})
	}
	s.Todos = randomTodos(rng)
	s.MemoryRefs = randomRefs(rng)
	return s
}

func randomPatch(rng *rand.Rand) domain.Patch {
	var p domain.Patch
	if rng.Intn(2) == 0 {
		p.Iteration = domain.Ptr(rng.Intn(10))
	}
	if rng.Intn(2) == 0 {
		p.Answer = domain.Ptr(fmt.Sprintf("answer-%d", rng.Intn(3)))
	}
	if rng.Intn(3) == 0 {
		p.CompletionSignal = domain.Ptr([]domain.CompletionSignal{
			domain.SignalNone, domain.SignalComplete, domain.SignalContinue,
		}[rng.Intn(3)])
	}
	if rng.Intn(3) == 0 {
		p.IsComplete = domain.Ptr(rng.Intn(2) == 0)
	}
	if rng.Intn(2) == 0 {
		for i := 0; i < 1+rng.Intn(3); i++ {
			p.Messages = append(p.Messages, domain.Message{Role: "assistant", Content: fmt.Sprint(rng.Intn(100))})
		}
	}
	if rng.Intn(5) == 0 {
		p.ResetMessages = true
	}
	if rng.Intn(2) == 0 {
		p.Todos = randomTodos(rng)
	}
	if rng.Intn(2) == 0 {
		p.MemoryRefs = randomRefs(rng)
	}
	if rng.Intn(3) == 0 {
		p.Metadata = map[string]any{fmt.Sprintf("k%d", rng.Intn(3)): rng.Intn(10)}
	}
	return p
}

func randomTodos(rng *rand.Rand) []domain.TodoItem {
	var out []domain.TodoItem
	for i := 0; i < rng.Intn(4); i++ {
		status := domain.TodoPending
		if rng.Intn(2) == 0 {
			status = domain.TodoCompleted
		}
		out = append(out, domain.TodoItem{
			ID:     1 + rng.Intn(5),
			Title:  fmt.Sprintf("t%d", rng.Intn(100)),
			Status: status,
		})
	}
	return out
}

func randomRefs(rng *rand.Rand) []domain.MemoryRef {
	var out []domain.MemoryRef
	for i := 0; i < rng.Intn(4); i++ {
		out = append(out, domain.MemoryRef{
			SourceKey:      fmt.Sprintf("src-%d", rng.Intn(4)),
			ContentSummary: fmt.Sprint(rng.Intn(100)),
		})
	}
	return out
}
