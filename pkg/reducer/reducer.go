// Package reducer folds node patches into run state.
//
// Each state field has one merge rule: scalars are last-write-wins, messages are
// appended, todos are merged by id and memory refs are deduplicated by key.
// Every rule is associative, so Apply(Apply(s, p1), p2) equals Apply(s, Compose(p1, p2)).
package reducer

import (
	"github.com/aretw0/pergola/pkg/domain"
)

// Apply merges the patch into a copy of the state and returns it.
// Fields absent from the patch are left untouched.
func Apply(s domain.State, p domain.Patch) domain.State {
	out := s.Clone()

	if p.Input != nil && *p.Input != "" && out.Input == "" {
		out.Input = *p.Input
	}
	if p.ResetMessages {
		out.Messages = append([]domain.Message{}, p.Messages...)
	} else {
		out.Messages = AppendMessages(out.Messages, p.Messages)
	}

	LastWins(&out.Iteration, p.Iteration)
	LastWins(&out.MaxIterations, p.MaxIterations)
	LastWins(&out.Difficulty, p.Difficulty)
	LastWins(&out.ReviewResult, p.ReviewResult)
	LastWins(&out.ReviewCount, p.ReviewCount)
	LastWins(&out.ReviewFeedback, p.ReviewFeedback)
	LastWins(&out.Answer, p.Answer)
	LastWins(&out.FinalAnswer, p.FinalAnswer)
	LastWins(&out.LastOutput, p.LastOutput)
	LastWins(&out.CurrentStep, p.CurrentStep)
	LastWins(&out.CurrentTodoIndex, p.CurrentTodoIndex)
	LastWins(&out.CompletionSignal, p.CompletionSignal)
	LastWins(&out.CompletionDetail, p.CompletionDetail)
	LastWins(&out.ContextBudget, p.ContextBudget)
	LastWins(&out.IsComplete, p.IsComplete)
	LastWins(&out.Error, p.Error)

	out.Todos = MergeTodosByID(out.Todos, p.Todos)
	out.MemoryRefs = DedupMemoryRefs(out.MemoryRefs, p.MemoryRefs)
	out.Metadata = MergeMetadata(out.Metadata, p.Metadata)

	return out
}

// Fold applies patches in order.
func Fold(s domain.State, patches ...domain.Patch) domain.State {
	for _, p := range patches {
		s = Apply(s, p)
	}
	return s
}

// LastWins replaces *dst with *src when src is present.
func LastWins[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// AppendMessages concatenates old then new, preserving arrival order.
// Messages are never deduplicated.
func AppendMessages(old, add []domain.Message) []domain.Message {
	if len(add) == 0 {
		return old
	}
	out := make([]domain.Message, 0, len(old)+len(add))
	out = append(out, old...)
	return append(out, add...)
}

// MergeTodosByID replaces items whose id already exists (keeping their position)
// and appends the others in patch order.
func MergeTodosByID(old, add []domain.TodoItem) []domain.TodoItem {
	if len(add) == 0 {
		return old
	}
	out := append([]domain.TodoItem(nil), old...)
	index := make(map[int]int, len(out))
	for i, t := range out {
		index[t.ID] = i
	}
	for _, t := range add {
		if i, ok := index[t.ID]; ok {
			out[i] = t
			continue
		}
		index[t.ID] = len(out)
		out = append(out, t)
	}
	return out
}

// DedupMemoryRefs inserts refs whose key has not been seen. First seen wins.
func DedupMemoryRefs(old, add []domain.MemoryRef) []domain.MemoryRef {
	if len(add) == 0 {
		return old
	}
	out := append([]domain.MemoryRef(nil), old...)
	seen := make(map[string]struct{}, len(out))
	for _, r := range out {
		seen[r.SourceKey] = struct{}{}
	}
	for _, r := range add {
		if _, ok := seen[r.SourceKey]; ok {
			continue
		}
		seen[r.SourceKey] = struct{}{}
		out = append(out, r)
	}
	return out
}

// MergeMetadata overlays add onto old, key by key.
func MergeMetadata(old, add map[string]any) map[string]any {
	if len(add) == 0 {
		return old
	}
	out := make(map[string]any, len(old)+len(add))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}
