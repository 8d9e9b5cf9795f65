package reducer

import "github.com/aretw0/pergola/pkg/domain"

// Compose returns the single patch equivalent to applying p1 then p2.
// It is what a recovering engine replays when it re-applies a step.
func Compose(p1, p2 domain.Patch) domain.Patch {
	out := domain.Patch{}

	// Input only takes on an empty state, so the first present value wins.
	out.Input = first(p1.Input, p2.Input)

	switch {
	case p2.ResetMessages:
		out.ResetMessages = true
		out.Messages = append([]domain.Message{}, p2.Messages...)
	case p1.ResetMessages:
		out.ResetMessages = true
		out.Messages = AppendMessages(append([]domain.Message{}, p1.Messages...), p2.Messages)
	default:
		out.Messages = AppendMessages(p1.Messages, p2.Messages)
	}

	out.Iteration = last(p1.Iteration, p2.Iteration)
	out.MaxIterations = last(p1.MaxIterations, p2.MaxIterations)
	out.Difficulty = last(p1.Difficulty, p2.Difficulty)
	out.ReviewResult = last(p1.ReviewResult, p2.ReviewResult)
	out.ReviewCount = last(p1.ReviewCount, p2.ReviewCount)
	out.ReviewFeedback = last(p1.ReviewFeedback, p2.ReviewFeedback)
	out.Answer = last(p1.Answer, p2.Answer)
	out.FinalAnswer = last(p1.FinalAnswer, p2.FinalAnswer)
	out.LastOutput = last(p1.LastOutput, p2.LastOutput)
	out.CurrentStep = last(p1.CurrentStep, p2.CurrentStep)
	out.CurrentTodoIndex = last(p1.CurrentTodoIndex, p2.CurrentTodoIndex)
	out.CompletionSignal = last(p1.CompletionSignal, p2.CompletionSignal)
	out.CompletionDetail = last(p1.CompletionDetail, p2.CompletionDetail)
	out.ContextBudget = last(p1.ContextBudget, p2.ContextBudget)
	out.IsComplete = last(p1.IsComplete, p2.IsComplete)
	out.Error = last(p1.Error, p2.Error)

	out.Todos = MergeTodosByID(p1.Todos, p2.Todos)
	out.MemoryRefs = DedupMemoryRefs(p1.MemoryRefs, p2.MemoryRefs)
	out.Metadata = MergeMetadata(p1.Metadata, p2.Metadata)

	return out
}

func last[T any](a, b *T) *T {
	if b != nil {
		return b
	}
	return a
}

func first(a, b *string) *string {
	if a != nil && *a != "" {
		return a
	}
	return b
}
