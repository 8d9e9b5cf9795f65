package domain

// Patch is the sparse update a node executor returns.
// A nil pointer, slice or map means "field absent": the reducer leaves it untouched.
type Patch struct {
	Input *string `json:"input,omitempty" mapstructure:"input"`

	// Messages are appended, unless ResetMessages is set, in which case they replace
	// the history. Only compaction resets.
	Messages      []Message `json:"messages,omitempty" mapstructure:"messages"`
	ResetMessages bool      `json:"reset_messages,omitempty" mapstructure:"-"`

	Iteration     *int `json:"iteration,omitempty" mapstructure:"iteration"`
	MaxIterations *int `json:"max_iterations,omitempty" mapstructure:"max_iterations"`

	Difficulty     *Difficulty   `json:"difficulty,omitempty" mapstructure:"difficulty"`
	ReviewResult   *ReviewResult `json:"review_result,omitempty" mapstructure:"review_result"`
	ReviewCount    *int          `json:"review_count,omitempty" mapstructure:"review_count"`
	ReviewFeedback *string       `json:"review_feedback,omitempty" mapstructure:"review_feedback"`

	Answer      *string `json:"answer,omitempty" mapstructure:"answer"`
	FinalAnswer *string `json:"final_answer,omitempty" mapstructure:"final_answer"`
	LastOutput  *string `json:"last_output,omitempty" mapstructure:"last_output"`
	CurrentStep *string `json:"current_step,omitempty" mapstructure:"current_step"`

	Todos            []TodoItem `json:"todos,omitempty" mapstructure:"todos"`
	CurrentTodoIndex *int       `json:"current_todo_index,omitempty" mapstructure:"current_todo_index"`

	CompletionSignal *CompletionSignal `json:"completion_signal,omitempty" mapstructure:"completion_signal"`
	CompletionDetail *string           `json:"completion_detail,omitempty" mapstructure:"completion_detail"`

	ContextBudget *ContextBudget `json:"context_budget,omitempty" mapstructure:"-"`

	IsComplete *bool   `json:"is_complete,omitempty" mapstructure:"is_complete"`
	Error      *string `json:"error,omitempty" mapstructure:"error"`

	MemoryRefs []MemoryRef     `json:"memory_refs,omitempty" mapstructure:"memory_refs"`
	Metadata   map[string]any `json:"metadata,omitempty" mapstructure:"metadata"`
}

// Ptr returns a pointer to v. It keeps patch literals short.
func Ptr[T any](v T) *T {
	return &v
}

// Fields lists the state fields present in the patch, in declaration order.
func (p Patch) Fields() []string {
	var out []string
	add := func(present bool, name string) {
		if present {
			out = append(out, name)
		}
	}
	add(p.Input != nil, "input")
	add(p.Messages != nil || p.ResetMessages, "messages")
	add(p.Iteration != nil, "iteration")
	add(p.MaxIterations != nil, "max_iterations")
	add(p.Difficulty != nil, "difficulty")
	add(p.ReviewResult != nil, "review_result")
	add(p.ReviewCount != nil, "review_count")
	add(p.ReviewFeedback != nil, "review_feedback")
	add(p.Answer != nil, "answer")
	add(p.FinalAnswer != nil, "final_answer")
	add(p.LastOutput != nil, "last_output")
	add(p.CurrentStep != nil, "current_step")
	add(p.Todos != nil, "todos")
	add(p.CurrentTodoIndex != nil, "current_todo_index")
	add(p.CompletionSignal != nil, "completion_signal")
	add(p.CompletionDetail != nil, "completion_detail")
	add(p.ContextBudget != nil, "context_budget")
	add(p.IsComplete != nil, "is_complete")
	add(p.Error != nil, "error")
	add(p.MemoryRefs != nil, "memory_refs")
	add(p.Metadata != nil, "metadata")
	return out
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Fail is the patch every model node returns when its invocation fails.
func Fail(err error) Patch {
	return Patch{
		Error:      Ptr(err.Error()),
		IsComplete: Ptr(true),
	}
}
