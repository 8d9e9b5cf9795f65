package domain

// Message roles recorded in the run history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry of the accumulated conversation.
type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// TodoItem is a unit of planned work on the hard path.
type TodoItem struct {
	ID          int        `json:"id" mapstructure:"id"`
	Title       string     `json:"title" mapstructure:"title"`
	Description string     `json:"description" mapstructure:"description"`
	Status      TodoStatus `json:"status" mapstructure:"status"`
	Result      string     `json:"result,omitempty" mapstructure:"result"`
}

// MemoryRef points at a memory entry relevant to the run.
// Content is referenced, not inlined into the message history.
type MemoryRef struct {
	SourceKey      string `json:"source_key" mapstructure:"source_key"`
	ContentSummary string `json:"content_summary" mapstructure:"content_summary"`
}

// ContextBudget is the latest token usage estimate.
type ContextBudget struct {
	EstimatedTokens int          `json:"estimated_tokens"`
	Limit           int          `json:"limit"`
	Ratio           float64      `json:"ratio"`
	Status          BudgetStatus `json:"status"`
	CompactionCount int          `json:"compaction_count"`
}

// State represents the current snapshot of one run.
// It is owned by exactly one in-flight run and passed by value to node executors.
type State struct {
	// Input is the original request. Immutable once the run has started.
	Input string `json:"input"`

	// Messages is the append-only conversation history.
	Messages []Message `json:"messages,omitempty"`

	Iteration     int `json:"iteration"`
	MaxIterations int `json:"max_iterations"`

	Difficulty     Difficulty   `json:"difficulty,omitempty"`
	ReviewResult   ReviewResult `json:"review_result,omitempty"`
	ReviewCount    int          `json:"review_count"`
	ReviewFeedback string       `json:"review_feedback,omitempty"`

	Answer      string `json:"answer,omitempty"`
	FinalAnswer string `json:"final_answer,omitempty"`
	LastOutput  string `json:"last_output,omitempty"`
	CurrentStep string `json:"current_step,omitempty"`

	Todos            []TodoItem `json:"todos,omitempty"`
	CurrentTodoIndex int        `json:"current_todo_index"`

	CompletionSignal CompletionSignal `json:"completion_signal,omitempty"`
	CompletionDetail string           `json:"completion_detail,omitempty"`

	ContextBudget ContextBudget `json:"context_budget"`

	// IsComplete, once true, makes conditional routers end the run.
	IsComplete bool `json:"is_complete"`
	// Error, once set, makes every router route to the terminal node.
	Error string `json:"error,omitempty"`

	MemoryRefs []MemoryRef     `json:"memory_refs,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewState creates the entry state of a run.
func NewState(input string, maxIterations int) State {
	return State{
		Input:         input,
		MaxIterations: maxIterations,
		ContextBudget: ContextBudget{Status: BudgetOK},
	}
}

// Clone returns a deep copy so the caller can hand the state to code it does not trust
// with its backing arrays.
func (s State) Clone() State {
	out := s
	if s.Messages != nil {
		out.Messages = append(make([]Message, 0, len(s.Messages)), s.Messages...)
	}
	if s.Todos != nil {
		out.Todos = append(make([]TodoItem, 0, len(s.Todos)), s.Todos...)
	}
	if s.MemoryRefs != nil {
		out.MemoryRefs = append(make([]MemoryRef, 0, len(s.MemoryRefs)), s.MemoryRefs...)
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// CurrentTodo returns the todo at CurrentTodoIndex, if any.
func (s State) CurrentTodo() (TodoItem, bool) {
	if s.CurrentTodoIndex < 0 || s.CurrentTodoIndex >= len(s.Todos) {
		return TodoItem{}, false
	}
	return s.Todos[s.CurrentTodoIndex], true
}
