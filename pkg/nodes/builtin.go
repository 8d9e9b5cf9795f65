package nodes

import (
	"context"

	"github.com/aretw0/pergola/pkg/domain"
)

// Kind names of the built-in node kinds.
const (
	KindContextGuard      = "context_guard"
	KindPostModel         = "post_model"
	KindIterationGate     = "iteration_gate"
	KindCheckProgress     = "check_progress"
	KindMemoryInject      = "memory_inject"
	KindTranscriptRecord  = "transcript_record"
	KindClassify          = "classify"
	KindDirectAnswer      = "direct_answer"
	KindAnswer            = "answer"
	KindReview            = "review"
	KindCreateTodos       = "create_todos"
	KindExecuteTodo       = "execute_todo"
	KindFinalReview       = "final_review"
	KindFinalAnswer       = "final_answer"
	KindLLMCall           = "llm_call"
	KindConditionalRouter = "conditional_router"
	KindStateSetter       = "state_setter"
)

type passthrough struct{}

func (passthrough) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	return domain.Patch{}, nil
}

func newPassthrough(raw map[string]any) (Executor, error) {
	return passthrough{}, nil
}

// Builtin returns a registry holding every built-in kind, including the
// start and end pseudo-kinds.
func Builtin() *Registry {
	r := NewRegistry()
	for _, k := range builtinKinds {
		r.MustRegister(k)
	}
	return r
}

var builtinKinds = []Kind{
	{
		Name:        domain.KindStart,
		Description: "Entry point of the graph",
		New:         newPassthrough,
	},
	{
		Name:        domain.KindEnd,
		Description: "Terminal node of the graph",
		New:         newPassthrough,
	},
	{
		Name:        KindContextGuard,
		Description: "Estimate context usage and compact the history when it is tight",
		Reads:       []string{"messages", "context_budget"},
		Writes:      []string{"context_budget", "messages"},
		New:         newContextGuard,
	},
	{
		Name:        KindPostModel,
		Description: "Count the iteration, detect completion markers, record the transcript",
		Reads:       []string{"iteration", "last_output"},
		Writes:      []string{"iteration", "current_step", "completion_signal", "completion_detail"},
		New:         newPostModel,
	},
	{
		Name:        KindIterationGate,
		Description: "Stop a loop on errors, iteration limit, tight budget or completion signals",
		Branches:    []string{BranchContinue, BranchStop},
		Reads:       []string{"error", "iteration", "max_iterations", "context_budget", "completion_signal", "is_complete", "answer", "final_answer"},
		Writes:      []string{"is_complete", "metadata", "final_answer"},
		New:         newIterationGate,
	},
	{
		Name:        KindCheckProgress,
		Description: "Check todo list progress",
		Branches:    []string{BranchContinue, BranchComplete},
		Reads:       []string{"todos", "current_todo_index", "completion_signal", "is_complete", "error"},
		Writes:      []string{"current_step", "metadata"},
		New:         newCheckProgress,
	},
	{
		Name:        KindMemoryInject,
		Description: "Record the request and load related memories",
		Reads:       []string{"input"},
		Writes:      []string{"memory_refs"},
		New:         newMemoryInject,
	},
	{
		Name:        KindTranscriptRecord,
		Description: "Record the latest output to memory",
		Reads:       []string{"last_output"},
		New:         newTranscriptRecord,
	},
	{
		Name:        KindClassify,
		Description: "Classify the request as easy, medium or hard",
		Branches:    []string{BranchEasy, BranchMedium, BranchHard, BranchEnd},
		Model:       true,
		Reads:       []string{"input", "error"},
		Writes:      []string{"difficulty", "messages", "last_output", "current_step"},
		New:         newClassify,
	},
	{
		Name:        KindDirectAnswer,
		Description: "Answer an easy request in one call",
		Model:       true,
		Reads:       []string{"input"},
		Writes:      []string{"answer", "final_answer", "last_output", "messages", "current_step", "is_complete"},
		New:         newDirectAnswer,
	},
	{
		Name:        KindAnswer,
		Description: "Answer a request, using review feedback on retries",
		Model:       true,
		Reads:       []string{"input", "review_count", "review_feedback", "context_budget"},
		Writes:      []string{"answer", "last_output", "messages", "current_step"},
		New:         newAnswer,
	},
	{
		Name:        KindReview,
		Description: "Review the answer and approve it or ask for a retry",
		Branches:    []string{BranchApproved, BranchRetry, BranchEnd},
		Model:       true,
		Reads:       []string{"input", "answer", "review_count", "completion_signal", "is_complete", "error"},
		Writes:      []string{"review_result", "review_feedback", "review_count", "final_answer", "is_complete", "last_output", "messages", "current_step"},
		New:         newReview,
	},
	{
		Name:        KindCreateTodos,
		Description: "Plan the work as a list of todos",
		Model:       true,
		Reads:       []string{"input"},
		Writes:      []string{"todos", "current_todo_index", "last_output", "messages", "current_step"},
		New:         newCreateTodos,
	},
	{
		Name:        KindExecuteTodo,
		Description: "Work on the current todo",
		Model:       true,
		Reads:       []string{"input", "todos", "current_todo_index", "context_budget"},
		Writes:      []string{"todos", "current_todo_index", "last_output", "messages", "current_step"},
		New:         newExecuteTodo,
	},
	{
		Name:        KindFinalReview,
		Description: "Review all todo results",
		Model:       true,
		Reads:       []string{"input", "todos", "context_budget"},
		Writes:      []string{"review_feedback", "last_output", "messages", "current_step"},
		New:         newFinalReview,
	},
	{
		Name:        KindFinalAnswer,
		Description: "Synthesise the final answer from todo results and review notes",
		Model:       true,
		Reads:       []string{"input", "todos", "review_feedback", "context_budget"},
		Writes:      []string{"final_answer", "last_output", "messages", "current_step", "is_complete", "error"},
		New:         newFinalAnswer,
	},
	{
		Name:        KindLLMCall,
		Description: "Call the model with a templated prompt",
		Model:       true,
		Writes:      []string{"last_output", "answer", "final_answer", "messages", "current_step", "is_complete"},
		New:         newLLMCall,
	},
	{
		Name:        KindConditionalRouter,
		Description: "Route on the value of a state field",
		Dynamic:     true,
		Reads:       []string{"error"},
		Writes:      []string{"current_step"},
		New:         newConditionalRouter,
	},
	{
		Name:        KindStateSetter,
		Description: "Set state fields to configured values",
		New:         newStateSetter,
	},
}

// FieldReader is implemented by executors whose reads depend on configuration.
type FieldReader interface {
	Reads() []string
}

// FieldWriter is implemented by executors whose writes depend on configuration.
type FieldWriter interface {
	Writes() []string
}

// Reads returns the routing field for inspection.
func (r *conditionalRouter) Reads() []string {
	return []string{r.field}
}

// Writes lists the fields the configured patch sets.
func (n *stateSetter) Writes() []string {
	return n.patch.Fields()
}
