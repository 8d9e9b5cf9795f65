package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/extract"
)

// DefaultMaxTodos caps the plan produced by create_todos.
const DefaultMaxTodos = 20

const noPreviousResults = "(No previous items completed)"

var todoSchema = extract.Schema{
	Fields: []extract.Field{{
		Name:  "todos",
		Type:  extract.TypeList,
		Label: "todos",
	}},
	ListField: "todos",
}

type createTodosConfig struct {
	PromptTemplate string `mapstructure:"prompt_template"`
	MaxTodos       int    `mapstructure:"max_todos"`
}

type createTodos struct {
	cfg       createTodosConfig
	extractor *extract.Extractor
}

func newCreateTodos(raw map[string]any) (Executor, error) {
	cfg := createTodosConfig{PromptTemplate: CreateTodosPrompt, MaxTodos: DefaultMaxTodos}
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxTodos < 1 {
		return nil, fmt.Errorf("max_todos must be at least 1, got %d", cfg.MaxTodos)
	}
	x, err := extract.New(todoSchema)
	if err != nil {
		return nil, err
	}
	return &createTodos{cfg: cfg, extractor: x}, nil
}

func (n *createTodos) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	out, err := env.Invoke(ctx, render(n.cfg.PromptTemplate, map[string]string{"input": s.Input}))
	if err != nil {
		return domain.Fail(err), nil
	}

	r := n.extractor.Extract(out)
	todos := buildTodos(r.List("todos"), n.cfg.MaxTodos)
	if len(todos) == 0 {
		env.log().Warn("no plan found in model output, using a single item", "provenance", r.Provenance)
		todos = []domain.TodoItem{{ID: 1, Title: "Execute task", Description: s.Input, Status: domain.TodoPending}}
	}
	env.log().Info("todos created", "count", len(todos))

	return domain.Patch{
		Todos:            todos,
		CurrentTodoIndex: domain.Ptr(0),
		LastOutput:       &out,
		Messages:         assistant(out),
		CurrentStep:      domain.Ptr("todos_created"),
	}, nil
}

// buildTodos normalises raw plan items. Missing ids take the next position,
// missing titles become "Task N", and duplicate or invalid ids are renumbered.
func buildTodos(items []any, max int) []domain.TodoItem {
	var todos []domain.TodoItem
	used := make(map[int]bool)
	highest := 0

	for _, item := range items {
		if len(todos) == max {
			break
		}
		t := domain.TodoItem{ID: len(todos) + 1, Status: domain.TodoPending}

		switch v := item.(type) {
		case map[string]any:
			if id, ok := extract.Int(v["id"]); ok {
				t.ID = id
			}
			t.Title = stringValue(v["title"])
			t.Description = stringValue(v["description"])
		case string:
			t.Title = strings.TrimSpace(v)
		default:
			continue
		}

		if t.Title == "" {
			t.Title = fmt.Sprintf("Task %d", len(todos)+1)
		}
		if t.ID <= 0 || used[t.ID] {
			t.ID = highest + 1
		}
		used[t.ID] = true
		if t.ID > highest {
			highest = t.ID
		}
		todos = append(todos, t)
	}
	return todos
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

type executeTodoConfig struct {
	PromptTemplate string `mapstructure:"prompt_template"`
	ResultChars    int    `mapstructure:"result_chars"`
	TightChars     int    `mapstructure:"tight_result_chars"`
}

type executeTodo struct {
	cfg executeTodoConfig
}

func newExecuteTodo(raw map[string]any) (Executor, error) {
	cfg := executeTodoConfig{PromptTemplate: ExecuteTodoPrompt, ResultChars: 500, TightChars: 200}
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	return &executeTodo{cfg: cfg}, nil
}

func (n *executeTodo) previousResults(s domain.State) string {
	limit := n.cfg.ResultChars
	if s.ContextBudget.Status.Tight() {
		limit = n.cfg.TightChars
	}
	var b strings.Builder
	for i, t := range s.Todos {
		if i >= s.CurrentTodoIndex {
			break
		}
		if t.Result == "" {
			continue
		}
		fmt.Fprintf(&b, "\n[%s]: %s\n", t.Title, clip(t.Result, limit, "..."))
	}
	if b.Len() == 0 {
		return noPreviousResults
	}
	return b.String()
}

// Execute works on the current item, marks it completed and advances the index by one.
func (n *executeTodo) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	todo, ok := s.CurrentTodo()
	if !ok {
		return domain.Patch{}, nil
	}
	idx := s.CurrentTodoIndex

	prompt := render(n.cfg.PromptTemplate, map[string]string{
		"goal":             s.Input,
		"input":            s.Input,
		"title":            todo.Title,
		"description":      todo.Description,
		"previous_results": n.previousResults(s),
	})
	out, err := env.Invoke(ctx, prompt)
	if err != nil {
		return domain.Fail(err), nil
	}

	todo.Status = domain.TodoCompleted
	todo.Result = out
	env.log().Info("todo completed", "index", idx, "title", todo.Title)

	return domain.Patch{
		Todos:            []domain.TodoItem{todo},
		CurrentTodoIndex: domain.Ptr(idx + 1),
		LastOutput:       &out,
		Messages:         assistant(out),
		CurrentStep:      domain.Ptr(fmt.Sprintf("todo_%d_complete", idx+1)),
	}, nil
}

type synthesisConfig struct {
	PromptTemplate string `mapstructure:"prompt_template"`
	ResultChars    int    `mapstructure:"result_chars"`
	TightChars     int    `mapstructure:"tight_result_chars"`
}

func (c synthesisConfig) todoResults(s domain.State) string {
	limit := c.ResultChars
	if s.ContextBudget.Status.Tight() {
		limit = c.TightChars
	}
	var b strings.Builder
	for _, t := range s.Todos {
		result := t.Result
		if result == "" {
			result = "No result"
		}
		status := t.Status
		if status == "" {
			status = domain.TodoPending
		}
		fmt.Fprintf(&b, "\n### %s [%s]\n%s\n", t.Title, status, clip(result, limit, truncatedMarker))
	}
	return b.String()
}

func newSynthesisConfig(raw map[string]any, prompt string) (synthesisConfig, error) {
	cfg := synthesisConfig{PromptTemplate: prompt, ResultChars: 2000, TightChars: 500}
	err := decode(raw, &cfg)
	return cfg, err
}

type finalReview struct {
	cfg synthesisConfig
}

func newFinalReview(raw map[string]any) (Executor, error) {
	cfg, err := newSynthesisConfig(raw, FinalReviewPrompt)
	if err != nil {
		return nil, err
	}
	return &finalReview{cfg: cfg}, nil
}

func (n *finalReview) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	out, err := env.Invoke(ctx, render(n.cfg.PromptTemplate, map[string]string{
		"input":        s.Input,
		"todo_results": n.cfg.todoResults(s),
	}))
	if err != nil {
		return domain.Fail(err), nil
	}
	return domain.Patch{
		ReviewFeedback: &out,
		LastOutput:     &out,
		Messages:       assistant(out),
		CurrentStep:    domain.Ptr("final_review_complete"),
	}, nil
}

// reviewChars caps the review notes embedded in the final answer prompt.
const reviewChars = 2000

type finalAnswer struct {
	cfg synthesisConfig
}

func newFinalAnswer(raw map[string]any) (Executor, error) {
	cfg, err := newSynthesisConfig(raw, FinalAnswerPrompt)
	if err != nil {
		return nil, err
	}
	return &finalAnswer{cfg: cfg}, nil
}

// Execute always completes the run. When the model fails, the answer is
// assembled from whatever results exist and the error is recorded.
func (n *finalAnswer) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	out, err := env.Invoke(ctx, render(n.cfg.PromptTemplate, map[string]string{
		"input":           s.Input,
		"todo_results":    n.cfg.todoResults(s),
		"review_feedback": clip(s.ReviewFeedback, reviewChars, truncatedMarker),
	}))
	if err != nil {
		var b strings.Builder
		for _, t := range s.Todos {
			if t.Result != "" {
				fmt.Fprintf(&b, "%s: %s\n", t.Title, t.Result)
			}
		}
		return domain.Patch{
			FinalAnswer: domain.Ptr("Task completed with errors.\n\nResults:\n" + b.String()),
			LastOutput:  domain.Ptr("Error in final_answer: " + err.Error()),
			Error:       domain.Ptr(err.Error()),
			IsComplete:  domain.Ptr(true),
		}, nil
	}
	return domain.Patch{
		FinalAnswer: finalText(out),
		LastOutput:  &out,
		Messages:    assistant(out),
		CurrentStep: domain.Ptr("complete"),
		IsComplete:  domain.Ptr(true),
	}, nil
}
