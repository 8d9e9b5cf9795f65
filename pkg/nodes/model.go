package nodes

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/extract"
)

// Branch names of the model kinds.
const (
	BranchEasy     = "easy"
	BranchMedium   = "medium"
	BranchHard     = "hard"
	BranchApproved = "approved"
	BranchRetry    = "retry"
	BranchEnd      = "end"
)

const truncatedMarker = "... (truncated)"

type promptConfig struct {
	PromptTemplate string `mapstructure:"prompt_template"`
}

func assistant(text string) []domain.Message {
	return []domain.Message{{Role: domain.RoleAssistant, Content: text}}
}

// classify

var classifySchema = extract.Schema{
	Fields: []extract.Field{{
		Name:          "classification",
		Type:          extract.TypeString,
		AllowedValues: []string{string(domain.DifficultyEasy), string(domain.DifficultyMedium), string(domain.DifficultyHard)},
		Default:       string(domain.DifficultyMedium),
		Label:         "classification",
		MatchTokens:   true,
	}},
}

type classify struct {
	cfg       promptConfig
	extractor *extract.Extractor
}

func newClassify(raw map[string]any) (Executor, error) {
	cfg := promptConfig{PromptTemplate: ClassifyPrompt}
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	x, err := extract.New(classifySchema)
	if err != nil {
		return nil, err
	}
	return &classify{cfg: cfg, extractor: x}, nil
}

func (n *classify) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	out, err := env.Invoke(ctx, render(n.cfg.PromptTemplate, map[string]string{"input": s.Input}))
	if err != nil {
		return domain.Fail(err), nil
	}

	r := n.extractor.Extract(out)
	d, err := domain.ParseDifficulty(r.String("classification"))
	if err != nil {
		d = domain.DifficultyMedium
	}
	env.log().Info("classified", "difficulty", d, "provenance", r.Provenance)

	return domain.Patch{
		Difficulty:  &d,
		Messages:    []domain.Message{{Role: domain.RoleUser, Content: s.Input}},
		LastOutput:  &out,
		CurrentStep: domain.Ptr("difficulty_classified"),
	}, nil
}

func (n *classify) Route(s domain.State) string {
	if s.Error != "" {
		return BranchEnd
	}
	switch s.Difficulty {
	case domain.DifficultyEasy:
		return BranchEasy
	case domain.DifficultyMedium:
		return BranchMedium
	case domain.DifficultyHard:
		return BranchHard
	default:
		return BranchMedium
	}
}

// direct_answer

type directAnswer struct {
	cfg promptConfig
}

func newDirectAnswer(raw map[string]any) (Executor, error) {
	cfg := promptConfig{PromptTemplate: "{input}"}
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	return &directAnswer{cfg: cfg}, nil
}

func (n *directAnswer) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	out, err := env.Invoke(ctx, render(n.cfg.PromptTemplate, map[string]string{"input": s.Input}))
	if err != nil {
		return domain.Fail(err), nil
	}
	return domain.Patch{
		Answer:      &out,
		FinalAnswer: finalText(out),
		LastOutput:  &out,
		Messages:    assistant(out),
		CurrentStep: domain.Ptr("direct_answer_complete"),
		IsComplete:  domain.Ptr(true),
	}, nil
}

// answer

type answerConfig struct {
	PromptTemplate string `mapstructure:"prompt_template"`
	RetryTemplate  string `mapstructure:"retry_template"`
	FeedbackChars  int    `mapstructure:"feedback_chars"`
}

type answer struct {
	cfg answerConfig
}

func newAnswer(raw map[string]any) (Executor, error) {
	cfg := answerConfig{PromptTemplate: "{input}", RetryTemplate: RetryPrompt, FeedbackChars: 500}
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	return &answer{cfg: cfg}, nil
}

func (n *answer) prompt(s domain.State) string {
	if s.ReviewCount == 0 || s.ReviewFeedback == "" {
		return render(n.cfg.PromptTemplate, map[string]string{"input": s.Input})
	}
	feedback := s.ReviewFeedback
	if s.ContextBudget.Status.Tight() {
		feedback = clip(feedback, n.cfg.FeedbackChars, truncatedMarker)
	}
	return render(n.cfg.RetryTemplate, map[string]string{
		"previous_feedback": feedback,
		"input":             s.Input,
		"input_text":        s.Input,
	})
}

func (n *answer) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	out, err := env.Invoke(ctx, n.prompt(s))
	if err != nil {
		return domain.Fail(err), nil
	}
	return domain.Patch{
		Answer:      &out,
		LastOutput:  &out,
		Messages:    assistant(out),
		CurrentStep: domain.Ptr("answer_generated"),
	}, nil
}

// review

type reviewConfig struct {
	PromptTemplate  string   `mapstructure:"prompt_template"`
	MaxRetries      int      `mapstructure:"max_retries"`
	AllowedVerdicts []string `mapstructure:"allowed_verdicts"`
	StrictVerdicts  bool     `mapstructure:"strict_verdicts"`
	VerdictLabel    string   `mapstructure:"verdict_label"`
	FeedbackLabel   string   `mapstructure:"feedback_label"`
}

type review struct {
	cfg       reviewConfig
	extractor *extract.Extractor
}

func newReview(raw map[string]any) (Executor, error) {
	cfg := reviewConfig{
		PromptTemplate:  ReviewPrompt,
		MaxRetries:      3,
		AllowedVerdicts: []string{string(domain.ReviewApproved), string(domain.ReviewRetry)},
		VerdictLabel:    "VERDICT",
		FeedbackLabel:   "FEEDBACK",
	}
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max_retries must be at least 1, got %d", cfg.MaxRetries)
	}

	retryLabel, err := validateVerdicts(cfg)
	if err != nil {
		return nil, err
	}

	x, err := extract.New(extract.Schema{
		Fields: []extract.Field{
			{Name: "verdict", Type: extract.TypeString, AllowedValues: cfg.AllowedVerdicts, Default: retryLabel, Label: cfg.VerdictLabel},
			{Name: "feedback", Type: extract.TypeString, Default: "", Label: cfg.FeedbackLabel, Multiline: true},
		},
	})
	if err != nil {
		return nil, err
	}
	return &review{cfg: cfg, extractor: x}, nil
}

var verdictWord = regexp.MustCompile(`[A-Za-z_]+`)

// validateVerdicts checks that the verdict set can express both outcomes and,
// in strict mode, that the prompt offers no verdict outside that set.
// It returns the label the extractor falls back to.
func validateVerdicts(cfg reviewConfig) (string, error) {
	var approved, retry string
	for _, v := range cfg.AllowedVerdicts {
		r, err := domain.ParseReviewResult(v)
		if err != nil {
			return "", fmt.Errorf("allowed_verdicts: %w", err)
		}
		switch r {
		case domain.ReviewApproved:
			if approved == "" {
				approved = v
			}
		case domain.ReviewRetry:
			if retry == "" {
				retry = v
			}
		}
	}
	if approved == "" || retry == "" {
		return "", fmt.Errorf("allowed_verdicts %v must include an approving and a retrying verdict", cfg.AllowedVerdicts)
	}

	if cfg.StrictVerdicts {
		for _, offered := range offeredVerdicts(cfg.PromptTemplate, cfg.VerdictLabel) {
			if !containsFold(cfg.AllowedVerdicts, offered) {
				return "", fmt.Errorf("review prompt offers verdict %q which is not in allowed_verdicts %v", offered, cfg.AllowedVerdicts)
			}
		}
	}
	return retry, nil
}

// offeredVerdicts lists the words on the prompt's verdict line ("VERDICT: approved or retry").
func offeredVerdicts(prompt, label string) []string {
	re := regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(label) + `\s*:\s*(.+)$`)
	var out []string
	for _, m := range re.FindAllStringSubmatch(prompt, -1) {
		for _, w := range verdictWord.FindAllString(m[1], -1) {
			switch strings.ToLower(w) {
			case "or", "and", "either", "one", "of":
				continue
			}
			out = append(out, w)
		}
	}
	return out
}

func (n *review) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	prompt := render(n.cfg.PromptTemplate, map[string]string{
		"question": s.Input,
		"input":    s.Input,
		"answer":   s.Answer,
	})
	out, err := env.Invoke(ctx, prompt)
	if err != nil {
		return domain.Fail(err), nil
	}

	r := n.extractor.Extract(out)
	verdict, err := domain.ParseReviewResult(r.String("verdict"))
	if err != nil {
		verdict = domain.ReviewRetry
	}
	feedback := r.String("feedback")

	count := s.ReviewCount
	switch {
	case s.CompletionSignal == domain.SignalComplete || s.CompletionSignal == domain.SignalBlocked:
		verdict = domain.ReviewApproved
	case verdict == domain.ReviewRetry:
		count++
		if count >= n.cfg.MaxRetries {
			env.log().Warn("max review retries reached, forcing approval", "max_retries", n.cfg.MaxRetries)
			verdict = domain.ReviewApproved
		}
	case count >= n.cfg.MaxRetries:
		verdict = domain.ReviewApproved
	}

	p := domain.Patch{
		ReviewResult:   &verdict,
		ReviewFeedback: &feedback,
		ReviewCount:    &count,
		LastOutput:     &out,
		Messages:       assistant(out),
		CurrentStep:    domain.Ptr("review_complete"),
	}
	if verdict == domain.ReviewApproved {
		p.FinalAnswer = finalText(s.Answer)
		p.IsComplete = domain.Ptr(true)
	}
	env.log().Info("reviewed", "verdict", verdict, "review_count", count, "provenance", r.Provenance)
	return p, nil
}

func (n *review) Route(s domain.State) string {
	if s.Error != "" {
		return BranchEnd
	}
	if s.ReviewResult == domain.ReviewApproved || s.ReviewCount >= n.cfg.MaxRetries {
		return BranchApproved
	}
	if s.CompletionSignal == domain.SignalComplete || s.CompletionSignal == domain.SignalBlocked {
		return BranchApproved
	}
	if s.IsComplete {
		return BranchEnd
	}
	return BranchRetry
}

// llm_call

type llmCallConfig struct {
	PromptTemplate string `mapstructure:"prompt_template"`
	OutputField    string `mapstructure:"output_field"`
	SetComplete    bool   `mapstructure:"set_complete"`
}

type llmCall struct {
	cfg llmCallConfig
}

func newLLMCall(raw map[string]any) (Executor, error) {
	cfg := llmCallConfig{PromptTemplate: "{input}", OutputField: "last_output"}
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	switch cfg.OutputField {
	case "last_output", "answer", "final_answer":
	default:
		return nil, fmt.Errorf("output_field must be last_output, answer or final_answer, got %q", cfg.OutputField)
	}
	return &llmCall{cfg: cfg}, nil
}

// Reads reports the state fields the prompt template refers to.
func (n *llmCall) Reads() []string {
	return placeholders(n.cfg.PromptTemplate)
}

func (n *llmCall) Execute(ctx context.Context, s domain.State, env Env) (domain.Patch, error) {
	out, err := env.Invoke(ctx, render(n.cfg.PromptTemplate, stateVars(s)))
	if err != nil {
		return domain.Fail(err), nil
	}
	p := domain.Patch{
		LastOutput:  &out,
		Messages:    assistant(out),
		CurrentStep: domain.Ptr("llm_call_complete"),
	}
	switch n.cfg.OutputField {
	case "answer":
		p.Answer = &out
	case "final_answer":
		p.FinalAnswer = finalText(out)
	}
	if n.cfg.SetComplete {
		p.IsComplete = domain.Ptr(true)
	}
	return p, nil
}
