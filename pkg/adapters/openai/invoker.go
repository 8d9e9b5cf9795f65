// Package openai invokes chat models through an OpenAI-compatible API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// ErrNoChoices is returned when the API answers without a completion.
var ErrNoChoices = errors.New("openai returned no choices")

// Config selects the endpoint and sampling parameters.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// SystemPrompt is prepended when the conversation has no system message.
	SystemPrompt string

	Temperature float32
	MaxTokens   int
}

// Invoker implements ports.ModelInvoker.
type Invoker struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Invoker) {
		i.logger = l
	}
}

// New builds an invoker. An empty API key is rejected unless BaseURL points
// to a server that does not need one.
func New(cfg Config, opts ...Option) (*Invoker, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai: api key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	inv := &Invoker{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv, nil
}

func (i *Invoker) Invoke(ctx context.Context, messages []domain.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       i.cfg.Model,
		Messages:    toChat(messages, i.cfg.SystemPrompt),
		Temperature: i.cfg.Temperature,
	}
	if i.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = i.cfg.MaxTokens
	}

	i.logger.Debug("openai request", "model", i.cfg.Model, "messages", len(req.Messages))
	resp, err := i.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	i.logger.Debug("openai response",
		"finish_reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

func toChat(messages []domain.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	hasSystem := false
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			hasSystem = true
		}
	}
	if system != "" && !hasSystem {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: chatRole(m.Role), Content: m.Content})
	}
	return out
}

func chatRole(role string) string {
	switch role {
	case domain.RoleSystem:
		return openai.ChatMessageRoleSystem
	case domain.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
