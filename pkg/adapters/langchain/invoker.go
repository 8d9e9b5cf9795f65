// Package langchain adapts any langchaingo model to the engine's invoker port.
package langchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/aretw0/pergola/pkg/domain"
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("langchain model returned no choices")

// Invoker implements ports.ModelInvoker over an llms.Model.
type Invoker struct {
	model   llms.Model
	options []llms.CallOption
}

// New wraps model. The options are passed on every call.
func New(model llms.Model, options ...llms.CallOption) *Invoker {
	return &Invoker{model: model, options: options}
}

func (i *Invoker) Invoke(ctx context.Context, messages []domain.Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(messageType(m.Role), m.Content))
	}

	resp, err := i.model.GenerateContent(ctx, content, i.options...)
	if err != nil {
		return "", fmt.Errorf("langchain generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case domain.RoleSystem:
		return llms.ChatMessageTypeSystem
	case domain.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
