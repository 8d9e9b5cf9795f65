// Package scripted provides a ModelInvoker that replays canned responses.
// It drives tests and offline demos.
package scripted

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/pergola/pkg/domain"
)

// ErrExhausted is returned once every scripted response has been used.
var ErrExhausted = errors.New("scripted invoker: no responses left")

// Response is one canned model reply. A non-empty Error makes the call fail.
type Response struct {
	Text  string `yaml:"text"`
	Error string `yaml:"error,omitempty"`
}

// Invoker replays responses in order and records the prompts it received.
type Invoker struct {
	mu        sync.Mutex
	responses []Response
	prompts   []string
}

// New creates an invoker answering with texts in order.
func New(texts ...string) *Invoker {
	inv := &Invoker{}
	for _, t := range texts {
		inv.responses = append(inv.responses, Response{Text: t})
	}
	return inv
}

// FromResponses creates an invoker from full responses.
func FromResponses(responses []Response) *Invoker {
	return &Invoker{responses: append([]Response(nil), responses...)}
}

// Load reads a YAML list of responses. Items are plain strings or
// {text, error} objects.
func Load(path string) (*Invoker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read responses: %w", err)
	}
	var raw []yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse responses %s: %w", path, err)
	}
	responses := make([]Response, 0, len(raw))
	for i, n := range raw {
		var r Response
		if n.Kind == yaml.ScalarNode {
			r.Text = n.Value
		} else if err := n.Decode(&r); err != nil {
			return nil, fmt.Errorf("parse responses %s: item %d: %w", path, i, err)
		}
		responses = append(responses, r)
	}
	return FromResponses(responses), nil
}

// Then appends a successful response.
func (i *Invoker) Then(text string) *Invoker {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.responses = append(i.responses, Response{Text: text})
	return i
}

// Fail appends a failing response.
func (i *Invoker) Fail(message string) *Invoker {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.responses = append(i.responses, Response{Error: message})
	return i
}

func (i *Invoker) Invoke(ctx context.Context, messages []domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	var prompt string
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}
	i.prompts = append(i.prompts, prompt)

	if len(i.responses) == 0 {
		return "", ErrExhausted
	}
	r := i.responses[0]
	i.responses = i.responses[1:]
	if r.Error != "" {
		return "", errors.New(r.Error)
	}
	return r.Text, nil
}

// Prompts returns the prompts received so far.
func (i *Invoker) Prompts() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.prompts...)
}

// Calls returns how many times the model was invoked.
func (i *Invoker) Calls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.prompts)
}

// Remaining returns how many responses are left.
func (i *Invoker) Remaining() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.responses)
}
