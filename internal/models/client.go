package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/gardehq/garde/internal/events"
)

// Client is the narrow LLM surface the planner and composer depend on. Both
// calls are single-shot: one system prompt, one user message, one text reply.
type Client interface {
	// Plan asks the model to produce a task plan. The reply is expected to
	// be JSON but is returned verbatim; parsing belongs to the caller.
	Plan(ctx context.Context, system, user string) (string, error)
	// Compose asks the model for a conversational reply.
	Compose(ctx context.Context, system, user string) (string, error)
}

// LLM adapts a ToolCallingChatModel to the Client interface.
type LLM struct {
	model model.ToolCallingChatModel
	name  string
}

// NewLLM wraps a chat model. name labels the provider in errors.
func NewLLM(m model.ToolCallingChatModel, name string) *LLM {
	return &LLM{model: m, name: name}
}

// Name returns the provider label.
func (l *LLM) Name() string { return l.name }

func (l *LLM) Plan(ctx context.Context, system, user string) (string, error) {
	return l.generate(ctx, "plan", system, user)
}

func (l *LLM) Compose(ctx context.Context, system, user string) (string, error) {
	return l.generate(ctx, "compose", system, user)
}

func (l *LLM) generate(ctx context.Context, purpose, system, user string) (string, error) {
	// Labels the call for the callback bridge; llm.call events carry them.
	ctx = events.ContextWithLLMLabel(ctx, events.LLMLabel{Provider: l.name, Purpose: purpose})
	messages := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}

	resp, err := l.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", l.name, HandleError(err))
	}
	if resp == nil {
		return "", fmt.Errorf("%s generate: empty response", l.name)
	}
	return strings.TrimSpace(resp.Content), nil
}

var _ Client = (*LLM)(nil)
