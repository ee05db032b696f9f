package events

import "context"

type sessionIDKey struct{}

// ContextWithSessionID returns a new context carrying the session ID.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext extracts the session ID from the context, or "" if absent.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}

type llmLabelKey struct{}

// LLMLabel attributes an in-flight model call: which configured provider is
// serving it and what the agent wanted from it.
type LLMLabel struct {
	Provider string
	Purpose  string // "plan" or "compose"
}

// ContextWithLLMLabel returns a new context carrying the call label.
func ContextWithLLMLabel(ctx context.Context, label LLMLabel) context.Context {
	return context.WithValue(ctx, llmLabelKey{}, label)
}

// LLMLabelFromContext extracts the call label, zero if absent.
func LLMLabelFromContext(ctx context.Context) LLMLabel {
	if label, ok := ctx.Value(llmLabelKey{}).(LLMLabel); ok {
		return label
	}
	return LLMLabel{}
}
