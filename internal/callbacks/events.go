// Package callbacks bridges eino component callbacks onto the event bus, so
// every model and tool invocation shows up as a typed bus event regardless of
// which package triggered it.
package callbacks

import (
	"context"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	ub "github.com/cloudwego/eino/utils/callbacks"

	"github.com/gardehq/garde/internal/events"
)

// rawPayloadLimit caps tool argument/result text carried on bus events.
const rawPayloadLimit = 1000

type callStartKey struct{}

// NewEventBusHandler builds the eino handler that publishes llm.call and
// tool.call events. Session id and call label ride the request context; the
// usage tracker aggregates the response events downstream.
func NewEventBusHandler(bus *events.Bus, source events.EventSource) callbacks.Handler {
	if source == "" {
		source = events.SourceAgent
	}

	emit := func(ctx context.Context, payload events.EventPayload) {
		if sid := events.SessionIDFromContext(ctx); sid != "" {
			bus.Publish(events.NewTypedEventWithSession(source, payload, sid))
		} else {
			bus.Publish(events.NewTypedEvent(source, payload))
		}
	}

	return ub.NewHandlerHelper().
		ChatModel(modelBridge(emit)).
		Tool(toolBridge(emit)).
		Handler()
}

func modelBridge(emit func(context.Context, events.EventPayload)) *ub.ModelCallbackHandler {
	return &ub.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *model.CallbackInput) context.Context {
			p := labeledCall(ctx, info, "request")
			p.MessageCount = len(input.Messages)
			emit(ctx, p)
			return context.WithValue(ctx, callStartKey{}, time.Now())
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *model.CallbackOutput) context.Context {
			p := labeledCall(ctx, info, "response")
			p.Duration = callDuration(ctx)
			if in, out, ok := responseUsage(output); ok {
				p.TokensInput = in
				p.TokensOutput = out
			}
			emit(ctx, p)
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			p := labeledCall(ctx, info, "error")
			p.Duration = callDuration(ctx)
			p.Error = err.Error()
			emit(ctx, p)
			return ctx
		},
	}
}

func toolBridge(emit func(context.Context, events.EventPayload)) *ub.ToolCallbackHandler {
	return &ub.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *tool.CallbackInput) context.Context {
			p := events.ToolCallPayload{Status: events.ToolStatusStarted, Name: info.Name}
			if input.ArgumentsInJSON != "" {
				p.Arguments = map[string]any{"raw": clip(input.ArgumentsInJSON)}
			}
			emit(ctx, p)
			return ctx
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *tool.CallbackOutput) context.Context {
			emit(ctx, events.ToolCallPayload{
				Status: events.ToolStatusCompleted,
				Name:   info.Name,
				Result: clip(output.Response),
			})
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			emit(ctx, events.ToolCallPayload{
				Status: events.ToolStatusFailed,
				Name:   info.Name,
				Error:  err.Error(),
			})
			return ctx
		},
	}
}

// labeledCall seeds an llm.call payload with the model name and whatever the
// caller attached to the context: which provider is serving the call and
// whether it is a planning or composing call.
func labeledCall(ctx context.Context, info *callbacks.RunInfo, phase string) events.LLMCallPayload {
	label := events.LLMLabelFromContext(ctx)
	return events.LLMCallPayload{
		Phase:    phase,
		Model:    info.Name,
		Provider: label.Provider,
		Purpose:  label.Purpose,
	}
}

func callDuration(ctx context.Context) time.Duration {
	if start, ok := ctx.Value(callStartKey{}).(time.Time); ok {
		return time.Since(start)
	}
	return 0
}

// responseUsage pulls token counts from either the callback output or the
// message metadata; providers differ in which one they fill.
func responseUsage(output *model.CallbackOutput) (in, out int, ok bool) {
	if output == nil {
		return 0, 0, false
	}
	if u := output.TokenUsage; u != nil {
		return u.PromptTokens, u.CompletionTokens, true
	}
	if output.Message != nil && output.Message.ResponseMeta != nil && output.Message.ResponseMeta.Usage != nil {
		u := output.Message.ResponseMeta.Usage
		return u.PromptTokens, u.CompletionTokens, true
	}
	return 0, 0, false
}

// clip bounds free-text payloads so one oversized tool result cannot bloat
// the bus history.
func clip(s string) string {
	if len(s) <= rawPayloadLimit {
		return s
	}
	return s[:rawPayloadLimit] + "... (truncated)"
}
