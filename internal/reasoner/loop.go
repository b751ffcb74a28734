package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
)

const (
	defaultMaxIterations = 8
)

// Loop runs one conversation to completion: it hands the catalog to the
// provider, executes the tool calls it asks for, and feeds the results back
// until the provider answers with text or the iteration cap is reached.
type Loop struct {
	Provider        Provider
	Registry        *tool.Registry
	Logger          *slog.Logger
	Model           string
	MaxIterations   int
	MaxOutputTokens int
}

type Outcome struct {
	// Summary is the provider's final text, empty when the cap cut it off.
	Summary    string
	Iterations int
	// Calls lists every tool invocation the provider made, in order.
	Calls    []CallRecord
	HitLimit bool
}

type CallRecord struct {
	Tool string
	Ok   bool
	Code tool.Code
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Run drives the conversation. Tool failures are conversation content, not
// loop errors: the provider sees the failed Result and may correct itself.
// An error is returned only when the provider itself is unreachable.
func (l *Loop) Run(ctx context.Context, messages []Message, ec tool.ExecutionContext) (Outcome, error) {
	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	catalog := l.Registry.Catalog()
	var out Outcome

	for out.Iterations < maxIter {
		out.Iterations++
		reply, err := l.Provider.Complete(ctx, Request{
			Model:           l.Model,
			Messages:        messages,
			Tools:           catalog,
			MaxOutputTokens: l.MaxOutputTokens,
		})
		if err != nil {
			return out, fmt.Errorf("iteration %d: %w", out.Iterations, err)
		}
		if len(reply.ToolCalls) == 0 {
			out.Summary = reply.Content
			return out, nil
		}

		messages = append(messages, Message{
			Role:      RoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})
		for _, tc := range reply.ToolCalls {
			res := l.execute(ctx, tc, ec)
			out.Calls = append(out.Calls, CallRecord{Tool: tc.Name, Ok: res.Ok, Code: res.Code})
			payload, err := json.Marshal(res)
			if err != nil {
				payload = []byte(`{"ok":false,"error_code":"EXECUTION_ERROR","error_message":"result not serializable"}`)
			}
			messages = append(messages, Message{
				Role:       RoleTool,
				ToolCallID: tc.ID,
				Content:    string(payload),
			})
		}
	}

	out.HitLimit = true
	l.logger().Warn("reasoning loop hit iteration cap", "iterations", out.Iterations, "calls", len(out.Calls))
	return out, nil
}

func (l *Loop) execute(ctx context.Context, tc ToolCall, ec tool.ExecutionContext) tool.Result {
	args, err := tool.ParseArgs(tc.Arguments)
	if err != nil {
		return tool.Fail(tool.CodeValidation, "tool %s: arguments are not a JSON object: %v", tc.Name, err)
	}
	return l.Registry.Invoke(ctx, tc.Name, args, ec)
}
