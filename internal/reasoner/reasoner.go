// Package reasoner connects the tool catalog to a language model. A Provider
// turns a conversation plus the catalog into either text or tool-call
// requests; the Loop feeds tool results back until the model stops asking.
package reasoner

import (
	"context"
	"encoding/json"

	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type Request struct {
	Model           string
	Messages        []Message
	Tools           []tool.Descriptor
	MaxOutputTokens int
}

// Reply carries either final text or another round of tool calls.
type Reply struct {
	Content   string
	ToolCalls []ToolCall
}

type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Reply, error)
}
