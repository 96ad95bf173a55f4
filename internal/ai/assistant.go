package ai

import (
	"context"
)

// Role tags a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason is the normalized completion reason reported by a provider.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
)

// Message is a single conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCalls is set on assistant turns that request tool invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID and Name are set on tool turns.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolCall is a model-issued request to run a declared tool.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Arguments holds the serialized JSON object produced by the model.
	Arguments string `json:"arguments"`
}

// ToolDeclaration advertises a callable tool to the model.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Request is a single generation request.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDeclaration
	// ResponseSchema constrains the reply to a JSON document of this shape when set.
	ResponseSchema *Schema
	// SchemaName labels ResponseSchema for providers that require a name.
	SchemaName string
}

// Response is the model's turn.
type Response struct {
	FinishReason FinishReason
	Message      Message
}

// WantsTools reports whether the model asked for tool invocations.
func (r *Response) WantsTools() bool {
	return r != nil && r.FinishReason == FinishToolCalls && len(r.Message.ToolCalls) > 0
}

// Model is implemented by every language model provider.
type Model interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	Model() string
}
