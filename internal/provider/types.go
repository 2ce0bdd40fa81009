// ABOUTME: Request and result types shared by every LLM backend path
// ABOUTME: ChatResult carries failures as FinishReason "error" instead of Go errors

package provider

import (
	"encoding/json"
	"errors"
)

// Finish reasons with special meaning to callers.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishError     = "error"
)

// errorPrefix starts every failure message surfaced in ChatResult.Content.
const errorPrefix = "Error calling LLM: "

// Sentinel configuration errors for the Azure path.
var (
	ErrMissingCredentials = errors.New("missing Azure API base or key")
	ErrMissingAPIVersion  = errors.New("missing Azure API version")
)

// Message is one chat turn in OpenAI wire shape.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolSpec describes a function the model may call.
type ToolSpec struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec is the function part of a ToolSpec.
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatRequest is the uniform input to Dispatcher.Chat.
type ChatRequest struct {
	Messages    []Message
	Tools       []ToolSpec
	Model       string // empty means the dispatcher default
	MaxTokens   int    // <= 0 means the dispatcher default
	Temperature float64
}

// ToolCallRequest is a tool invocation requested by the model. Arguments is
// always a decoded object; undecodable argument strings land under "raw".
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Usage reports token accounting when the backend provides it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResult is the uniform output of every backend path.
type ChatResult struct {
	Content      string
	ToolCalls    []ToolCallRequest
	FinishReason string
	Usage        *Usage
}

// HasToolCalls reports whether the model asked for any tool invocations.
func (r ChatResult) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// IsError reports whether the result represents a failed call.
func (r ChatResult) IsError() bool {
	return r.FinishReason == FinishError
}

func errorResult(err error) ChatResult {
	return ChatResult{
		Content:      errorPrefix + err.Error(),
		FinishReason: FinishError,
	}
}

// decodeArguments turns a tool-call argument string into an object, falling
// back to {"raw": s} when it isn't a JSON object.
func decodeArguments(s string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil || args == nil {
		return map[string]any{"raw": s}
	}
	return args
}
