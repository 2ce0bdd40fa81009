// ABOUTME: Normalizes OpenAI-shaped chat completion bodies into ChatResult
// ABOUTME: Shared by the generic and Azure paths

package provider

import (
	"errors"

	"github.com/tidwall/gjson"
)

var errInvalidResponse = errors.New("invalid JSON in completion response")

// parseCompletion extracts the first choice of a chat completion response.
// A response without choices yields an empty "stop" result.
func parseCompletion(body []byte) (ChatResult, error) {
	if !gjson.ValidBytes(body) {
		return ChatResult{}, errInvalidResponse
	}
	root := gjson.ParseBytes(body)
	choice := root.Get("choices.0")
	msg := choice.Get("message")

	result := ChatResult{
		Content:      msg.Get("content").String(),
		FinishReason: choice.Get("finish_reason").String(),
	}
	if result.FinishReason == "" {
		result.FinishReason = FinishStop
	}

	msg.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		result.ToolCalls = append(result.ToolCalls, ToolCallRequest{
			ID:        tc.Get("id").String(),
			Name:      tc.Get("function.name").String(),
			Arguments: toolArguments(tc.Get("function.arguments")),
		})
		return true
	})

	if usage := root.Get("usage"); usage.IsObject() {
		result.Usage = &Usage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:      int(usage.Get("total_tokens").Int()),
		}
	}

	return result, nil
}

// toolArguments decodes a tool call's arguments field, which backends send
// either as a JSON-encoded string or as an inline object. Any other inline
// value is kept under "raw", as decodeArguments does for strings.
func toolArguments(v gjson.Result) map[string]any {
	switch {
	case v.Type == gjson.String:
		return decodeArguments(v.String())
	case v.IsObject():
		if m, ok := v.Value().(map[string]any); ok {
			return m
		}
	case v.Exists() && v.Type != gjson.Null:
		return map[string]any{"raw": v.Raw}
	}
	return map[string]any{}
}
