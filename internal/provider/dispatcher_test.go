// ABOUTME: Tests for the dispatcher and the OpenAI-compatible client
// ABOUTME: Uses a fake Completer, round-trip stubs and httptest servers

package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type fakeCompleter struct {
	calls []CompletionRequest
	body  string
	err   error
	panic bool
}

func (f *fakeCompleter) Complete(_ context.Context, req CompletionRequest) ([]byte, error) {
	f.calls = append(f.calls, req)
	if f.panic {
		panic("completer exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

func newTestDispatcher(s Settings, c Completer) *Dispatcher {
	return NewDispatcher(s, WithCompleter(c), WithLogger(discardLogger()))
}

func TestDispatcher_ResolvesModelAndDefaults(t *testing.T) {
	fc := &fakeCompleter{body: okCompletion}
	d := newTestDispatcher(Settings{APIKey: "sk-or-x", DefaultModel: "gpt-4o", MaxTokens: 8192}, fc)

	res := d.Chat(context.Background(), ChatRequest{
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: 0.2,
	})

	require.False(t, res.IsError(), res.Content)
	assert.Equal(t, "hello", res.Content)
	require.Len(t, fc.calls, 1)
	call := fc.calls[0]
	assert.Equal(t, "openrouter/gpt-4o", call.Model)
	assert.Equal(t, 8192, call.MaxTokens)
	assert.Equal(t, 0.2, call.Temperature)
	assert.Empty(t, call.Tools)
	assert.Empty(t, call.ToolChoice)
	assert.Equal(t, FamilyOpenRouter, d.Family())
	assert.Equal(t, "gpt-4o", d.DefaultModel())
}

func TestDispatcher_AttachesToolsAndOverrides(t *testing.T) {
	fc := &fakeCompleter{body: okCompletion}
	d := newTestDispatcher(Settings{
		APIBase:      "http://vllm:8000/v1",
		APIVersion:   "2024-01-01",
		DefaultModel: "llama",
	}, fc)

	tools := []ToolSpec{{Type: "function", Function: FunctionSpec{Name: "search"}}}
	d.Chat(context.Background(), ChatRequest{Model: "qwen", MaxTokens: 100, Tools: tools})

	require.Len(t, fc.calls, 1)
	call := fc.calls[0]
	assert.Equal(t, "hosted_vllm/qwen", call.Model)
	assert.Equal(t, 100, call.MaxTokens)
	assert.Equal(t, "http://vllm:8000/v1", call.APIBase)
	assert.Equal(t, "2024-01-01", call.APIVersion)
	assert.Equal(t, tools, call.Tools)
	assert.Equal(t, "auto", call.ToolChoice)
}

func TestDispatcher_CompleterErrorBecomesResult(t *testing.T) {
	d := newTestDispatcher(Settings{DefaultModel: "gpt-4o"}, &fakeCompleter{err: errors.New("rate limited")})

	res := d.Chat(context.Background(), ChatRequest{})

	assert.Equal(t, "Error calling LLM: rate limited", res.Content)
	assert.Equal(t, FinishError, res.FinishReason)
}

func TestDispatcher_InvalidBodyBecomesResult(t *testing.T) {
	d := newTestDispatcher(Settings{DefaultModel: "gpt-4o"}, &fakeCompleter{body: "not json"})

	res := d.Chat(context.Background(), ChatRequest{})

	assert.True(t, res.IsError())
	assert.True(t, strings.HasPrefix(res.Content, "Error calling LLM: "))
}

func TestDispatcher_PanicBecomesResult(t *testing.T) {
	d := newTestDispatcher(Settings{DefaultModel: "gpt-4o"}, &fakeCompleter{panic: true})

	var res ChatResult
	assert.NotPanics(t, func() { res = d.Chat(context.Background(), ChatRequest{}) })
	assert.Equal(t, "Error calling LLM: completer exploded", res.Content)
}

func TestDispatcher_AzureBypassesCompleter(t *testing.T) {
	srv, rec := newAzureServer(t, scriptedResponse{http.StatusOK, okCompletion})
	fc := &fakeCompleter{body: okCompletion}
	d := NewDispatcher(Settings{
		APIKey:       "k",
		APIBase:      srv.URL,
		APIVersion:   "v1",
		DefaultModel: "azure/gpt-5",
		MaxTokens:    512,
		Temperature:  0.7,
	}, WithCompleter(fc), WithHTTPClient(srv.Client()), WithLogger(discardLogger()))

	res := d.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}, Temperature: 0.7})

	assert.Equal(t, FamilyAzure, d.Family())
	assert.Equal(t, "hello", res.Content)
	assert.Empty(t, fc.calls)
	require.Equal(t, 1, rec.attempts())
	assert.Equal(t, "/openai/deployments/gpt-5/chat/completions", rec.requests[0].URL.Path)
	assert.Equal(t, int64(512), rec.body(0).Get("max_completion_tokens").Int())
}

func TestDispatcher_AzureMissingVersion(t *testing.T) {
	d := newTestDispatcher(Settings{APIKey: "k", APIBase: "https://x.openai.azure.com", DefaultModel: "gpt-5"}, &fakeCompleter{})

	res := d.Chat(context.Background(), ChatRequest{})

	assert.Equal(t, "Error calling LLM: missing Azure API version", res.Content)
}

func TestRouteFor(t *testing.T) {
	tests := []struct {
		model       string
		wantBackend string
		wantModel   string
	}{
		{"openrouter/anthropic/claude-3", "openrouter", "anthropic/claude-3"},
		{"zai/glm-4", "zai", "glm-4"},
		{"gemini/gemini-pro", "gemini", "gemini-pro"},
		{"hosted_vllm/llama", "hosted_vllm", "llama"},
		{"anthropic/claude-opus-4-5", "anthropic", "claude-opus-4-5"},
		{"gpt-4o", "openai", "gpt-4o"},
	}
	for _, tt := range tests {
		rt, model := routeFor(tt.model)
		assert.Equal(t, tt.wantBackend, rt.backend, tt.model)
		assert.Equal(t, tt.wantModel, model, tt.model)
	}
}

func TestCompatClient_PostsToBaseOverride(t *testing.T) {
	var captured []byte
	var auth, path, version string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		version = r.URL.Query().Get("api-version")
		_, _ = io.WriteString(w, okCompletion)
	}))
	defer srv.Close()

	c := NewCompatClient(srv.Client(), "secret", discardLogger())
	body, err := c.Complete(context.Background(), CompletionRequest{
		Model:       "hosted_vllm/llama",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		MaxTokens:   64,
		Temperature: 0.5,
		Tools:       []ToolSpec{{Type: "function", Function: FunctionSpec{Name: "f"}}},
		ToolChoice:  "auto",
		APIBase:     srv.URL + "/v1/",
		APIVersion:  "2024",
	})
	require.NoError(t, err)
	assert.JSONEq(t, okCompletion, string(body))

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "2024", version)

	payload := gjson.ParseBytes(captured)
	assert.Equal(t, "llama", payload.Get("model").String())
	assert.Equal(t, int64(64), payload.Get("max_tokens").Int())
	assert.Equal(t, 0.5, payload.Get("temperature").Float())
	assert.Equal(t, "auto", payload.Get("tool_choice").String())
	assert.Equal(t, "hi", payload.Get("messages.0.content").String())
}

func TestCompatClient_RoutesByPrefix(t *testing.T) {
	var gotURL string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotURL = r.URL.String()
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(okCompletion)),
			Header:     http.Header{"Content-Type": []string{"application/json"}},
		}, nil
	})}
	c := NewCompatClient(client, "", discardLogger())

	_, err := c.Complete(context.Background(), CompletionRequest{Model: "openrouter/gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "https://openrouter.ai/api/v1/chat/completions", gotURL)
}

func TestCompatClient_SelfHostedNeedsBase(t *testing.T) {
	c := NewCompatClient(http.DefaultClient, "", discardLogger())

	_, err := c.Complete(context.Background(), CompletionRequest{Model: "hosted_vllm/llama"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no API base")
}

func TestCompatClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"bad key"}`)
	}))
	defer srv.Close()

	c := NewCompatClient(srv.Client(), "k", discardLogger())
	_, err := c.Complete(context.Background(), CompletionRequest{Model: "gpt-4o", APIBase: srv.URL})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.Equal(t, `openai HTTP 401 - {"error":"bad key"}`, err.Error())
}

func TestDispatcher_EndToEndThroughCompatClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if gjson.GetBytes(body, "model").String() != "llama" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"from vllm"}}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`)
	}))
	defer srv.Close()

	d := NewDispatcher(Settings{APIBase: srv.URL, DefaultModel: "llama", MaxTokens: 10},
		WithHTTPClient(srv.Client()), WithLogger(discardLogger()))

	res := d.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})

	require.False(t, res.IsError(), res.Content)
	assert.Equal(t, "from vllm", res.Content)
	assert.Equal(t, FinishStop, res.FinishReason)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 3, res.Usage.TotalTokens)
}
