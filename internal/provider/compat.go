// ABOUTME: Generic OpenAI-compatible chat completions client
// ABOUTME: Routes prefixed model names to the matching backend base URL

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// maxResponseBytes bounds how much of a backend response is read.
const maxResponseBytes = 16 << 20

// CompletionRequest is a fully resolved call for a Completer.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolSpec
	ToolChoice  string
	MaxTokens   int
	Temperature float64
	APIBase     string // overrides the route's base URL when set
	APIVersion  string // sent as the api-version query parameter when set
}

// Completer issues one chat completion call and returns the raw response body.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) ([]byte, error)
}

// HTTPError is a non-2xx response from a backend.
type HTTPError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s HTTP %d - %s", e.Backend, e.StatusCode, e.Body)
}

type route struct {
	prefix  string
	backend string
	baseURL string
}

// routes maps model prefixes to OpenAI-compatible endpoints. First match wins;
// unprefixed models go to OpenAI.
var routes = []route{
	{prefixOpenRouter, "openrouter", "https://openrouter.ai/api/v1"},
	{prefixZai, "zai", "https://api.z.ai/api/paas/v4"},
	{prefixZhipu, "zhipu", "https://open.bigmodel.cn/api/paas/v4"},
	{prefixGemini, "gemini", "https://generativelanguage.googleapis.com/v1beta/openai"},
	{prefixSelfHosted, "hosted_vllm", ""},
	{prefixAzure, "azure", ""},
	{"anthropic/", "anthropic", "https://api.anthropic.com/v1"},
	{"groq/", "groq", "https://api.groq.com/openai/v1"},
	{"deepseek/", "deepseek", "https://api.deepseek.com/v1"},
	{"openai/", "openai", "https://api.openai.com/v1"},
}

var defaultRoute = route{backend: "openai", baseURL: "https://api.openai.com/v1"}

// routeFor returns the route for model and the model name with its routing
// prefix stripped.
func routeFor(model string) (route, string) {
	for _, r := range routes {
		if strings.HasPrefix(model, r.prefix) {
			return r, strings.TrimPrefix(model, r.prefix)
		}
	}
	return defaultRoute, model
}

// CompatClient talks to any backend that implements the OpenAI chat
// completions API.
type CompatClient struct {
	httpClient *http.Client
	apiKey     string
	logger     *slog.Logger
}

// NewCompatClient creates a client authenticating with a bearer apiKey.
func NewCompatClient(httpClient *http.Client, apiKey string, logger *slog.Logger) *CompatClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompatClient{
		httpClient: httpClient,
		apiKey:     apiKey,
		logger:     logger.With("component", "compat-client"),
	}
}

type completionPayload struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Temperature float64    `json:"temperature"`
	Tools       []ToolSpec `json:"tools,omitempty"`
	ToolChoice  string     `json:"tool_choice,omitempty"`
}

// Complete posts the request to the routed backend.
func (c *CompatClient) Complete(ctx context.Context, req CompletionRequest) ([]byte, error) {
	rt, model := routeFor(req.Model)

	base := rt.baseURL
	if req.APIBase != "" {
		base = req.APIBase
	}
	if base == "" {
		return nil, fmt.Errorf("no API base configured for model %s", req.Model)
	}

	endpoint := strings.TrimRight(base, "/") + "/chat/completions"
	if req.APIVersion != "" {
		endpoint += "?api-version=" + url.QueryEscape(req.APIVersion)
	}

	payload, err := json.Marshal(completionPayload{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("sending completion", "backend", rt.backend, "model", model)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", rt.backend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", rt.backend, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Backend: rt.backend, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
