// ABOUTME: Direct Azure OpenAI chat completions client
// ABOUTME: Adapts token-limit and temperature parameters across at most three attempts

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

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	paramMaxTokens           = "max_tokens"
	paramMaxCompletionTokens = "max_completion_tokens"
	paramTemperature         = "temperature"
)

// AzureConfig holds the Azure OpenAI connection settings.
type AzureConfig struct {
	APIBase    string
	APIKey     string
	APIVersion string
}

// AzureClient calls an Azure OpenAI deployment directly.
type AzureClient struct {
	cfg        AzureConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAzureClient creates an Azure client using httpClient for every attempt.
func NewAzureClient(cfg AzureConfig, httpClient *http.Client, logger *slog.Logger) *AzureClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AzureClient{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With("component", "azure-client"),
	}
}

// azureError is the error object of an Azure 400 response.
type azureError struct {
	param   string
	message string
}

func readAzureError(body []byte) azureError {
	return azureError{
		param:   gjson.GetBytes(body, "error.param").String(),
		message: gjson.GetBytes(body, "error.message").String(),
	}
}

func (e azureError) namesTokenLimit() bool {
	return e.param == paramMaxTokens || e.param == paramMaxCompletionTokens ||
		strings.Contains(e.message, paramMaxTokens) || strings.Contains(e.message, paramMaxCompletionTokens)
}

func (e azureError) namesTemperature() bool {
	return e.param == paramTemperature || strings.Contains(e.message, paramTemperature)
}

// attemptParams selects the request shape for one attempt.
type attemptParams struct {
	useMaxCompletion bool
	withTemperature  bool
}

// Chat runs the adaptive request sequence:
//
//  1. max_completion_tokens with temperature.
//  2. On a 400 naming the token limit, swap to the other parameter name.
//  3. If the response is then a 400 and the first error (or the swap's
//     error) named temperature, drop temperature.
//
// There are never more than three attempts. A transport error ends the
// sequence immediately.
func (c *AzureClient) Chat(ctx context.Context, req ChatRequest) ChatResult {
	if c.cfg.APIBase == "" || c.cfg.APIKey == "" {
		return errorResult(ErrMissingCredentials)
	}
	if c.cfg.APIVersion == "" {
		return errorResult(ErrMissingAPIVersion)
	}

	deployment := strings.TrimPrefix(req.Model, prefixAzure)
	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(c.cfg.APIBase, "/"),
		url.PathEscape(deployment),
		url.QueryEscape(c.cfg.APIVersion))

	params := attemptParams{useMaxCompletion: true, withTemperature: true}
	attempts := 0
	send := func() (int, []byte, error) {
		attempts++
		return c.post(ctx, endpoint, req, params, attempts)
	}

	status, body, err := send()
	if err != nil {
		return errorResult(err)
	}

	if status == http.StatusBadRequest {
		first := readAzureError(body)
		retryTemperature := first.namesTemperature()

		if first.namesTokenLimit() {
			params.useMaxCompletion = !params.useMaxCompletion
			status, body, err = send()
			if err != nil {
				return errorResult(err)
			}
			if status == http.StatusBadRequest && readAzureError(body).namesTemperature() {
				retryTemperature = true
			}
		}

		if status == http.StatusBadRequest && retryTemperature {
			params.withTemperature = false
			status, body, err = send()
			if err != nil {
				return errorResult(err)
			}
		}
	}

	if status != http.StatusOK {
		c.logger.Warn("azure request failed", "status", status, "attempts", attempts, "deployment", deployment)
		return ChatResult{
			Content:      fmt.Sprintf("%sAzure HTTP %d - %s", errorPrefix, status, body),
			FinishReason: FinishError,
		}
	}

	result, err := parseCompletion(body)
	if err != nil {
		return errorResult(err)
	}
	return result
}

type azurePayload struct {
	Messages   []Message  `json:"messages"`
	Tools      []ToolSpec `json:"tools,omitempty"`
	ToolChoice string     `json:"tool_choice,omitempty"`
}

// buildAzureBody encodes the request with the token-limit parameter and
// temperature chosen by p.
func buildAzureBody(req ChatRequest, p attemptParams) ([]byte, error) {
	payload := azurePayload{Messages: req.Messages}
	if len(req.Tools) > 0 {
		payload.Tools = req.Tools
		payload.ToolChoice = "auto"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	tokenParam := paramMaxTokens
	if p.useMaxCompletion {
		tokenParam = paramMaxCompletionTokens
	}
	if body, err = sjson.SetBytes(body, tokenParam, req.MaxTokens); err != nil {
		return nil, fmt.Errorf("setting %s: %w", tokenParam, err)
	}
	if p.withTemperature {
		if body, err = sjson.SetBytes(body, paramTemperature, req.Temperature); err != nil {
			return nil, fmt.Errorf("setting temperature: %w", err)
		}
	}
	return body, nil
}

func (c *AzureClient) post(ctx context.Context, endpoint string, req ChatRequest, p attemptParams, attempt int) (int, []byte, error) {
	payload, err := buildAzureBody(req, p)
	if err != nil {
		return 0, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.cfg.APIKey)

	c.logger.Debug("azure attempt",
		"attempt", attempt,
		"max_completion_tokens", p.useMaxCompletion,
		"temperature", p.withTemperature)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("azure request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading azure response: %w", err)
	}
	return resp.StatusCode, body, nil
}
