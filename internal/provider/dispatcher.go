// ABOUTME: Uniform chat entry point over every supported LLM backend
// ABOUTME: Routes Azure to the direct client and everything else through the generic Completer

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/chatgate/internal/httpclient"
)

// Option customizes a Dispatcher.
type Option func(*dispatcherOptions)

type dispatcherOptions struct {
	httpClient *http.Client
	completer  Completer
	logger     *slog.Logger
}

// WithHTTPClient sets the HTTP client used by the generic and Azure paths.
func WithHTTPClient(c *http.Client) Option {
	return func(o *dispatcherOptions) { o.httpClient = c }
}

// WithCompleter replaces the generic OpenAI-compatible client.
func WithCompleter(c Completer) Option {
	return func(o *dispatcherOptions) { o.completer = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *dispatcherOptions) { o.logger = l }
}

// Dispatcher sends chat requests to the configured backend. Its family is
// fixed at construction.
type Dispatcher struct {
	settings  Settings
	family    BackendFamily
	completer Completer
	azure     *AzureClient
	logger    *slog.Logger
}

// NewDispatcher detects the backend family from settings and builds the
// clients it needs.
func NewDispatcher(settings Settings, opts ...Option) *Dispatcher {
	o := dispatcherOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.New(httpclient.WithTimeout(settings.Timeout))
	}
	if o.completer == nil {
		o.completer = NewCompatClient(o.httpClient, settings.APIKey, o.logger)
	}

	d := &Dispatcher{
		settings:  settings,
		family:    DetectFamily(settings),
		completer: o.completer,
		logger:    o.logger.With("component", "dispatcher"),
	}
	if d.family == FamilyAzure {
		d.azure = NewAzureClient(AzureConfig{
			APIBase:    settings.APIBase,
			APIKey:     settings.APIKey,
			APIVersion: settings.APIVersion,
		}, o.httpClient, o.logger)
	}

	d.logger.Info("provider dispatcher ready", "family", d.family.String(), "default_model", settings.DefaultModel)
	return d
}

// Family returns the detected backend family.
func (d *Dispatcher) Family() BackendFamily {
	return d.family
}

// DefaultModel returns the model used when a request doesn't name one.
func (d *Dispatcher) DefaultModel() string {
	return d.settings.DefaultModel
}

// Chat sends req and returns the normalized result. Failures, including
// panics in a backend path, come back as FinishReason "error".
func (d *Dispatcher) Chat(ctx context.Context, req ChatRequest) (result ChatResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in chat dispatch", "panic", r)
			result = errorResult(fmt.Errorf("%v", r))
		}
	}()

	if req.Model == "" {
		req.Model = d.settings.DefaultModel
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = d.settings.MaxTokens
	}

	start := time.Now()
	defer func() {
		d.logger.Debug("chat completed",
			"family", d.family.String(),
			"model", req.Model,
			"finish_reason", result.FinishReason,
			"tool_calls", len(result.ToolCalls),
			"duration", time.Since(start))
	}()

	if d.family == FamilyAzure {
		return d.azure.Chat(ctx, req)
	}

	creq := CompletionRequest{
		Model:       ResolveModel(req.Model, d.family),
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		APIBase:     d.settings.APIBase,
		APIVersion:  d.settings.APIVersion,
	}
	if len(req.Tools) > 0 {
		creq.Tools = req.Tools
		creq.ToolChoice = "auto"
	}

	body, err := d.completer.Complete(ctx, creq)
	if err != nil {
		return errorResult(err)
	}

	parsed, err := parseCompletion(body)
	if err != nil {
		return errorResult(err)
	}
	return parsed
}
