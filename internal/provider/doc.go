// Package provider sends chat requests to LLM backends and normalizes their
// answers.
//
// # Dispatch
//
// A [Dispatcher] is built from [Settings]. [DetectFamily] classifies the
// backend once:
//
//   - OpenRouter: key starts with "sk-or-" or the base URL mentions openrouter
//   - Azure: default model starts with "azure/" or the base is *.openai.azure.com
//   - SelfHosted: any other custom base URL (vLLM and friends)
//   - Zhipu, Gemini: by default model name
//   - Generic: everything else
//
// Azure requests go to [AzureClient]. Every other family resolves the model
// string with [ResolveModel] and makes one call through a [Completer], by
// default the OpenAI-compatible [CompatClient].
//
// # Results
//
// [Dispatcher.Chat] never returns an error. Failures come back as a
// [ChatResult] whose FinishReason is "error" and whose Content starts with
// "Error calling LLM: ".
//
// # Azure parameter negotiation
//
// Azure deployments disagree on whether they take max_tokens or
// max_completion_tokens, and some reject temperature. The client starts with
// max_completion_tokens and temperature, then reacts to 400 responses whose
// error param or message names the offending field. At most three requests
// are made.
package provider
