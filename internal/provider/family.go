// ABOUTME: Backend family detection and model string resolution
// ABOUTME: Family is computed once from settings; ResolveModel is a pure prefix cascade

package provider

import (
	"strings"
	"time"
)

// BackendFamily classifies the call convention of the configured backend.
type BackendFamily int

const (
	FamilyGeneric BackendFamily = iota
	FamilyOpenRouter
	FamilyAzure
	FamilySelfHosted
	FamilyZhipu
	FamilyGemini
)

func (f BackendFamily) String() string {
	switch f {
	case FamilyOpenRouter:
		return "openrouter"
	case FamilyAzure:
		return "azure"
	case FamilySelfHosted:
		return "self-hosted"
	case FamilyZhipu:
		return "zhipu"
	case FamilyGemini:
		return "gemini"
	default:
		return "generic"
	}
}

// Model prefixes understood by the generic client.
const (
	prefixOpenRouter = "openrouter/"
	prefixZai        = "zai/"
	prefixZhipu      = "zhipu/"
	prefixSelfHosted = "hosted_vllm/"
	prefixAzure      = "azure/"
	prefixGemini     = "gemini/"
)

// Settings is the dispatcher configuration.
type Settings struct {
	APIKey       string
	APIBase      string
	APIVersion   string
	DefaultModel string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
}

// DetectFamily classifies the backend from the key shape, base URL and
// default model. OpenRouter wins over Azure, which wins over a plain custom
// base URL.
func DetectFamily(s Settings) BackendFamily {
	switch {
	case strings.HasPrefix(s.APIKey, "sk-or-") || strings.Contains(s.APIBase, "openrouter"):
		return FamilyOpenRouter
	case strings.HasPrefix(s.DefaultModel, prefixAzure) || strings.Contains(s.APIBase, "openai.azure.com"):
		return FamilyAzure
	case s.APIBase != "":
		return FamilySelfHosted
	case isZhipuModel(s.DefaultModel):
		return FamilyZhipu
	case isGeminiModel(s.DefaultModel):
		return FamilyGemini
	default:
		return FamilyGeneric
	}
}

func isZhipuModel(model string) bool {
	lower := strings.ToLower(model)
	return strings.Contains(lower, "glm") || strings.Contains(lower, "zhipu")
}

func isGeminiModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "gemini")
}

// ResolveModel maps a logical model name to the backend-specific identifier.
// The rules run in a fixed order and more than one may apply:
// OpenRouter, Zhipu, SelfHosted, Azure, Gemini. The Zhipu and Gemini rules
// are driven by the model string and apply to every family. Resolution is
// idempotent except for SelfHosted, which always adds its prefix.
func ResolveModel(model string, family BackendFamily) string {
	if family == FamilyOpenRouter && !strings.HasPrefix(model, prefixOpenRouter) {
		model = prefixOpenRouter + model
	}

	if isZhipuModel(model) &&
		!strings.HasPrefix(model, prefixZhipu) &&
		!strings.HasPrefix(model, prefixZai) &&
		!strings.HasPrefix(model, prefixOpenRouter) {
		model = prefixZai + model
	}

	if family == FamilySelfHosted {
		model = prefixSelfHosted + model
	}

	if family == FamilyAzure && !strings.HasPrefix(model, prefixAzure) {
		model = prefixAzure + model
	}

	if isGeminiModel(model) && !strings.HasPrefix(model, prefixGemini) {
		model = prefixGemini + model
	}

	return model
}
