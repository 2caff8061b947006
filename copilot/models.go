package copilot

import (
	"fmt"
	"slices"
)

// FallbackMode decides what happens when a requested model is not offered.
type FallbackMode string

const (
	// FallbackStrict rejects unknown models with ErrUnknownModel.
	FallbackStrict FallbackMode = "strict"
	// FallbackProvider routes unknown models to ModelPolicy.FallbackProvider.
	FallbackProvider FallbackMode = "fallback"
)

// ParseFallbackMode parses a mode name.
func ParseFallbackMode(s string) (FallbackMode, error) {
	switch FallbackMode(s) {
	case FallbackStrict, FallbackProvider:
		return FallbackMode(s), nil
	default:
		return "", fmt.Errorf("unknown model policy %q (want %q or %q)", s, FallbackStrict, FallbackProvider)
	}
}

// ModelPolicy is the model selection policy.
type ModelPolicy struct {
	Fallback         FallbackMode
	DefaultModel     string
	DefaultProvider  *ProviderConfig
	FallbackProvider *ProviderConfig
}

// ModelSelection is the outcome of ResolveModel.
type ModelSelection struct {
	Model    string
	Provider *ProviderConfig
	// Fallback is true when the model was routed to the fallback provider.
	Fallback bool
}

// ResolveModel picks the model and provider for a new session.
//
// An empty request selects the policy default. A request the subprocess
// offers is used as is. Anything else follows policy.Fallback.
func ResolveModel(requested string, available []ModelInfo, policy ModelPolicy) (ModelSelection, error) {
	if requested == "" {
		if policy.DefaultModel == "" {
			return ModelSelection{}, fmt.Errorf("no model requested and no default configured")
		}
		return ModelSelection{Model: policy.DefaultModel, Provider: policy.DefaultProvider}, nil
	}

	offered := slices.ContainsFunc(available, func(m ModelInfo) bool { return m.ID == requested })
	if offered {
		return ModelSelection{Model: requested}, nil
	}

	switch policy.Fallback {
	case FallbackProvider:
		if policy.FallbackProvider == nil {
			return ModelSelection{}, fmt.Errorf("model %q: %w (no fallback provider configured)", requested, ErrUnknownModel)
		}
		return ModelSelection{Model: requested, Provider: policy.FallbackProvider, Fallback: true}, nil
	default:
		return ModelSelection{}, fmt.Errorf("model %q: %w", requested, ErrUnknownModel)
	}
}
