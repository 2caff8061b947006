package copilot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveModel(t *testing.T) {
	iflow := &ProviderConfig{Type: "openai", BaseURL: "https://apis.iflow.cn/v1/", WireAPI: WireAPICompletions}
	available := []ModelInfo{{ID: "gpt-5", Name: "GPT-5"}, {ID: "claude-sonnet-4.5", Name: "Claude Sonnet 4.5"}}

	tests := []struct {
		name      string
		requested string
		policy    ModelPolicy
		want      ModelSelection
		wantErr   error
	}{
		{
			name:      "offered model",
			requested: "gpt-5",
			policy:    ModelPolicy{Fallback: FallbackStrict},
			want:      ModelSelection{Model: "gpt-5"},
		},
		{
			name:      "offered model ignores fallback provider",
			requested: "claude-sonnet-4.5",
			policy:    ModelPolicy{Fallback: FallbackProvider, FallbackProvider: iflow},
			want:      ModelSelection{Model: "claude-sonnet-4.5"},
		},
		{
			name:   "empty request uses defaults",
			policy: ModelPolicy{DefaultModel: "qwen3-coder-plus", DefaultProvider: iflow},
			want:   ModelSelection{Model: "qwen3-coder-plus", Provider: iflow},
		},
		{
			name:      "unknown model in strict mode",
			requested: "qwen3-max",
			policy:    ModelPolicy{Fallback: FallbackStrict, FallbackProvider: iflow},
			wantErr:   ErrUnknownModel,
		},
		{
			name:      "unknown model falls back to provider",
			requested: "qwen3-max",
			policy:    ModelPolicy{Fallback: FallbackProvider, FallbackProvider: iflow},
			want:      ModelSelection{Model: "qwen3-max", Provider: iflow, Fallback: true},
		},
		{
			name:      "fallback without provider",
			requested: "qwen3-max",
			policy:    ModelPolicy{Fallback: FallbackProvider},
			wantErr:   ErrUnknownModel,
		},
		{
			name:      "zero policy is strict",
			requested: "qwen3-max",
			wantErr:   ErrUnknownModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveModel(tt.requested, available, tt.policy)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveModel_NoDefault(t *testing.T) {
	_, err := ResolveModel("", nil, ModelPolicy{})
	assert.Error(t, err)
}

func TestParseFallbackMode(t *testing.T) {
	mode, err := ParseFallbackMode("strict")
	require.NoError(t, err)
	assert.Equal(t, FallbackStrict, mode)

	mode, err = ParseFallbackMode("fallback")
	require.NoError(t, err)
	assert.Equal(t, FallbackProvider, mode)

	_, err = ParseFallbackMode("guess")
	assert.Error(t, err)
}
