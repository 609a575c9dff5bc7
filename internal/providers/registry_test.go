package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullform/llmgateway/internal/normalize"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	registry.Register(ProviderDescriptor{Name: "custom", DefaultEndpoint: "https://example.com", Format: normalize.FormatOpenAIChat})

	p, ok := registry.Get("custom")
	require.True(t, ok)
	assert.Equal(t, "https://example.com", p.DefaultEndpoint)
}

func TestRegistry_GetByDomain(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	testCases := []struct {
		domain   string
		expected string
	}{
		{"https://openrouter.ai/api/v1/chat/completions", "openrouter"},
		{"https://api.openai.com/v1/chat/completions", "openai"},
		{"https://api.anthropic.com/v1/messages", "anthropic"},
		{"https://integrate.api.nvidia.com/v1/chat/completions", "nvidia"},
		{"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent", "gemini"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			p, err := registry.GetByDomain(tc.domain)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, p.Name)
		})
	}
}

func TestRegistry_GetByDomain_OperatorOverride(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()
	registry.SetDomainMappings(map[string]string{"llm.internal.example.com": "openai"})

	p, err := registry.GetByDomain("https://llm.internal.example.com/v1/chat/completions")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name)
}

func TestRegistry_GetByDomain_Unknown(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	_, err := registry.GetByDomain("https://unknown.example.com/v1/chat")
	assert.Error(t, err)
}

func TestConfigResolver_FillsDescriptorDefaults(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	p, ok := registry.Get("gemini")
	require.True(t, ok)
	assert.Equal(t, normalize.FormatGeminiChat, p.Format)
	assert.NotEmpty(t, p.DefaultEndpoint)
}
