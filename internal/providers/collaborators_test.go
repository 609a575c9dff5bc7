package providers

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullform/llmgateway/internal/config"
	"github.com/nullform/llmgateway/internal/dispatch"
	"github.com/nullform/llmgateway/internal/normalize"
)

func TestSelectModel_ExplicitProviderCommaModel(t *testing.T) {
	body := map[string]any{"model": "anthropic,claude-3-5-sonnet-20241022"}
	router := &config.RouterConfig{Default: "openrouter,fallback"}

	selected := SelectModel(body, 10, router)

	assert.Equal(t, "anthropic,claude-3-5-sonnet-20241022", selected)
	assert.Equal(t, "claude-3-5-sonnet-20241022", body["model"])
}

func TestSelectModel_LongContextRouting(t *testing.T) {
	body := map[string]any{"model": "gpt-4o"}
	router := &config.RouterConfig{LongContext: "anthropic,claude-3-5-sonnet-20241022"}

	selected := SelectModel(body, 70000, router)

	assert.Equal(t, "anthropic,claude-3-5-sonnet-20241022", selected)
}

func TestSelectModel_NoModelUsesDefault(t *testing.T) {
	body := map[string]any{}
	router := &config.RouterConfig{Default: "openrouter,anthropic/claude-3.5-sonnet"}

	selected := SelectModel(body, 10, router)

	assert.Equal(t, "openrouter,anthropic/claude-3.5-sonnet", selected)
}

func TestURLEnvelope_BuildURL_GeminiModelsSuffix(t *testing.T) {
	e := URLEnvelope{}
	c := dispatch.Candidate{Format: normalize.FormatGeminiChat, APIBase: "https://generativelanguage.googleapis.com/v1beta/models"}

	url, err := e.BuildURL(c, "test,gemini-2.0-flash", false)
	require.NoError(t, err)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent", url)
}

func TestURLEnvelope_BuildURL_GeminiStreamSuffix(t *testing.T) {
	e := URLEnvelope{}
	c := dispatch.Candidate{Format: normalize.FormatGeminiChat, APIBase: "https://generativelanguage.googleapis.com/v1beta/models"}

	url, err := e.BuildURL(c, "gemini-2.0-flash", true)
	require.NoError(t, err)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:streamGenerateContent", url)
}

func TestURLEnvelope_BuildURL_NonGeminiPassthrough(t *testing.T) {
	e := URLEnvelope{}
	c := dispatch.Candidate{Format: normalize.FormatOpenAIChat, APIBase: "https://api.openai.com/v1/chat/completions"}

	url, err := e.BuildURL(c, "gpt-4o", false)
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", url)
}

func TestStaticKeyAuth_GeminiHeader(t *testing.T) {
	req := httptest.NewRequest("POST", "http://example.com", nil)
	a := StaticKeyAuth{}

	err := a.Apply(req, dispatch.Candidate{Format: normalize.FormatGeminiChat, APIKey: "gk"})
	require.NoError(t, err)
	assert.Equal(t, "gk", req.Header.Get("x-goog-api-key"))
}

func TestStaticKeyAuth_ClaudeHeaders(t *testing.T) {
	req := httptest.NewRequest("POST", "http://example.com", nil)
	a := StaticKeyAuth{}

	err := a.Apply(req, dispatch.Candidate{Format: normalize.FormatClaudeChat, APIKey: "ck"})
	require.NoError(t, err)
	assert.Equal(t, "ck", req.Header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", req.Header.Get("anthropic-version"))
}

func TestStaticKeyAuth_DefaultBearer(t *testing.T) {
	req := httptest.NewRequest("POST", "http://example.com", nil)
	a := StaticKeyAuth{}

	err := a.Apply(req, dispatch.Candidate{Format: normalize.FormatOpenAIChat, APIKey: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer ok", req.Header.Get("Authorization"))
}

func TestStaticKeyAuth_NoRefreshSupport(t *testing.T) {
	a := StaticKeyAuth{}
	c := dispatch.Candidate{Name: "test"}

	assert.False(t, a.SupportsRefresh(c))
	assert.Error(t, a.ForceRefresh(context.Background(), c))
}

func TestConfigResolver_ResolveCandidates(t *testing.T) {
	mgr := config.NewManager(t.TempDir())
	cfg := &config.Config{
		Providers: []config.Provider{{Name: "test", APIBase: "https://example.com", APIKey: "k", Format: normalize.FormatOpenAIChat}},
	}
	require.NoError(t, mgr.Save(cfg))
	_, err := mgr.Load()
	require.NoError(t, err)

	r := NewConfigResolver(mgr, NewRegistry())
	candidates, err := r.ResolveCandidates(context.Background(), "test,gpt-4o")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "test", candidates[0].Name)
	assert.Equal(t, normalize.FormatOpenAIChat, candidates[0].Format)
}

func TestConfigResolver_FillsDescriptorDefaultsForKnownProvider(t *testing.T) {
	mgr := config.NewManager(t.TempDir())
	cfg := &config.Config{
		Providers: []config.Provider{{Name: "anthropic", APIKey: "k"}},
	}
	require.NoError(t, mgr.Save(cfg))
	_, err := mgr.Load()
	require.NoError(t, err)

	registry := NewRegistry()
	registry.Initialize()

	r := NewConfigResolver(mgr, registry)
	candidates, err := r.ResolveCandidates(context.Background(), "anthropic,claude-3-5-sonnet-20241022")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, normalize.FormatClaudeChat, candidates[0].Format)
	assert.Equal(t, "https://api.anthropic.com/v1/messages", candidates[0].APIBase)
}

func TestConfigResolver_UnknownProvider(t *testing.T) {
	mgr := config.NewManager(t.TempDir())
	require.NoError(t, mgr.Save(&config.Config{}))
	_, err := mgr.Load()
	require.NoError(t, err)

	r := NewConfigResolver(mgr, NewRegistry())
	_, err = r.ResolveCandidates(context.Background(), "missing,gpt-4o")
	assert.Error(t, err)
}
