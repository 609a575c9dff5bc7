package tests

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullform/llmgateway/internal/config"
	"github.com/nullform/llmgateway/internal/convert"
	"github.com/nullform/llmgateway/internal/dispatch"
	"github.com/nullform/llmgateway/internal/handlers"
	"github.com/nullform/llmgateway/internal/normalize"
	"github.com/nullform/llmgateway/internal/providers"
)

// TestProxyIntegration drives a claude:chat request all the way through
// ProxyHandler -> dispatch.Dispatcher -> convert.Registry against a fake
// openai:chat upstream, exercising the same request/response conversion
// path a real "openrouter" or "openai" provider entry takes.
func TestProxyIntegration(t *testing.T) {
	var receivedAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-int-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{
				{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": "Hello back!"}},
			},
			"usage": map[string]any{"prompt_tokens": 4, "completion_tokens": 3},
		})
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Host:   "127.0.0.1",
		Port:   8080,
		APIKey: "test-key",
		Providers: []config.Provider{
			{
				Name:    "openrouter",
				APIBase: upstream.URL,
				APIKey:  "test-provider-key",
				Models:  []string{"test-model"},
				Format:  normalize.FormatOpenAIChat,
			},
		},
		Router: config.RouterConfig{
			Default: "openrouter,test-model",
		},
	}

	tmpDir := t.TempDir()
	cfgMgr := config.NewManager(tmpDir)
	require.NoError(t, cfgMgr.Save(cfg))
	_, err := cfgMgr.Load()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	registry := providers.NewRegistry()
	registry.Initialize()

	convertRegistry := convert.NewRegistry()
	convertRegistry.RegisterDefaultNormalizers()

	resolver := providers.NewConfigResolver(cfgMgr, registry)
	d := dispatch.NewDispatcher(
		resolver,
		providers.FlatScheduler{},
		providers.URLEnvelope{},
		providers.StaticKeyAuth{},
		convertRegistry,
		upstream.Client(),
		logger,
		dispatch.PolicyAuto,
	)

	handler := handlers.NewProxyHandler(cfgMgr, d, logger)

	requestBody := map[string]interface{}{
		"model":      "openrouter,test-model",
		"max_tokens": 100,
		"messages": []map[string]interface{}{
			{"role": "user", "content": "Hello, world!"},
		},
	}

	jsonBody, _ := json.Marshal(requestBody)
	req := httptest.NewRequest("POST", "/v1/messages", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Bearer test-provider-key", receivedAuth)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "message", resp["type"])
	content := resp["content"].([]any)
	assert.Equal(t, "Hello back!", content[0].(map[string]any)["text"])
}
