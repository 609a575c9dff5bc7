package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullform/llmgateway/internal/config"
	"github.com/nullform/llmgateway/internal/convert"
	"github.com/nullform/llmgateway/internal/dispatch"
	"github.com/nullform/llmgateway/internal/normalize"
	"github.com/nullform/llmgateway/internal/providers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestHandler wires a ProxyHandler against a fake upstream speaking
// format, the way a real provider entry would, so a test can send a
// claude:chat request and assert the conversion round-trip end to end
// rather than mocking the dispatcher directly.
func newTestHandler(t *testing.T, upstream *httptest.Server, format string) *ProxyHandler {
	t.Helper()

	mgr := config.NewManager(t.TempDir())
	cfg := &config.Config{
		Host: "127.0.0.1",
		Port: 0,
		Providers: []config.Provider{
			{Name: "test", APIBase: upstream.URL, APIKey: "test-key", Format: format},
		},
		Router: config.RouterConfig{Default: "test,gpt-4o"},
	}
	require.NoError(t, mgr.Save(cfg))
	_, err := mgr.Load()
	require.NoError(t, err)

	registry := providers.NewRegistry()
	convertRegistry := convert.NewRegistry()
	convertRegistry.RegisterDefaultNormalizers()

	resolver := providers.NewConfigResolver(mgr, registry)
	d := dispatch.NewDispatcher(
		resolver,
		providers.FlatScheduler{},
		providers.URLEnvelope{},
		providers.StaticKeyAuth{},
		convertRegistry,
		upstream.Client(),
		testLogger(),
		dispatch.PolicyAuto,
	)

	return NewProxyHandler(mgr, d, testLogger())
}

func TestProxyHandler_ConvertsClaudeRequestToOpenAIUpstream(t *testing.T) {
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   "gpt-4o",
			"choices": []map[string]any{{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": "hi there"}}},
			"usage":   map[string]any{"prompt_tokens": 5, "completion_tokens": 2},
		})
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream, normalize.FormatOpenAIChat)

	reqBody := `{"model":"test,gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(reqBody))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user", gotBody["messages"].([]any)[0].(map[string]any)["role"])

	var claudeResp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claudeResp))
	assert.Equal(t, "message", claudeResp["type"])
	content := claudeResp["content"].([]any)
	assert.Equal(t, "text", content[0].(map[string]any)["type"])
	assert.Equal(t, "hi there", content[0].(map[string]any)["text"])
}

func TestProxyHandler_PassthroughSameFamily(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-sonnet",
			"content":     []map[string]any{{"type": "text", "text": "ok"}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 3, "output_tokens": 1},
		})
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream, normalize.FormatClaudeChat)

	reqBody := `{"model":"test,claude-3-5-sonnet","max_tokens":100,"messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(reqBody))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "msg_1", resp["id"])
}

func TestProxyHandler_UpstreamErrorPropagates(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "bad request", "type": "invalid_request_error"}})
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream, normalize.FormatOpenAIChat)

	reqBody := `{"model":"test,gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(reqBody))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProxyHandler_InvalidJSONBody(t *testing.T) {
	h := newTestHandler(t, httptest.NewServer(http.NotFoundHandler()), normalize.FormatOpenAIChat)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("not json"))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
