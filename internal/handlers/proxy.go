package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pkoukk/tiktoken-go"

	"github.com/nullform/llmgateway/internal/config"
	"github.com/nullform/llmgateway/internal/dispatch"
	"github.com/nullform/llmgateway/internal/normalize"
	"github.com/nullform/llmgateway/internal/providers"
)

// ClientFormatHeader lets a caller declare which wire format its request
// body is shaped like; the teacher's proxy only ever spoke Anthropic
// (Claude Code's own shape), so that remains the default when unset.
const ClientFormatHeader = "X-LLM-Gateway-Client-Format"

// ProxyHandler is the HTTP entrypoint for chat-completion style requests,
// generalized from the teacher's single hardcoded Anthropic-to-provider
// transform into: detect the client's wire format, run the teacher's router
// (ConfigResolver/SelectModel) to pick a model, and hand the rest to
// dispatch.Dispatcher, which owns conversion, retries, and streaming.
type ProxyHandler struct {
	config     *config.Manager
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewProxyHandler(cfg *config.Manager, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{config: cfg, dispatcher: dispatcher, logger: logger}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Get()
	if cfg == nil {
		h.httpError(w, http.StatusInternalServerError, "configuration not loaded")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "failed to read request body: %v", err)
		return
	}

	var clientBody normalize.Chunk
	if err := json.Unmarshal(body, &clientBody); err != nil {
		h.httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	clientFormat := r.Header.Get(ClientFormatHeader)
	if clientFormat == "" {
		clientFormat = h.defaultClientFormat(cfg, r.Host)
	}

	inputTokens := h.countInputTokens(string(body))
	selectedModel := providers.SelectModel(clientBody, inputTokens, &cfg.Router)

	clientWantsStream, _ := clientBody["stream"].(bool)

	result, err := h.dispatcher.Dispatch(r.Context(), clientFormat, selectedModel, clientBody, clientWantsStream)
	if err != nil {
		h.handleDispatchError(w, err, clientFormat)
		return
	}

	if result.Stream != nil {
		h.writeStream(w, result)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	w.Write(result.Body)
}

// defaultClientFormat falls back to the Claude Code shape the teacher only
// ever spoke, unless the request's Host header is one of this deployment's
// DomainMappings, in which case the request is assumed to arrive in that
// mapped provider's own native wire format.
func (h *ProxyHandler) defaultClientFormat(cfg *config.Config, host string) string {
	providerName, ok := cfg.ProviderForDomain(host)
	if !ok {
		return normalize.FormatClaudeChat
	}
	for _, p := range cfg.Providers {
		if p.Name == providerName && p.Format != "" {
			return p.Format
		}
	}
	return normalize.FormatClaudeChat
}

func (h *ProxyHandler) writeStream(w http.ResponseWriter, result *dispatch.Result) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(result.StatusCode)

	flusher, _ := w.(http.Flusher)
	for chunk := range result.Stream {
		if _, err := w.Write(chunk); err != nil {
			h.logger.Warn("client disconnected mid-stream", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleDispatchError renders a failed dispatch in the client's own requested
// wire format, so a Gemini-speaking client sees a Gemini-shaped error body
// even when the candidate that actually failed spoke OpenAI or Claude.
func (h *ProxyHandler) handleDispatchError(w http.ResponseWriter, err error, clientFormat string) {
	statusCode, body := h.dispatcher.RenderError(err, clientFormat)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
	h.logger.Warn("request failed", "status", statusCode, "error", err)
}

func (h *ProxyHandler) countInputTokens(text string) int {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		h.logger.Error("Failed to get tiktoken encoding", "error", err)
		return 0
	}
	return len(tke.Encode(text, nil, nil))
}

func (h *ProxyHandler) httpError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": msg}})
	h.logger.Warn("request failed", "status", code, "message", msg)
}
