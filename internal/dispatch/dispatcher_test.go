package dispatch

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullform/llmgateway/internal/convert"
	"github.com/nullform/llmgateway/internal/normalize"
)

type staticResolver struct{ candidates []Candidate }

func (r staticResolver) ResolveCandidates(ctx context.Context, requestedModel string) ([]Candidate, error) {
	return r.candidates, nil
}

type passthroughScheduler struct{}

func (passthroughScheduler) Order(c []Candidate) []Candidate { return c }

type directEnvelope struct{}

func (directEnvelope) BuildRequest(ctx context.Context, c Candidate, model string, body []byte, stream bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBase, nil)
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(body))
	req.Body = io.NopCloser(bytes.NewReader(body))
	return req, nil
}

type noopAuth struct{}

func (noopAuth) Apply(req *http.Request, c Candidate) error        { return nil }
func (noopAuth) SupportsRefresh(c Candidate) bool                  { return false }
func (noopAuth) ForceRefresh(ctx context.Context, c Candidate) error { return nil }

func newTestDispatcher(t *testing.T, candidates []Candidate) *Dispatcher {
	reg := convert.NewRegistry()
	reg.RegisterDefaultNormalizers()
	logger := slog.New(slog.DiscardHandler)
	return NewDispatcher(staticResolver{candidates}, passthroughScheduler{}, directEnvelope{}, noopAuth{}, reg, http.DefaultClient, logger, PolicyAuto)
}

func TestDispatcher_Dispatch_NonStreamingFormatConversion(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
		}`))
	}))
	defer upstream.Close()

	d := newTestDispatcher(t, []Candidate{{Name: "openai", APIBase: upstream.URL, Format: normalize.FormatOpenAIChat}})

	body := normalize.Chunk{"model": "claude-3-5-sonnet-20241022", "messages": []any{
		map[string]any{"role": "user", "content": "hello"},
	}}
	result, err := d.Dispatch(context.Background(), normalize.FormatClaudeChat, "openai,gpt-4o", body, false)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Contains(t, string(result.Body), `"type":"text"`)
	assert.Contains(t, string(result.Body), "hi there")
}

func TestDispatcher_Dispatch_RetriesOnRetryableStatus(t *testing.T) {
	var attempts int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited", "type": "rate_limit_error"}}`))
	}))
	defer failing.Close()

	succeeding := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-2",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}]
		}`))
	}))
	defer succeeding.Close()

	d := newTestDispatcher(t, []Candidate{
		{Name: "flaky", APIBase: failing.URL, Format: normalize.FormatOpenAIChat},
		{Name: "stable", APIBase: succeeding.URL, Format: normalize.FormatOpenAIChat},
	})

	body := normalize.Chunk{"model": "gpt-4o", "messages": []any{map[string]any{"role": "user", "content": "hello"}}}
	result, err := d.Dispatch(context.Background(), normalize.FormatOpenAIChat, "flaky,gpt-4o", body, false)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestDispatcher_Dispatch_NonRetryableStopsImmediately(t *testing.T) {
	var secondCandidateHit int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "invalid request", "type": "invalid_request_error"}}`))
	}))
	defer bad.Close()
	never := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&secondCandidateHit, 1)
		w.Write([]byte(`{}`))
	}))
	defer never.Close()

	d := newTestDispatcher(t, []Candidate{
		{Name: "bad", APIBase: bad.URL, Format: normalize.FormatOpenAIChat},
		{Name: "never", APIBase: never.URL, Format: normalize.FormatOpenAIChat},
	})

	body := normalize.Chunk{"model": "gpt-4o", "messages": []any{map[string]any{"role": "user", "content": "hello"}}}
	_, err := d.Dispatch(context.Background(), normalize.FormatOpenAIChat, "bad,gpt-4o", body, false)
	assert.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&secondCandidateHit))
}

func TestEmitsDoneSentinel(t *testing.T) {
	assert.True(t, emitsDoneSentinel(normalize.FormatOpenAIChat))
	assert.False(t, emitsDoneSentinel(normalize.FormatClaudeChat))
	assert.False(t, emitsDoneSentinel(normalize.FormatGeminiChat))
}
