package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/nullform/llmgateway/internal/config"
	"github.com/nullform/llmgateway/internal/dispatch"
	"github.com/nullform/llmgateway/internal/normalize"
	"github.com/nullform/llmgateway/internal/tunnel"
)

func newBodyReadCloser(body []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(body))
}

// ConfigResolver turns a client-requested model string into the ordered
// candidate list the dispatcher attempts, generalizing the teacher's
// ProxyHandler.findProvider + Router.selectModel (internal/handlers/proxy.go)
// into the dispatch.Resolver seam: model selection (explicit "provider,model"
// vs router-driven defaults) stays the teacher's logic, but it now returns
// dispatch.Candidate values instead of mutating a request body in place.
type ConfigResolver struct {
	cfg      *config.Manager
	registry *Registry
	cache    *ResolverCache
}

// NewConfigResolver builds a resolver backed by a DefaultResolverCacheTTL
// in-memory cache of resolved candidate lists, keyed by requested-model
// string; see internal/providers/resolvercache.go.
func NewConfigResolver(cfg *config.Manager, registry *Registry) *ConfigResolver {
	return &ConfigResolver{cfg: cfg, registry: registry, cache: NewResolverCache(DefaultResolverCacheTTL)}
}

// ResolveCandidates parses a "provider,model" or bare-model string the way
// findProvider did, then returns exactly one candidate for the named
// provider — callers wanting router-driven fallbacks run SelectModel first
// to produce the "provider,model" string this expects.
func (r *ConfigResolver) ResolveCandidates(ctx context.Context, requestedModel string) ([]dispatch.Candidate, error) {
	if cached, ok := r.cache.get(requestedModel); ok {
		return cached, nil
	}

	cfg := r.cfg.Get()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	parts := strings.SplitN(requestedModel, ",", 2)
	var providerName string
	if len(parts) > 1 {
		providerName = parts[0]
	}

	var providerCfg *config.Provider
	for i := range cfg.Providers {
		if cfg.Providers[i].Name == providerName {
			providerCfg = &cfg.Providers[i]
			break
		}
	}
	if providerCfg == nil {
		return nil, fmt.Errorf("provider %q not found in configuration", providerName)
	}

	apiKey := providerCfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("CCO_API_KEY")
	}

	// A provider descriptor fills in whatever the operator's config left
	// blank for a recognized provider name, so a minimal config entry (just
	// a name and an API key) still resolves to a working candidate.
	descriptor, hasDescriptor := r.registry.Get(providerName)

	apiBase := providerCfg.APIBase
	if apiBase == "" && hasDescriptor {
		apiBase = descriptor.DefaultEndpoint
	}

	format := providerCfg.Format
	if format == "" {
		if hasDescriptor {
			format = descriptor.Format
		} else {
			format = normalize.FormatOpenAIChat
		}
	}

	candidates := []dispatch.Candidate{{
		Name:         providerCfg.Name,
		APIBase:      apiBase,
		Format:       format,
		APIKey:       apiKey,
		TunnelNodeID: providerCfg.TunnelNodeID,
		CodexCLI:     providerCfg.CodexCLI,
	}}
	r.cache.set(requestedModel, candidates)
	return candidates, nil
}

// InvalidateCache drops every memoized candidate resolution. Wired into
// config.Manager.OnReload so a config hot-reload is visible immediately
// instead of waiting out the cache's TTL.
func (r *ConfigResolver) InvalidateCache() {
	r.cache.Invalidate()
}

// SelectModel applies the teacher's routing rules (long-context/background/
// think/web-search) to pick a "provider,model" string and rewrite it into
// the request body's "model" field, exactly mirroring
// ProxyHandler.selectModel's precedence.
func SelectModel(modelBody map[string]any, tokens int, router *config.RouterConfig) string {
	var selected string

	if model, ok := modelBody["model"].(string); ok && len(model) > 0 {
		if strings.Contains(model, ",") {
			selected = model
		} else {
			switch {
			case tokens > 60000 && router.LongContext != "":
				selected = router.LongContext
			case strings.HasPrefix(model, "claude-3-5-haiku") && router.Background != "":
				selected = router.Background
			case router.Think != "":
				selected = router.Think
			case router.WebSearch != "":
				selected = router.WebSearch
			default:
				selected = model
			}
		}
	} else {
		selected = router.Default
	}

	if parts := strings.SplitN(selected, ",", 2); len(parts) > 1 {
		modelBody["model"] = parts[1]
	} else {
		modelBody["model"] = selected
	}

	return selected
}

// FlatScheduler preserves Resolver's ordering verbatim — there is exactly one
// configured provider per model today, so there's nothing to reorder. It
// exists as the seam spec §6.4 calls for, ready to host load-aware or
// cost-aware ordering later without the dispatcher changing at all.
type FlatScheduler struct{}

func (FlatScheduler) Order(candidates []dispatch.Candidate) []dispatch.Candidate { return candidates }

// URLEnvelope builds outbound requests and resolves endpoint URLs, grounded
// on ProxyHandler.buildEndpointURL and setAuthHeader: Gemini needs the model
// folded into the URL path (and a :streamGenerateContent suffix when
// streaming), every other provider is used as configured.
type URLEnvelope struct{}

func (URLEnvelope) BuildURL(c dispatch.Candidate, model string, stream bool) (string, error) {
	if normalize.DataFamily(c.Format) != "gemini" {
		return c.APIBase, nil
	}

	actualModel := model
	if parts := strings.SplitN(model, ",", 2); len(parts) > 1 {
		actualModel = parts[1]
	}

	verb := "generateContent"
	if stream {
		verb = "streamGenerateContent"
	}

	base := strings.TrimSuffix(c.APIBase, "/")
	switch {
	case strings.HasSuffix(base, "/models"):
		return fmt.Sprintf("%s/%s:%s", base, actualModel, verb), nil
	case strings.Contains(base, "/models/"):
		idx := strings.LastIndex(base, "/models/")
		return fmt.Sprintf("%s%s:%s", base[:idx+8], actualModel, verb), nil
	default:
		return fmt.Sprintf("%s/%s:%s", base, actualModel, verb), nil
	}
}

func (e URLEnvelope) BuildRequest(ctx context.Context, c dispatch.Candidate, model string, body []byte, stream bool) (*http.Request, error) {
	url, err := e.BuildURL(c, model, stream)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.TunnelNodeID != "" {
		req = req.WithContext(tunnel.WithNodeID(req.Context(), c.TunnelNodeID))
	}
	req.ContentLength = int64(len(body))
	req.Body = newBodyReadCloser(body)
	return req, nil
}

// StaticKeyAuth attaches a per-candidate API key the way setAuthHeader did:
// Gemini gets an x-goog-api-key header, Claude gets x-api-key plus
// anthropic-version, everyone else gets a bearer token.
// No provider in this deployment's scope does OAuth, so SupportsRefresh is
// always false; the dispatcher's forced-refresh-retry-once path simply never
// triggers for these candidates.
type StaticKeyAuth struct{}

func (StaticKeyAuth) Apply(req *http.Request, c dispatch.Candidate) error {
	if c.APIKey == "" {
		return nil
	}
	if normalize.DataFamily(c.Format) == "gemini" {
		req.Header.Set("x-goog-api-key", c.APIKey)
		return nil
	}
	if normalize.DataFamily(c.Format) == "claude" {
		req.Header.Set("x-api-key", c.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	return nil
}

func (StaticKeyAuth) SupportsRefresh(c dispatch.Candidate) bool { return false }

func (StaticKeyAuth) ForceRefresh(ctx context.Context, c dispatch.Candidate) error {
	return fmt.Errorf("providers: candidate %s does not support credential refresh", c.Name)
}
