package providers

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nullform/llmgateway/internal/dispatch"
)

// DefaultResolverCacheTTL is the "safe starting value" spec.md calls out for
// caching resolved candidate lists: short enough that a config reload (which
// swaps the *config.Manager's snapshot wholesale) is visible within a
// minute, long enough to spare the hot request path from re-walking
// cfg.Providers and re-querying the provider descriptor registry on every
// call.
const DefaultResolverCacheTTL = 60 * time.Second

// ResolverCache memoizes ConfigResolver.ResolveCandidates by requested-model
// string. It is internal bookkeeping for the default Resolver
// implementation, not part of the dispatch.Resolver contract itself — a
// Resolver backed by a real service discovery system would have its own
// caching story, or none at all.
type ResolverCache struct {
	c *gocache.Cache
}

// NewResolverCache builds a cache with ttl as both the default expiration
// and the cleanup sweep interval, mirroring patrickmn/go-cache's own
// NewCache(defaultExpiration, cleanupInterval) convention of using the same
// duration for both when the caller has no reason to separate them.
func NewResolverCache(ttl time.Duration) *ResolverCache {
	return &ResolverCache{c: gocache.New(ttl, ttl)}
}

func (rc *ResolverCache) get(key string) ([]dispatch.Candidate, bool) {
	v, ok := rc.c.Get(key)
	if !ok {
		return nil, false
	}
	candidates, ok := v.([]dispatch.Candidate)
	return candidates, ok
}

func (rc *ResolverCache) set(key string, candidates []dispatch.Candidate) {
	rc.c.SetDefault(key, candidates)
}

// Invalidate drops every cached resolution, used when the underlying
// configuration is reloaded so stale provider entries can't outlive a
// config change for up to the full TTL.
func (rc *ResolverCache) Invalidate() {
	rc.c.Flush()
}
