package providers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nullform/llmgateway/internal/normalize"
)

// ProviderDescriptor is the static fact sheet for one known upstream brand:
// its default endpoint, the wire format it speaks, and whether it supports
// streaming at all. Generalized from the teacher's per-provider Provider
// interface implementations (anthropic.go/openai.go/gemini.go/nvidia.go/
// openrouter.go): those carried full Transform/TransformStream bodies that
// duplicated what internal/normalize + internal/convert now do for every
// format pair, so only the descriptive half survives here.
type ProviderDescriptor struct {
	Name              string
	DefaultEndpoint   string
	Format            string
	SupportsStreaming bool
}

// Registry is a directory of known provider descriptors, keyed by name and
// by the public domain their API is served from. Grounds the teacher's
// providers.Registry, trimmed to the descriptor-only shape ConfigResolver
// and the health surface actually consume.
type Registry struct {
	byName         map[string]ProviderDescriptor
	domainOverride map[string]string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]ProviderDescriptor)}
}

// SetDomainMappings installs operator-configured host-to-provider overrides
// (config.Config.DomainMappings), checked before the registry's own built-in
// domain table.
func (r *Registry) SetDomainMappings(mappings map[string]string) {
	r.domainOverride = mappings
}

func (r *Registry) Register(p ProviderDescriptor) {
	r.byName[p.Name] = p
}

func (r *Registry) Get(name string) (ProviderDescriptor, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// GetByDomain resolves an upstream API base URL's host to the provider
// descriptor known for that domain, consulting operator overrides first.
func (r *Registry) GetByDomain(apiBase string) (ProviderDescriptor, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return ProviderDescriptor{}, fmt.Errorf("invalid API base URL: %w", err)
	}
	domain := strings.ToLower(u.Hostname())

	if r.domainOverride != nil {
		if name, ok := r.domainOverride[domain]; ok {
			if p, found := r.Get(name); found {
				return p, nil
			}
		}
	}

	domainProviderMap := map[string]string{
		"openrouter.ai":                     "openrouter",
		"api.openrouter.ai":                 "openrouter",
		"api.openai.com":                    "openai",
		"api.anthropic.com":                 "anthropic",
		"integrate.api.nvidia.com":          "nvidia",
		"api.nvidia.com":                    "nvidia",
		"generativelanguage.googleapis.com": "gemini",
	}
	if name, ok := domainProviderMap[domain]; ok {
		if p, found := r.Get(name); found {
			return p, nil
		}
	}
	return ProviderDescriptor{}, fmt.Errorf("no provider found for domain: %s", domain)
}

// List returns every registered provider name, used by the health handler to
// report which upstream brands this deployment knows about by default.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// Initialize registers the built-in provider descriptors, one per wire
// format family the gateway natively understands.
func (r *Registry) Initialize() {
	r.Register(ProviderDescriptor{Name: "openrouter", DefaultEndpoint: "https://openrouter.ai/api/v1/chat/completions", Format: normalize.FormatOpenAIChat, SupportsStreaming: true})
	r.Register(ProviderDescriptor{Name: "openai", DefaultEndpoint: "https://api.openai.com/v1/chat/completions", Format: normalize.FormatOpenAIChat, SupportsStreaming: true})
	r.Register(ProviderDescriptor{Name: "anthropic", DefaultEndpoint: "https://api.anthropic.com/v1/messages", Format: normalize.FormatClaudeChat, SupportsStreaming: true})
	r.Register(ProviderDescriptor{Name: "nvidia", DefaultEndpoint: "https://integrate.api.nvidia.com/v1/chat/completions", Format: normalize.FormatOpenAIChat, SupportsStreaming: true})
	r.Register(ProviderDescriptor{Name: "gemini", DefaultEndpoint: "https://generativelanguage.googleapis.com/v1beta/models", Format: normalize.FormatGeminiChat, SupportsStreaming: true})
}
