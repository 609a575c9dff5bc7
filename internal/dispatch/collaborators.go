package dispatch

import (
	"context"
	"net/http"
)

// Candidate is one upstream target the Scheduler offered for a request —
// an API base, an optional tunnel node ID, and the wire format it speaks.
type Candidate struct {
	Name        string
	APIBase     string
	Format      string
	APIKey      string
	TunnelNodeID string // empty when the candidate is reached directly

	// CodexCLI marks an openai:cli candidate as the Codex CLI's fixed request
	// shape (stream=true, store=false, encrypted reasoning) rather than the
	// general Responses API shape — same wire format, different render.
	CodexCLI bool
}

// Resolver maps a client-requested model string to the ordered list of
// upstream candidates willing to serve it, generalizing the teacher's
// ProxyHandler.findProvider + Router.selectModel into a collaborator the
// dispatcher depends on only through this interface (spec §6.4).
type Resolver interface {
	ResolveCandidates(ctx context.Context, requestedModel string) ([]Candidate, error)
}

// Scheduler orders and filters candidates for one attempt sequence,
// generalizing the teacher's flat "first matching provider" behavior into a
// seam that can later host load-aware or cost-aware ordering without
// touching the dispatcher (spec §6.4).
type Scheduler interface {
	Order(candidates []Candidate) []Candidate
}

// ProviderEnvelope builds the transport-level request the dispatcher sends
// for one candidate: method, target URL, and any body rewriting the
// candidate's transport requires (e.g. Gemini's API-key query parameter).
// Grounded on the teacher's buildEndpointURL/setAuthHeader split in
// internal/handlers/proxy.go.
type ProviderEnvelope interface {
	BuildRequest(ctx context.Context, c Candidate, model string, body []byte, stream bool) (*http.Request, error)
}

// Auth attaches upstream credentials to a built request and reports whether
// a 401 response should trigger exactly one forced-refresh retry (spec §7's
// "OAuth 401 force-refresh-retry-once" rule).
type Auth interface {
	Apply(req *http.Request, c Candidate) error
	SupportsRefresh(c Candidate) bool
	ForceRefresh(ctx context.Context, c Candidate) error
}
