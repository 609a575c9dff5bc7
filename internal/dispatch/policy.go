package dispatch

import (
	"github.com/nullform/llmgateway/internal/normalize"
	"github.com/tidwall/sjson"
)

// StreamPolicy decides whether the upstream request actually sent should be
// streaming or not, independent of what the client asked for (spec §4.2
// "Upstream Stream Policy", C5).
type StreamPolicy string

const (
	// PolicyAuto forwards the client's stream flag unmodified.
	PolicyAuto StreamPolicy = "auto"
	// PolicyForceStream always requests a stream from upstream, aggregating
	// down to a single response afterward if the client didn't ask to stream.
	PolicyForceStream StreamPolicy = "force_stream"
	// PolicyForceNonStream always requests a non-streaming response from
	// upstream, expanding it into synthetic events if the client asked to
	// stream.
	PolicyForceNonStream StreamPolicy = "force_non_stream"
)

// ResolveUpstreamStream decides the actual upstream stream flag for a given
// client-requested flag and policy.
func ResolveUpstreamStream(clientWantsStream bool, policy StreamPolicy) bool {
	switch policy {
	case PolicyForceStream:
		return true
	case PolicyForceNonStream:
		return false
	default:
		return clientWantsStream
	}
}

// RewriteStreamField sets (or removes) the "stream" key on a marshaled
// upstream request body to match the resolved upstream flag, per candidate
// format quirk (spec §4.4 step 6). It edits the raw JSON in place with sjson
// rather than a full unmarshal/marshal round trip, so fields the normalizer
// didn't model (provider-specific extras already present in the body) survive
// untouched.
//
//   - Gemini family has no "stream" body field at all — the verb is carried in
//     the URL (:streamGenerateContent vs :generateContent) — so the key is
//     deleted if present rather than set.
//   - OpenAI Chat additionally sets stream_options.include_usage=true when
//     streaming upstream, so the final usage event survives conversion.
//   - Every other format gets stream set explicitly, including false, so a
//     provider that defaults to streaming when the field is merely absent
//     doesn't surprise the dispatcher.
func RewriteStreamField(body []byte, format string, upstreamStream bool) ([]byte, error) {
	if normalize.DataFamily(format) == "gemini" {
		out, err := sjson.DeleteBytes(body, "stream")
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	out, err := sjson.SetBytes(body, "stream", upstreamStream)
	if err != nil {
		return nil, err
	}
	if format == normalize.FormatOpenAIChat && upstreamStream {
		out, err = sjson.SetBytes(out, "stream_options.include_usage", true)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
