// Package convert implements the conversion registry (C3): format lookup,
// request/response/stream/error conversion through the internal
// representation, tool-call-ID repair, and the format-compatibility gate.
package convert

import "github.com/nullform/llmgateway/internal/normalize"

// EndpointFormatAcceptance is the per-endpoint configuration knob that lets
// an operator declare which client formats an endpoint accepts without
// conversion, grounded on original_source's
// conversion/compatibility.py:is_format_compatible.
type EndpointFormatAcceptance struct {
	// AcceptedClientFormats, when non-empty, restricts which client formats
	// may reach this endpoint at all (checked before any conversion logic).
	AcceptedClientFormats []string
	// AllowConversion disables the registry entirely for this endpoint; when
	// false only an identical client format is accepted, same-family
	// passthrough included.
	AllowConversion bool
	// DisallowStreamConversion forbids converting a streaming request into a
	// different streaming format (still allows passthrough).
	DisallowStreamConversion bool
}

// IsFormatCompatible runs the nine-step gate from the original implementation's
// is_format_compatible: it decides whether a request in clientFormat can be
// served by an endpoint declared as endpointFormat without (or with)
// conversion, and whether that combination is currently allowed.
func IsFormatCompatible(
	clientFormat, endpointFormat string,
	acceptance EndpointFormatAcceptance,
	isStream bool,
	globalConversionEnabled bool,
	reg *Registry,
) bool {
	// 1. Unknown formats never compatible.
	if !reg.HasNormalizer(clientFormat) || !reg.HasNormalizer(endpointFormat) {
		return false
	}

	// 2. Identical format: always compatible, no conversion needed.
	if clientFormat == endpointFormat {
		return true
	}

	// 3. Endpoint explicitly restricts accepted client formats.
	if len(acceptance.AcceptedClientFormats) > 0 {
		allowed := false
		for _, f := range acceptance.AcceptedClientFormats {
			if f == clientFormat {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	// 4. Conversion disabled globally: only an identical format (step 2)
	// passes; a same-family pair is refused too.
	if !globalConversionEnabled {
		return false
	}

	// 5. Conversion disabled for this endpoint specifically.
	if !acceptance.AllowConversion {
		return false
	}

	// 6. Same data family (e.g. claude:chat <-> claude:cli): passthrough,
	// compatible once the gates above have passed.
	if normalize.DataFamily(clientFormat) == normalize.DataFamily(endpointFormat) {
		return true
	}

	// 7. Streaming conversion disabled for this endpoint, but the request is
	// a stream and source/target formats differ in stream representation.
	if isStream && acceptance.DisallowStreamConversion {
		return false
	}

	// 8. The registry must actually have both normalizers capable of the
	// needed direction (request conversion always required at this point).
	if !reg.CanConvertRequest(clientFormat, endpointFormat) {
		return false
	}

	// 9. If streaming, both normalizers must declare stream support, since a
	// non-streaming normalizer cannot participate in the stream bridge.
	if isStream && !reg.CanConvertStream(clientFormat, endpointFormat) {
		return false
	}

	return true
}
