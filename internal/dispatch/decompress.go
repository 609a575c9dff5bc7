package dispatch

import (
	"compress/gzip"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
)

// decompressReader wraps resp.Body according to its Content-Encoding header,
// salvaged from the teacher's legacy root main.go/new.go OpenRouter handling
// (the only place in the teacher tree that dealt with brotli) and the
// surviving internal/handlers/proxy.go decompressReader.
func decompressReader(resp *http.Response) (io.Reader, error) {
	return decompressBody(resp.Body, resp.Header.Get("Content-Encoding"))
}

// decompressBody is decompressReader's body, split out so callers that need
// to interpose another reader (the streaming path's TTFB timer) can do so
// before decompression touches the wire, rather than after.
func decompressBody(body io.Reader, contentEncoding string) (io.Reader, error) {
	switch contentEncoding {
	case "gzip":
		return gzip.NewReader(body)
	case "br":
		return brotli.NewReader(body), nil
	default:
		return body, nil
	}
}
