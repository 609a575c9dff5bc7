package dispatch

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"
)

// EmptyChunkThreshold and DataTimeout bound a stalled SSE stream: too many
// consecutive blank keepalive lines, or waiting longer than DataTimeout for
// the next line of any kind, aborts the attempt rather than hanging the client connection
// forever (spec §4.2 "Dispatcher" timeout handling).
const (
	EmptyChunkThreshold = 30
	DataTimeout         = 8 * time.Second
)

// SSELine is one parsed line from an upstream event-stream body.
type SSELine struct {
	// Event carries an explicit "event: X" line's value, empty otherwise.
	Event string
	// Data carries a "data: X" line's payload with the prefix stripped.
	Data string
	// Done reports the literal "data: [DONE]" sentinel OpenAI-family APIs use.
	Done bool
	// Blank reports a keepalive/separator blank line.
	Blank bool
}

// SSEReader incrementally parses an upstream SSE body, grounded on the
// teacher's handleStreamingResponse bufio.Scanner loop but generalized into
// a reusable reader with idle-timeout and empty-chunk-threshold enforcement
// the teacher's version didn't have.
type SSEReader struct {
	scanner      *bufio.Scanner
	emptyStreak  int
	pendingEvent string
}

func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{scanner: bufio.NewScanner(r)}
}

// Next blocks for the next parsed line, honoring ctx cancellation and the
// DataTimeout idle gap. Returns io.EOF when the stream ends cleanly.
func (s *SSEReader) Next(ctx context.Context) (SSELine, error) {
	type result struct {
		line SSELine
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		ch <- s.scanRaw()
	}()

	select {
	case <-ctx.Done():
		return SSELine{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return SSELine{}, r.err
		}
		if r.line.Blank {
			s.emptyStreak++
			if s.emptyStreak >= EmptyChunkThreshold {
				return SSELine{}, ErrTimeout
			}
		} else {
			s.emptyStreak = 0
		}
		return r.line, nil
	case <-time.After(DataTimeout):
		return SSELine{}, ErrTimeout
	}
}

func (s *SSEReader) scanRaw() (line SSELine, err error) {
	if !s.scanner.Scan() {
		if scanErr := s.scanner.Err(); scanErr != nil {
			return SSELine{}, scanErr
		}
		return SSELine{}, io.EOF
	}
	raw := strings.TrimRight(s.scanner.Text(), "\r")
	switch {
	case raw == "":
		return SSELine{Blank: true}, nil
	case strings.HasPrefix(raw, ": "):
		return SSELine{Blank: true}, nil
	case strings.HasPrefix(raw, "event: "):
		line.Event = strings.TrimPrefix(raw, "event: ")
		return line, nil
	case raw == "data: [DONE]":
		return SSELine{Done: true}, nil
	case strings.HasPrefix(raw, "data: "):
		line.Data = strings.TrimPrefix(raw, "data: ")
		return line, nil
	default:
		return SSELine{Blank: true}, nil
	}
}
