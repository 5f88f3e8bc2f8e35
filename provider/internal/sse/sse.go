// Package sse implements the minimal "data: <line>" server-sent-event
// framing shared by the OpenAI-style and Gemini streaming grammars.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Reader yields successive SSE data payloads from body, stripping the
// "data: " prefix. Lines that are not data lines (blank lines, comments,
// event: lines) are skipped. The caller is responsible for recognizing any
// vendor-specific termination sentinel (e.g. "[DONE]") in the returned
// payload.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps body in a line scanner sized generously for long
// streamed completions.
func NewReader(body io.Reader) *Reader {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the next data payload and true, or ("", false) at EOF or on
// a scanner error — both cases are treated identically by adapters, which
// must emit a trailing final chunk regardless of why the stream ended.
func (r *Reader) Next() (string, bool) {
	event, data, ok := r.NextEvent()
	_ = event
	return data, ok
}

// NextEvent returns the next (event, data) pair, tracking the most recent
// "event:" line seen until the following "data:" line — the grammar
// Anthropic's typed SSE stream uses. event is "" when the vendor never
// sends event lines (OpenAI-style, Gemini).
func (r *Reader) NextEvent() (event, data string, ok bool) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			continue
		}
		if name, rest := strings.CutPrefix(line, "event:"); rest {
			event = strings.TrimSpace(name)
			continue
		}
		if payload, rest := strings.CutPrefix(line, "data:"); rest {
			return event, strings.TrimSpace(payload), true
		}
		// Ignore other SSE fields (id:, retry:, comments) silently.
	}
	return "", "", false
}
