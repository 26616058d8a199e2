package conversation

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Hidden data block wire convention: the model appends its own view of the
// lead state as `<!--DATA:{...}-->` at the end of its reply. The block is
// parsed server-side and must never reach a user-visible sink.
const (
	hiddenBlockStart = "<!--DATA:"
	hiddenBlockEnd   = "-->"
)

// hiddenBlockFilter passes streamed text through to a sink while holding back
// the hidden data block. It runs as a two-state machine: while searching it
// buffers the stream tail, emitting any prefix that can no longer be the start
// of the block marker; once the marker is seen it stops emitting for good.
type hiddenBlockFilter struct {
	sink    func(string)
	buf     strings.Builder
	stopped bool
}

func newHiddenBlockFilter(sink func(string)) *hiddenBlockFilter {
	return &hiddenBlockFilter{sink: sink}
}

// Write feeds the filter one stream increment.
func (f *hiddenBlockFilter) Write(text string) {
	if f.stopped || text == "" {
		return
	}
	f.buf.WriteString(text)
	buffered := f.buf.String()

	if idx := strings.Index(buffered, hiddenBlockStart); idx >= 0 {
		f.stopped = true
		f.buf.Reset()
		if prefix := buffered[:idx]; prefix != "" {
			f.sink(prefix)
		}
		return
	}

	// Everything but the last len(marker)-1 characters is safe: a marker
	// straddling a chunk boundary can reach at most that far back.
	hold := len(hiddenBlockStart) - 1
	if len(buffered) <= hold {
		return
	}
	safe := len(buffered) - hold
	// Keep multi-byte runes intact across sink calls.
	for safe > 0 && !utf8.RuneStart(buffered[safe]) {
		safe--
	}
	if safe == 0 {
		return
	}
	f.sink(buffered[:safe])
	rest := buffered[safe:]
	f.buf.Reset()
	f.buf.WriteString(rest)
}

// Flush emits any plain text still buffered. Call once when the stream ends.
func (f *hiddenBlockFilter) Flush() {
	if f.stopped {
		return
	}
	if remaining := f.buf.String(); remaining != "" {
		f.sink(remaining)
	}
	f.buf.Reset()
	f.stopped = true
}

// StripHiddenBlock returns the user-visible part of a complete model reply,
// with the hidden data block and surrounding whitespace removed.
func StripHiddenBlock(text string) string {
	if idx := strings.Index(text, hiddenBlockStart); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// ParseHiddenBlock extracts the JSON payload of the hidden data block, if the
// reply carries one.
func ParseHiddenBlock(text string) (map[string]any, bool) {
	start := strings.Index(text, hiddenBlockStart)
	if start < 0 {
		return nil, false
	}
	rest := text[start+len(hiddenBlockStart):]
	end := strings.Index(rest, hiddenBlockEnd)
	if end < 0 {
		return nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(rest[:end]), &payload); err != nil {
		return nil, false
	}
	return payload, true
}
