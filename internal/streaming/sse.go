// Package streaming implements the SSE frame parser and the per-provider
// event→chunk state machine (C7): a pull-driven decoder that owns an
// input byte buffer and exposes a poll-style Feed/Next pair instead of a
// blocking read loop, so callers (including a single-threaded WASM
// runtime) drive it from their own event loop.
package streaming

import "strings"

// Frame is one decoded SSE frame: an optional event name and its data
// payload (multiple `data:` lines joined by "\n", per the SSE spec).
type Frame struct {
	Event string
	Data  string
}

// FrameParser is a pull-driven SSE line parser. Feed appends raw bytes
// from the transport; NextFrame extracts and returns the next complete
// frame once a blank line terminates it, or ok=false if more bytes are
// needed.
type FrameParser struct {
	buffer      strings.Builder
	pending     string
	eventName   string
	dataLines   []string
	haveAnyData bool
}

// Feed appends transport bytes to the internal buffer.
func (p *FrameParser) Feed(chunk []byte) {
	p.pending += string(chunk)
}

// NextFrame extracts the next complete line-terminated frame from the
// buffer, if one is available. It must be called repeatedly (a poll
// loop) until it returns ok=false, at which point the caller should Feed
// more bytes.
func (p *FrameParser) NextFrame() (frame Frame, ok bool) {
	for {
		idx := strings.IndexByte(p.pending, '\n')
		if idx < 0 {
			return Frame{}, false
		}
		line := p.pending[:idx]
		p.pending = p.pending[idx+1:]
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if !p.haveAnyData && p.eventName == "" {
				continue // blank line with nothing buffered: ignore
			}
			frame = Frame{Event: p.eventName, Data: strings.Join(p.dataLines, "\n")}
			p.eventName = ""
			p.dataLines = nil
			p.haveAnyData = false
			return frame, true
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment line, ignored
		case strings.HasPrefix(line, "event:"):
			p.eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			p.dataLines = append(p.dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			p.haveAnyData = true
		default:
			// unrecognized field, ignored (forward-compatible)
		}
	}
}
