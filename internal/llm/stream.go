package llm

import (
	"bufio"
	"io"
	"strings"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// FrameDecoder decodes an SSE-style line stream into discrete data payloads.
// It is single-pass and forward-only: blank lines and non-data fields are
// skipped, and the [DONE] sentinel terminates decoding without reading any
// further lines. The decoder never buffers more than the current line.
type FrameDecoder struct {
	scanner *bufio.Scanner
	done    bool
}

// NewFrameDecoder wraps a raw byte stream (typically an HTTP response body).
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &FrameDecoder{scanner: scanner}
}

// Next returns the next data payload, trimmed of surrounding whitespace.
// ok is false once the stream is exhausted: err is nil after a clean end
// ([DONE] or EOF) and non-nil when the underlying source failed, so a
// connection drop is never mistaken for completion.
func (d *FrameDecoder) Next() (payload string, ok bool, err error) {
	if d.done {
		return "", false, nil
	}

	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, dataPrefix) {
			// Non-data SSE fields (event:, id:, comments) are ignored.
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if data == doneSentinel {
			d.done = true
			return "", false, nil
		}
		if data == "" {
			continue
		}
		return data, true, nil
	}

	d.done = true
	if err := d.scanner.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}
