package llm

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFrameDecoderBasic(t *testing.T) {
	input := "data: {\"a\":1}\n\ndata: {\"b\":2}\n\ndata: [DONE]\n"
	d := NewFrameDecoder(strings.NewReader(input))

	payload, ok, err := d.Next()
	if err != nil || !ok || payload != `{"a":1}` {
		t.Fatalf("first frame: got (%q, %v, %v)", payload, ok, err)
	}
	payload, ok, err = d.Next()
	if err != nil || !ok || payload != `{"b":2}` {
		t.Fatalf("second frame: got (%q, %v, %v)", payload, ok, err)
	}
	_, ok, err = d.Next()
	if ok || err != nil {
		t.Fatalf("after [DONE]: got (ok=%v, err=%v), want clean end", ok, err)
	}
	// Repeated calls after termination stay terminal.
	_, ok, err = d.Next()
	if ok || err != nil {
		t.Fatalf("second call after [DONE]: got (ok=%v, err=%v)", ok, err)
	}
}

func TestFrameDecoderSkipsNoise(t *testing.T) {
	input := strings.Join([]string{
		": comment line",
		"event: message",
		"",
		"data: {\"x\":1}",
		"id: 42",
		"",
		"data: [DONE]",
	}, "\n")
	d := NewFrameDecoder(strings.NewReader(input))

	payload, ok, err := d.Next()
	if err != nil || !ok || payload != `{"x":1}` {
		t.Fatalf("got (%q, %v, %v), want data payload only", payload, ok, err)
	}
	_, ok, _ = d.Next()
	if ok {
		t.Fatal("expected termination after [DONE]")
	}
}

func TestFrameDecoderStopsAtDone(t *testing.T) {
	// Content after [DONE] must never be read.
	input := "data: {\"x\":1}\ndata: [DONE]\ndata: {\"y\":2}\n"
	d := NewFrameDecoder(strings.NewReader(input))

	if _, ok, _ := d.Next(); !ok {
		t.Fatal("expected first frame")
	}
	if _, ok, _ := d.Next(); ok {
		t.Fatal("expected termination at [DONE]")
	}
	if payload, ok, _ := d.Next(); ok {
		t.Fatalf("read past [DONE]: %q", payload)
	}
}

func TestFrameDecoderEOFWithoutDone(t *testing.T) {
	d := NewFrameDecoder(strings.NewReader("data: {\"x\":1}\n"))
	if _, ok, _ := d.Next(); !ok {
		t.Fatal("expected first frame")
	}
	_, ok, err := d.Next()
	if ok || err != nil {
		t.Fatalf("EOF should be a clean end: (ok=%v, err=%v)", ok, err)
	}
}

type failingReader struct {
	data string
	err  error
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, r.err
}

func TestFrameDecoderSurfacesTransportError(t *testing.T) {
	wantErr := errors.New("connection reset")
	d := NewFrameDecoder(&failingReader{data: "data: {\"x\":1}\n", err: wantErr})

	if _, ok, _ := d.Next(); !ok {
		t.Fatal("expected first frame before the failure")
	}
	_, ok, err := d.Next()
	if ok {
		t.Fatal("expected stream end on transport failure")
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("got err %v, want %v", err, wantErr)
	}
}

func TestFrameDecoderEmptyStream(t *testing.T) {
	d := NewFrameDecoder(io.Reader(strings.NewReader("")))
	_, ok, err := d.Next()
	if ok || err != nil {
		t.Fatalf("empty stream: got (ok=%v, err=%v)", ok, err)
	}
}
