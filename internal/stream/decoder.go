// Package stream decodes the Server-Sent Events body of a streamed chat completion into the text the
// assistant produced.
package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"

	// maxFragment bounds the unparsed payload carried between data lines.
	maxFragment = 64 << 10
)

// Decoder incrementally decodes a chat-completions event stream. Bytes are written as they arrive from
// the transport, in chunks of any size. The decoder turns them into UTF-8 text, frames the text into
// lines and extracts choices[0].delta.content from every "data: " line. Each non-empty delta is appended
// to the accumulated content and handed to the callback given to NewDecoder.
//
// A data payload that is not valid JSON is kept as a fragment and joined with the payload of the next
// data line, so a JSON object split over several lines is recovered instead of lost. A fragment that
// can not be completed is dropped once a well-formed payload arrives on its own.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	text    *transform.Writer
	lines   []byte
	pending string

	content strings.Builder
	dropped int

	onDelta func(string)
}

type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type lineSink struct {
	d *Decoder
}

// NewDecoder creates a Decoder that reports every decoded delta to onDelta. onDelta may be nil.
func NewDecoder(onDelta func(delta string)) *Decoder {
	d := &Decoder{onDelta: onDelta}
	// The BOM aware decoder keeps incomplete multi-byte sequences until the next write and replaces
	// invalid bytes with U+FFFD, the same way a browser TextDecoder in streaming mode does.
	d.text = transform.NewWriter(lineSink{d: d}, unicode.UTF8BOM.NewDecoder())
	return d
}

// Decode reads r until EOF through a new Decoder and returns the accumulated content.
func Decode(r io.Reader, onDelta func(delta string)) (string, error) {
	d := NewDecoder(onDelta)
	if _, err := io.Copy(d, r); err != nil {
		return d.Content(), err
	}
	if err := d.Close(); err != nil {
		return d.Content(), err
	}
	return d.Content(), nil
}

// Write feeds the next chunk of the raw stream into the decoder.
func (d *Decoder) Write(p []byte) (int, error) {
	return d.text.Write(p)
}

// Close signals the end of the stream. An unterminated trailing line and a pending fragment are
// discarded and counted in Dropped.
func (d *Decoder) Close() error {
	err := d.text.Close()
	if len(bytes.TrimSpace(d.lines)) > 0 {
		d.dropped++
	}
	d.lines = nil
	if d.pending != "" {
		d.dropped++
		d.pending = ""
	}
	return err
}

// Content returns the text accumulated so far.
func (d *Decoder) Content() string {
	return d.content.String()
}

// Dropped returns how many payloads were discarded because they never formed valid JSON.
func (d *Decoder) Dropped() int {
	return d.dropped
}

func (s lineSink) Write(p []byte) (int, error) {
	s.d.lines = append(s.d.lines, p...)
	s.d.drain()
	return len(p), nil
}

func (d *Decoder) drain() {
	for {
		i := bytes.IndexByte(d.lines, '\n')
		if i < 0 {
			return
		}
		line := string(d.lines[:i])
		d.lines = d.lines[i+1:]
		d.line(strings.TrimSuffix(line, "\r"))
	}
}

func (d *Decoder) line(line string) {
	if strings.HasPrefix(line, ":") || strings.TrimSpace(line) == "" {
		return
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneSentinel {
		return
	}
	d.payload(payload)
}

func (d *Decoder) payload(payload string) {
	if d.pending != "" {
		joined := d.pending + payload
		if delta, ok := parseDelta(joined); ok {
			d.pending = ""
			d.emit(delta)
			return
		}
		if delta, ok := parseDelta(payload); ok {
			d.pending = ""
			d.dropped++
			d.emit(delta)
			return
		}
		d.dropped++
		d.hold(payload)
		return
	}

	delta, ok := parseDelta(payload)
	if !ok {
		d.hold(payload)
		return
	}
	d.emit(delta)
}

func (d *Decoder) hold(fragment string) {
	if len(fragment) > maxFragment {
		d.pending = ""
		d.dropped++
		return
	}
	d.pending = fragment
}

func (d *Decoder) emit(delta string) {
	if delta == "" {
		return
	}
	d.content.WriteString(delta)
	if d.onDelta != nil {
		d.onDelta(delta)
	}
}

func parseDelta(payload string) (string, bool) {
	var c chunk
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return "", false
	}
	if len(c.Choices) == 0 {
		return "", true
	}
	return c.Choices[0].Delta.Content, true
}
