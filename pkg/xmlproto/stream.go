// Package xmlproto implements the wire grammar of §6.1-§6.2: a
// fragment-stream parser over a byte stream of back-to-back XML
// elements with no enclosing document root, and the message structs
// for each message family with their encoding/xml tags.
package xmlproto

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"

	"github.com/zeebo/errs"
)

// Error is the class for stream-framing failures.
var Error = errs.Class("xmlproto")

// Fragment is one decoded root element: its tag name and the raw
// bytes spanning the element, available for a second,
// message-specific Unmarshal once the caller has dispatched on Name.
type Fragment struct {
	Name string
	Raw  []byte
}

// TrafficLogger receives every fragment exchanged on a connection, in
// both directions, for optional debug-level logging (the traffic
// logging plugin's only carried-over behaviour, since plugin loading
// itself is out of scope).
type TrafficLogger interface {
	LogFragment(direction string, raw []byte)
}

// StreamParser accumulates bytes fed by the transport and yields one
// Fragment at a time. Because each call only ever looks for a single
// root element and leaves everything else buffered for the next call,
// a stream of several back-to-back fragments is handled without ever
// raising a "content after end of document" condition in the first
// place: that condition only arises when an entire buffer is parsed
// as a single document, which StreamParser never does (§9, Open
// Question 1 — this is the decision, not a workaround layered on
// top).
type StreamParser struct {
	buf      []byte
	consumed uint64
}

// NewStreamParser returns an empty parser.
func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

// Feed appends newly received bytes to the parser's buffer.
func (p *StreamParser) Feed(data []byte) {
	p.buf = append(p.buf, data...)
}

// BytesConsumed is the total number of input bytes consumed across
// every fragment returned so far.
func (p *StreamParser) BytesConsumed() uint64 {
	return p.consumed
}

// Next decodes the next complete fragment from the buffered bytes. It
// returns (nil, false, nil) when the buffer holds no complete
// fragment yet; the caller should Feed more bytes and retry. A
// malformed fragment surfaces as a structured error carrying the byte
// offset at which parsing failed, per §6.1.
func (p *StreamParser) Next() (*Fragment, bool, error) {
	if len(p.buf) == 0 {
		return nil, false, nil
	}

	dec := xml.NewDecoder(bytes.NewReader(p.buf))
	depth := 0
	var name string
	var start int64 = -1

	for {
		before := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, false, nil
		}
		// A fragment cut off mid-element surfaces as a syntax error
		// rather than io.EOF; it only means more bytes are needed.
		var syn *xml.SyntaxError
		if errors.As(err, &syn) && syn.Msg == "unexpected EOF" {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, Error.New("parsing fragment at byte %d: %v", before, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				start = before
				name = t.Name.Local
			}
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				end := dec.InputOffset()
				raw := append([]byte(nil), p.buf[start:end]...)
				p.buf = p.buf[end:]
				p.consumed += uint64(end)
				return &Fragment{Name: name, Raw: raw}, true, nil
			}
		}
	}
}

// Decode unmarshals f's raw bytes into v, e.g. a concrete message
// struct chosen by dispatching on f.Name.
func (f *Fragment) Decode(v interface{}) error {
	if err := xml.Unmarshal(f.Raw, v); err != nil {
		return Error.New("decoding <%s>: %v", f.Name, err)
	}
	return nil
}

// Encode marshals v into the raw bytes of one fragment for writing to
// the wire.
func Encode(v interface{}) ([]byte, error) {
	raw, err := xml.Marshal(v)
	if err != nil {
		return nil, Error.New("encoding fragment: %v", err)
	}
	return raw, nil
}
