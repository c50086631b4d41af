// Package textchunk implements the authored-run text buffer shared by
// every document session: an ordered sequence of (author, bytes) runs
// that together make up the document's content, with splice/slice/
// iterate operations used by the operational-transformation layer.
package textchunk

import (
	"unicode/utf8"

	"github.com/zeebo/errs"
)

// Error is the class for all text chunk errors.
var Error = errs.Class("textchunk")

// Run is one authored, contiguous span of text.
type Run struct {
	Author uint32
	Text   []rune
}

func (r Run) len() int { return len(r.Text) }

// Chunk is an ordered sequence of authored runs. The zero value is an
// empty chunk and is ready to use. A Chunk's encoding is fixed for
// its lifetime; character counting throughout is by Unicode code
// point, matching the rune slice representation used here.
type Chunk struct {
	runs   []Run
	length int
}

// New returns an empty chunk.
func New() *Chunk {
	return &Chunk{}
}

// NewWithText returns a chunk containing text, entirely authored by
// author.
func NewWithText(text string, author uint32) *Chunk {
	c := New()
	if text == "" {
		return c
	}
	c.runs = []Run{{Author: author, Text: []rune(text)}}
	c.length = len(c.runs[0].Text)
	return c
}

// Len returns the chunk's length in characters.
func (c *Chunk) Len() int {
	return c.length
}

// String returns the chunk's full text content.
func (c *Chunk) String() string {
	buf := make([]rune, 0, c.length)
	for _, r := range c.runs {
		buf = append(buf, r.Text...)
	}
	return string(buf)
}

// locate finds the run index and in-run rune offset holding character
// position pos. pos may equal the chunk length, in which case the
// returned index is len(c.runs) and offset is 0.
func (c *Chunk) locate(pos int) (runIdx, offset int) {
	cursor := 0
	for i, r := range c.runs {
		if pos < cursor+r.len() {
			return i, pos - cursor
		}
		cursor += r.len()
	}
	return len(c.runs), 0
}

// Insert splices text, authored by author, into the chunk at
// character offset pos. pos == Len() is permitted (append). Adjacent
// same-author runs created by the split may be coalesced with their
// neighbours.
func (c *Chunk) Insert(pos int, text string, author uint32) error {
	if pos < 0 || pos > c.length {
		return Error.New("out-of-bounds: insert at %d, length %d", pos, c.length)
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	idx, offset := c.locate(pos)
	newRun := Run{Author: author, Text: runes}

	switch {
	case idx == len(c.runs):
		c.runs = append(c.runs, newRun)
	case offset == 0:
		c.runs = append(c.runs[:idx], append([]Run{newRun}, c.runs[idx:]...)...)
	default:
		before := c.runs[idx]
		left := Run{Author: before.Author, Text: append([]rune(nil), before.Text[:offset]...)}
		right := Run{Author: before.Author, Text: append([]rune(nil), before.Text[offset:]...)}
		replacement := []Run{left, newRun, right}
		c.runs = append(c.runs[:idx], append(replacement, c.runs[idx+1:]...)...)
	}

	c.length += len(runes)
	c.coalesce()
	return nil
}

// Erase removes length characters starting at character offset pos.
func (c *Chunk) Erase(pos, length int) error {
	if pos < 0 || length < 0 || pos+length > c.length {
		return Error.New("out-of-bounds: erase [%d,%d) of length %d", pos, pos+length, c.length)
	}
	if length == 0 {
		return nil
	}

	startIdx, startOff := c.locate(pos)
	endIdx, endOff := c.locate(pos + length)

	var result []Run
	result = append(result, c.runs[:startIdx]...)

	if startIdx == endIdx {
		run := c.runs[startIdx]
		kept := append(append([]rune(nil), run.Text[:startOff]...), run.Text[endOff:]...)
		if len(kept) > 0 {
			result = append(result, Run{Author: run.Author, Text: kept})
		}
	} else {
		first := c.runs[startIdx]
		if startOff > 0 {
			result = append(result, Run{Author: first.Author, Text: append([]rune(nil), first.Text[:startOff]...)})
		}
		if endIdx < len(c.runs) {
			last := c.runs[endIdx]
			if endOff < last.len() {
				result = append(result, Run{Author: last.Author, Text: append([]rune(nil), last.Text[endOff:]...)})
			}
		}
	}

	if endIdx < len(c.runs) {
		result = append(result, c.runs[endIdx+1:]...)
	}

	c.runs = result
	c.length -= length
	c.coalesce()
	return nil
}

// Slice produces an independent chunk holding the characters
// [pos, pos+length), preserving authorship.
func (c *Chunk) Slice(pos, length int) (*Chunk, error) {
	if pos < 0 || length < 0 || pos+length > c.length {
		return nil, Error.New("out-of-bounds: slice [%d,%d) of length %d", pos, pos+length, c.length)
	}
	out := New()
	if length == 0 {
		return out, nil
	}

	startIdx, startOff := c.locate(pos)
	endIdx, endOff := c.locate(pos + length)

	for i := startIdx; i <= endIdx && i < len(c.runs); i++ {
		run := c.runs[i]
		from, to := 0, run.len()
		if i == startIdx {
			from = startOff
		}
		if i == endIdx {
			to = endOff
		}
		if from >= to {
			continue
		}
		out.runs = append(out.runs, Run{Author: run.Author, Text: append([]rune(nil), run.Text[from:to]...)})
	}
	out.length = length
	out.coalesce()
	return out, nil
}

// Concat returns a new chunk holding a's text followed by b's,
// preserving authorship of both.
func Concat(a, b *Chunk) *Chunk {
	out := New()
	out.runs = append(out.runs, a.runs...)
	out.runs = append(out.runs, b.runs...)
	out.length = a.length + b.length
	out.coalesce()
	return out
}

// IterFunc is called once per run during Iter, with the run's
// author, its starting character offset, its length, and its text.
type IterFunc func(author uint32, offset, length int, text string) bool

// Iter walks the chunk's runs in order, calling fn for each one.
// Iteration stops early if fn returns false. Offsets are monotone
// increasing and cover [0, Len()) without gap.
func (c *Chunk) Iter(fn IterFunc) {
	offset := 0
	for _, r := range c.runs {
		if !fn(r.Author, offset, r.len(), string(r.Text)) {
			return
		}
		offset += r.len()
	}
}

// coalesce merges adjacent runs sharing an author. Coalescing is
// optional per the text-chunk invariant but kept unconditional here
// to bound the run count.
func (c *Chunk) coalesce() {
	if len(c.runs) < 2 {
		return
	}
	merged := c.runs[:1]
	for _, r := range c.runs[1:] {
		last := &merged[len(merged)-1]
		if last.Author == r.Author {
			last.Text = append(last.Text, r.Text...)
			continue
		}
		merged = append(merged, r)
	}
	c.runs = merged
}

// ValidEncoding reports whether s is valid UTF-8, the chunk's fixed
// encoding for the lifetime of this package's Chunk type.
func ValidEncoding(s string) bool {
	return utf8.ValidString(s)
}
