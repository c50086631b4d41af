package otop

import "strings"

// LineKeeper enforces that a buffer ends with exactly Lines trailing
// newlines, mirroring infinoted-plugin-linekeeper.c: after a text
// insertion changes the document's trailing line count, the
// difference is corrected by inserting or deleting at the very end
// of the buffer.
type LineKeeper struct {
	Lines int
}

// NewLineKeeper returns a LineKeeper requiring exactly lines trailing
// newlines.
func NewLineKeeper(lines int) *LineKeeper {
	return &LineKeeper{Lines: lines}
}

// Adjust inspects text, the full current buffer content, and returns
// the correcting operation to apply as author, or nil if text already
// ends with exactly k.Lines trailing newlines.
func (k *LineKeeper) Adjust(text string, author uint32) Operation {
	runes := []rune(text)
	cur := trailingNewlines(runes)

	switch {
	case cur > k.Lines:
		n := cur - k.Lines
		return NewDelete(len(runes)-n, n)
	case cur < k.Lines:
		n := k.Lines - cur
		return NewInsert(len(runes), strings.Repeat("\n", n), author)
	default:
		return nil
	}
}

func trailingNewlines(runes []rune) int {
	n := 0
	for i := len(runes) - 1; i >= 0 && runes[i] == '\n'; i-- {
		n++
	}
	return n
}
