package textchunk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/infdserver/pkg/textchunk"
)

func TestInsertAppend(t *testing.T) {
	c := textchunk.New()
	require.NoError(t, c.Insert(0, "hello", 1))
	assert.Equal(t, "hello", c.String())
	require.NoError(t, c.Insert(5, " world", 2))
	assert.Equal(t, "hello world", c.String())
}

func TestInsertMiddleSplitsRun(t *testing.T) {
	c := textchunk.NewWithText("ace", 1)
	require.NoError(t, c.Insert(1, "b", 2))
	assert.Equal(t, "abce", c.String())
	require.NoError(t, c.Insert(3, "d", 2))
	assert.Equal(t, "abcde", c.String())
}

func TestInsertOutOfBounds(t *testing.T) {
	c := textchunk.NewWithText("abc", 1)
	assert.Error(t, c.Insert(4, "x", 1))
	assert.Error(t, c.Insert(-1, "x", 1))
}

func TestEraseFullRun(t *testing.T) {
	c := textchunk.New()
	require.NoError(t, c.Insert(0, "abc", 1))
	require.NoError(t, c.Insert(3, "def", 2))
	require.NoError(t, c.Erase(3, 3))
	assert.Equal(t, "abc", c.String())
}

func TestErasePartial(t *testing.T) {
	c := textchunk.NewWithText("abcdef", 1)
	require.NoError(t, c.Erase(1, 2))
	assert.Equal(t, "adef", c.String())
}

func TestEraseOutOfBounds(t *testing.T) {
	c := textchunk.NewWithText("abc", 1)
	assert.Error(t, c.Erase(2, 5))
}

func TestSlicePreservesAuthorship(t *testing.T) {
	c := textchunk.New()
	require.NoError(t, c.Insert(0, "abc", 1))
	require.NoError(t, c.Insert(3, "def", 2))

	sl, err := c.Slice(2, 3)
	require.NoError(t, err)
	assert.Equal(t, "cde", sl.String())

	var authors []uint32
	sl.Iter(func(author uint32, offset, length int, text string) bool {
		authors = append(authors, author)
		return true
	})
	assert.Equal(t, []uint32{1, 2}, authors)
}

func TestIterCoversWithoutGap(t *testing.T) {
	c := textchunk.New()
	require.NoError(t, c.Insert(0, "abc", 1))
	require.NoError(t, c.Insert(3, "def", 2))

	var total int
	expected := 0
	c.Iter(func(author uint32, offset, length int, text string) bool {
		assert.Equal(t, expected, offset)
		expected += length
		total += length
		return true
	})
	assert.Equal(t, c.Len(), total)
}

func TestRoundTripInsertErase(t *testing.T) {
	c := textchunk.NewWithText("hello world", 1)
	before := c.String()

	require.NoError(t, c.Insert(5, ", comrade", 2))
	require.NoError(t, c.Erase(5, len(", comrade")))
	assert.Equal(t, before, c.String())
}

func TestCoalescesSameAuthorRuns(t *testing.T) {
	c := textchunk.New()
	require.NoError(t, c.Insert(0, "ab", 1))
	require.NoError(t, c.Insert(2, "cd", 1))

	count := 0
	c.Iter(func(uint32, int, int, string) bool { count++; return true })
	assert.Equal(t, 1, count)
}
