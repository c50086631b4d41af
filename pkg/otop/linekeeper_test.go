package otop_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/infdserver/pkg/otop"
)

func TestLineKeeperNoAdjustmentWhenAlreadyCorrect(t *testing.T) {
	k := otop.NewLineKeeper(1)
	assert.Nil(t, k.Adjust("hello\n", 1))
}

func TestLineKeeperInsertsMissingTrailingNewlines(t *testing.T) {
	k := otop.NewLineKeeper(2)
	op := k.Adjust("hello", 1)
	require.NotNil(t, op)
	ins, ok := op.(*otop.Insert)
	require.True(t, ok)
	assert.Equal(t, 5, ins.Pos)
	assert.Equal(t, 2, ins.Length)
}

func TestLineKeeperDeletesExcessTrailingNewlines(t *testing.T) {
	k := otop.NewLineKeeper(1)
	op := k.Adjust("hello\n\n\n", 1)
	require.NotNil(t, op)
	del, ok := op.(*otop.Delete)
	require.True(t, ok)
	assert.Equal(t, 6, del.Pos)
	assert.Equal(t, 2, del.Length)
}

func TestLineKeeperZeroLinesTrimsAllTrailingNewlines(t *testing.T) {
	k := otop.NewLineKeeper(0)
	op := k.Adjust("hello\n", 1)
	require.NotNil(t, op)
	del, ok := op.(*otop.Delete)
	require.True(t, ok)
	assert.Equal(t, 5, del.Pos)
	assert.Equal(t, 1, del.Length)
}
