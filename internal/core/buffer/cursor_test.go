package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/v6rx/internal/core"
)

func seq(from, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(from + i)
	}
	return b
}

func TestCursor_EnsureWithinChunk(t *testing.T) {
	c := New(seq(0, 10), seq(10, 10))

	b, err := c.Ensure(4)
	require.NoError(t, err)
	assert.Equal(t, seq(0, 4), b)
	assert.Equal(t, 4, cap(b), "view must be capped")
	assert.Equal(t, 10, c.Contiguous())
	assert.Equal(t, 20, c.Len())
}

func TestCursor_EnsurePullsUpAcrossChunks(t *testing.T) {
	first, second, third := seq(0, 6), seq(6, 6), seq(12, 6)
	c := New(first, second, third)
	require.NoError(t, c.Advance(4))

	b, err := c.Ensure(10)
	require.NoError(t, err)
	assert.Equal(t, seq(4, 10), b)
	assert.Equal(t, 10, c.Contiguous())
	assert.Equal(t, 4, c.Offset())

	// Caller memory is untouched and the whole stream still reads back.
	assert.Equal(t, seq(0, 6), first)
	assert.Equal(t, seq(6, 6), second)
	all := make([]byte, 18)
	assert.Equal(t, 18, c.CopyAt(0, all))
	assert.Equal(t, seq(0, 18), all)

	require.NoError(t, c.Advance(10))
	b, err = c.Ensure(4)
	require.NoError(t, err)
	assert.Equal(t, seq(14, 4), b)
}

func TestCursor_EnsureShort(t *testing.T) {
	c := New(seq(0, 3), seq(3, 3))
	_, err := c.Ensure(7)
	assert.ErrorIs(t, err, core.ErrShortBuffer)

	_, err = c.Ensure(-1)
	assert.ErrorIs(t, err, core.ErrShortBuffer)
}

func TestCursor_Advance(t *testing.T) {
	c := New(seq(0, 5), nil, seq(5, 5))
	require.NoError(t, c.Advance(5))
	assert.Equal(t, 5, c.Offset())
	assert.Equal(t, 5, c.Contiguous())

	assert.ErrorIs(t, c.Advance(6), core.ErrBadAdvance)
	require.NoError(t, c.Advance(5))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.Contiguous())
}

func TestCursor_TruncateDropsPadding(t *testing.T) {
	c := New(seq(0, 8), seq(8, 8))
	require.NoError(t, c.Advance(2))
	require.NoError(t, c.Truncate(9))

	assert.Equal(t, 9, c.Len())
	assert.Equal(t, 11, c.Size())
	assert.Equal(t, seq(2, 9), c.Bytes())
	assert.Equal(t, 6, c.Contiguous())

	_, err := c.Ensure(10)
	assert.ErrorIs(t, err, core.ErrShortBuffer)
	assert.ErrorIs(t, c.Truncate(10), core.ErrShortBuffer)
}

func TestCursor_CopyAt(t *testing.T) {
	c := New(seq(0, 4), seq(4, 4), seq(8, 4))

	dst := make([]byte, 6)
	assert.Equal(t, 6, c.CopyAt(3, dst))
	assert.Equal(t, seq(3, 6), dst)

	dst = make([]byte, 10)
	assert.Equal(t, 2, c.CopyAt(10, dst))
	assert.Equal(t, 0, c.CopyAt(12, dst))
	assert.Equal(t, 0, c.CopyAt(-1, dst))
}

func TestCursor_CloneIsIndependent(t *testing.T) {
	c := New(seq(0, 4), seq(4, 4))
	cl := c.Clone()

	_, err := cl.Ensure(6)
	require.NoError(t, err)
	require.NoError(t, cl.Advance(3))

	assert.Equal(t, 0, c.Offset())
	assert.Equal(t, 4, c.Contiguous())
	assert.Equal(t, 3, cl.Offset())
}
