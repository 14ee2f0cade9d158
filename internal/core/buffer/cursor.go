// Package buffer implements a read cursor over discontiguous packet data.
package buffer

import (
	"fmt"

	"firestige.xyz/v6rx/internal/core"
)

// Cursor walks a byte sequence that may be split over several chunks, the way
// frames arrive from scatter/gather receive rings.
//
// Chunks handed to a Cursor are treated as read-only. When a caller needs more
// contiguous bytes than the current chunk holds, Ensure copies the spanned
// range into a fresh chunk and splices it into the cursor's own chunk list, so
// later reads see the joined data and the caller's memory is never written.
type Cursor struct {
	chunks [][]byte
	idx    int // chunk holding the cursor position
	pos    int // offset of the cursor inside chunks[idx]
	off    int // absolute offset of the cursor
	limit  int // absolute end of readable data
}

// New returns a cursor positioned at the first byte of chunks. Empty chunks
// are skipped.
func New(chunks ...[]byte) *Cursor {
	c := &Cursor{chunks: make([][]byte, 0, len(chunks))}
	for _, b := range chunks {
		if len(b) == 0 {
			continue
		}
		c.chunks = append(c.chunks, b)
		c.limit += len(b)
	}
	return c
}

// Offset returns the absolute position of the cursor.
func (c *Cursor) Offset() int { return c.off }

// Len returns the number of readable bytes at and after the cursor.
func (c *Cursor) Len() int { return c.limit - c.off }

// Size returns the absolute end of readable data.
func (c *Cursor) Size() int { return c.limit }

// Contiguous returns how many bytes can be read at the cursor without a
// pull-up. It never exceeds Len.
func (c *Cursor) Contiguous() int {
	if c.idx >= len(c.chunks) {
		return 0
	}
	return min(len(c.chunks[c.idx])-c.pos, c.Len())
}

// Ensure returns a view of the next n bytes, joining chunks if they straddle a
// chunk boundary. The returned slice is capped at n and must not be written.
func (c *Cursor) Ensure(n int) ([]byte, error) {
	if n < 0 || n > c.Len() {
		return nil, fmt.Errorf("ensure %d bytes with %d remaining: %w", n, c.Len(), core.ErrShortBuffer)
	}
	if n == 0 {
		return []byte{}, nil
	}
	cur := c.chunks[c.idx][c.pos:]
	if len(cur) >= n {
		return cur[:n:n], nil
	}
	c.pullUp(n)
	return c.chunks[c.idx][:n:n], nil
}

// pullUp copies n bytes starting at the cursor into a new chunk and replaces
// the spanned chunks with it. Bytes of the first chunk before the cursor and
// bytes of the last chunk after the joined range keep their own chunks.
func (c *Cursor) pullUp(n int) {
	joined := make([]byte, 0, n)
	i, p := c.idx, c.pos
	for len(joined) < n {
		take := min(len(c.chunks[i])-p, n-len(joined))
		joined = append(joined, c.chunks[i][p:p+take]...)
		p += take
		if p == len(c.chunks[i]) {
			i, p = i+1, 0
		}
	}

	spliced := make([][]byte, 0, len(c.chunks)+2)
	spliced = append(spliced, c.chunks[:c.idx]...)
	if c.pos > 0 {
		spliced = append(spliced, c.chunks[c.idx][:c.pos])
	}
	spliced = append(spliced, joined)
	at := len(spliced) - 1
	if i < len(c.chunks) && p > 0 {
		spliced = append(spliced, c.chunks[i][p:])
		i++
	}
	spliced = append(spliced, c.chunks[i:]...)

	c.chunks = spliced
	c.idx, c.pos = at, 0
}

// Advance moves the cursor forward by n bytes.
func (c *Cursor) Advance(n int) error {
	if n < 0 || n > c.Len() {
		return fmt.Errorf("advance %d bytes with %d remaining: %w", n, c.Len(), core.ErrBadAdvance)
	}
	c.off += n
	for n > 0 {
		left := len(c.chunks[c.idx]) - c.pos
		if n < left {
			c.pos += n
			return nil
		}
		n -= left
		c.idx, c.pos = c.idx+1, 0
	}
	return nil
}

// Truncate limits the readable data to the next n bytes, dropping trailing
// link-layer padding.
func (c *Cursor) Truncate(n int) error {
	if n < 0 || n > c.Len() {
		return fmt.Errorf("truncate to %d bytes with %d remaining: %w", n, c.Len(), core.ErrShortBuffer)
	}
	c.limit = c.off + n
	return nil
}

// CopyAt copies readable bytes starting at absolute offset off into dst and
// returns the number of bytes copied. The cursor does not move.
func (c *Cursor) CopyAt(off int, dst []byte) int {
	if off < 0 || off >= c.limit {
		return 0
	}
	dst = dst[:min(len(dst), c.limit-off)]
	copied := 0
	base := 0
	for _, b := range c.chunks {
		if copied == len(dst) {
			break
		}
		end := base + len(b)
		if end > off+copied {
			copied += copy(dst[copied:], b[off+copied-base:])
		}
		base = end
	}
	return copied
}

// Bytes returns a copy of the readable bytes at and after the cursor.
func (c *Cursor) Bytes() []byte {
	b := make([]byte, c.Len())
	c.CopyAt(c.off, b)
	return b
}

// Clone returns an independent cursor over the same chunks. Chunks are shared
// but, being read-only, that is safe.
func (c *Cursor) Clone() *Cursor {
	cp := *c
	cp.chunks = append([][]byte(nil), c.chunks...)
	return &cp
}
