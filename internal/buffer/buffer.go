// Package buffer implements the fixed-capacity byte region each connection
// direction reads into and writes out of.
package buffer

// Buffer is a contiguous byte region of fixed capacity with two
// monotonically advancing cursors: a write cursor W and a read cursor R,
// 0 <= R <= W <= cap(data). Unlike a ring buffer it never wraps; instead
// both cursors reset to zero the instant the region fully drains, which
// is enough to keep a long-lived relay from ever exhausting its capacity.
type Buffer struct {
	data []byte
	r, w int
}

// New allocates a Buffer with the given fixed capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Writable returns the suffix [W, cap) that a reader may fill.
func (b *Buffer) Writable() []byte { return b.data[b.w:] }

// AdvanceWrite moves the write cursor forward by n, n <= cap-W.
func (b *Buffer) AdvanceWrite(n int) {
	if n < 0 || b.w+n > len(b.data) {
		panic("buffer: AdvanceWrite out of range")
	}
	b.w += n
}

// Readable returns the slice [R, W) available to a writer.
func (b *Buffer) Readable() []byte { return b.data[b.r:b.w] }

// AdvanceRead moves the read cursor forward by n, n <= W-R. When the
// buffer fully drains (R==W) both cursors reset to zero so later writes
// again see the full capacity as writable space.
func (b *Buffer) AdvanceRead(n int) {
	if n < 0 || b.r+n > b.w {
		panic("buffer: AdvanceRead out of range")
	}
	b.r += n
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
}

// Reset discards any buffered content, returning the buffer to empty.
func (b *Buffer) Reset() { b.r, b.w = 0, 0 }

// CanRead reports whether there is unread data (R < W).
func (b *Buffer) CanRead() bool { return b.r < b.w }

// CanWrite reports whether there is writable space (W < cap).
func (b *Buffer) CanWrite() bool { return b.w < len(b.data) }
