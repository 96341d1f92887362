// Package chain implements Chain, the reference-counted byte rope used as
// the unit of data passed between riegeli's layers whenever copying would
// be wasteful: appending a Chain to another shares blocks by bumping a
// refcount instead of copying bytes, and a shared block is mutated in
// place only while its refcount is 1.
//
// The ref-counting discipline follows the same shape as a buffer-pool's
// acquire/release pair: a block is a plain byte slice guarded by an atomic
// refcount, handed out to multiple owners and only grown in place when
// uniquely owned.
package chain

import "sync/atomic"

// block is one contiguous segment of a Chain.
type block struct {
	data []byte // data[:size] is valid; cap(data) may exceed size
	refs atomic.Int32
}

func newBlock(capacity int) *block {
	b := &block{data: make([]byte, 0, capacity)}
	b.refs.Store(1)
	return b
}

func (b *block) acquire() {
	b.refs.Add(1)
}

func (b *block) release() {
	b.refs.Add(-1)
}

func (b *block) owned() bool {
	return b.refs.Load() == 1
}

const minBlockSize = 4 << 10

// Chain is a logically flat byte sequence stored as an ordered list of
// shared, reference-counted blocks.
type Chain struct {
	blocks []*block
	size   int
}

// New returns an empty Chain.
func New() *Chain {
	return &Chain{}
}

// FromBytes returns a Chain containing a copy of p.
func FromBytes(p []byte) *Chain {
	c := New()
	c.Append(p)
	return c
}

// Size returns the total number of bytes in the Chain.
func (c *Chain) Size() int {
	return c.size
}

// Append copies p onto the end of the Chain, reusing spare capacity in the
// last block when it is exclusively owned (refcount 1), and otherwise
// starting a new block.
func (c *Chain) Append(p []byte) {
	for len(p) > 0 {
		if n := c.blocks; len(n) > 0 {
			last := n[len(n)-1]
			if last.owned() && len(last.data) < cap(last.data) {
				room := cap(last.data) - len(last.data)
				k := min(room, len(p))
				last.data = append(last.data, p[:k]...)
				c.size += k
				p = p[k:]
				continue
			}
		}
		capacity := max(minBlockSize, len(p))
		nb := newBlock(capacity)
		k := min(cap(nb.data), len(p))
		nb.data = append(nb.data, p[:k]...)
		c.blocks = append(c.blocks, nb)
		c.size += k
		p = p[k:]
	}
}

// Prepend copies p onto the front of the Chain as one new block.
// Unlike Append, Prepend never reuses spare capacity (blocks never have
// spare room at the front), matching the rope's asymmetric growth.
func (c *Chain) Prepend(p []byte) {
	if len(p) == 0 {
		return
	}
	nb := newBlock(len(p))
	nb.data = append(nb.data, p...)
	c.blocks = append([]*block{nb}, c.blocks...)
	c.size += len(p)
}

// AppendChain splices src onto the end of c without copying bytes: every
// block of src is shared (refcount bumped) rather than duplicated. src
// remains valid and independently usable afterward.
func (c *Chain) AppendChain(src *Chain) {
	for _, b := range src.blocks {
		b.acquire()
	}
	c.blocks = append(c.blocks, src.blocks...)
	c.size += src.size
}

// Blocks returns read-only views of the Chain's underlying segments, in
// order. Callers must not mutate the returned slices.
func (c *Chain) Blocks() [][]byte {
	out := make([][]byte, len(c.blocks))
	for i, b := range c.blocks {
		out[i] = b.data
	}
	return out
}

// Bytes copies the Chain out to a single contiguous buffer.
func (c *Chain) Bytes() []byte {
	out := make([]byte, 0, c.size)
	for _, b := range c.blocks {
		out = append(out, b.data...)
	}
	return out
}

// Clear empties the Chain, releasing its references to any shared blocks.
func (c *Chain) Clear() {
	for _, b := range c.blocks {
		b.release()
	}
	c.blocks = nil
	c.size = 0
}

// Split divides the Chain at offset into two Chains sharing the original
// blocks: whole blocks on either side are shared without copying, while
// the bytes of a block straddling offset are copied into new blocks for
// each half, so neither half can be mutated through the other.
func (c *Chain) Split(offset int) (*Chain, *Chain) {
	if offset < 0 || offset > c.size {
		panic("chain: split offset out of range")
	}
	left, right := New(), New()
	pos := 0
	for _, b := range c.blocks {
		switch {
		case pos+len(b.data) <= offset:
			b.acquire()
			left.blocks = append(left.blocks, b)
			left.size += len(b.data)
		case pos >= offset:
			b.acquire()
			right.blocks = append(right.blocks, b)
			right.size += len(b.data)
		default:
			cut := offset - pos
			left.Append(b.data[:cut])
			right.Append(b.data[cut:])
		}
		pos += len(b.data)
	}
	return left, right
}
