package merger

import (
	"github.com/cespare/xxhash/v2"
)

// Collector is the append-only merged output.
// It is not safe for concurrent use; mergers guard it with their own lock.
type Collector[B any] struct {
	blocks []B
}

// NewCollector creates an empty collector with room for sizeHint blocks
func NewCollector[B any](sizeHint int) *Collector[B] {
	return &Collector[B]{blocks: make([]B, 0, sizeHint)}
}

// Append adds a block at the end of the output
func (c *Collector[B]) Append(blk B) {
	c.blocks = append(c.blocks, blk)
}

// Len returns the number of merged blocks
func (c *Collector[B]) Len() int {
	return len(c.blocks)
}

// Blocks returns a copy of the merged blocks
func (c *Collector[B]) Blocks() []B {
	out := make([]B, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// Digest fingerprints an ordered block sequence.
// key must render each block to a stable identity; equal sequences yield equal digests.
func Digest[B any](blocks []B, key func(B) string) uint64 {
	h := xxhash.New()
	for _, blk := range blocks {
		_, _ = h.WriteString(key(blk))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
