package sources

import (
	"fmt"
	"strings"

	"github.com/creastat/merger/core"
)

// Block is the handle emitted by the test sources.
// Index is zero based; String renders it one based, e.g. "C4".
type Block struct {
	Source core.SourceID
	Index  int
}

func (b Block) String() string {
	return fmt.Sprintf("%s%d", b.Source, b.Index+1)
}

// Key returns the block identity used for output digests
func Key(b Block) string {
	return b.String()
}

// Name returns a spreadsheet-style source name: A..Z, AA..AZ, BA..
func Name(i int) core.SourceID {
	var b strings.Builder
	for n := i + 1; n > 0; n = (n - 1) / 26 {
		b.WriteByte(byte('A' + (n-1)%26))
	}
	r := []byte(b.String())
	for l, h := 0, len(r)-1; l < h; l, h = l+1, h-1 {
		r[l], r[h] = r[h], r[l]
	}
	return core.SourceID(r)
}

// Join renders blocks as a comma separated list
func Join(blocks []Block) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = b.String()
	}
	return strings.Join(parts, ",")
}
