package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creastat/merger/core"
)

// ErrExhausted is returned by Next after the last block was produced
var ErrExhausted = errors.New("source exhausted")

// MockConfig describes a simulated source
type MockConfig struct {
	ID core.SourceID

	// Delays holds the time spent producing each block; its length is the block count
	Delays []time.Duration
}

// Mock is a source with a predetermined block count and per-block production delay.
// It is consumed by one producer at a time.
type Mock struct {
	config MockConfig
	next   int
}

// NewMock creates a simulated source
func NewMock(config MockConfig) *Mock {
	return &Mock{config: config}
}

// NewFixed creates a source with count blocks and no production delay
func NewFixed(id core.SourceID, count int) *Mock {
	return NewMock(MockConfig{
		ID:     id,
		Delays: make([]time.Duration, count),
	})
}

// ID returns the source identity
func (s *Mock) ID() core.SourceID {
	return s.config.ID
}

// Count returns the total number of blocks
func (s *Mock) Count() int {
	return len(s.config.Delays)
}

// TotalDelay returns the time this source spends producing all of its blocks
func (s *Mock) TotalDelay() time.Duration {
	var total time.Duration
	for _, d := range s.config.Delays {
		total += d
	}
	return total
}

// Next sleeps for the block's production delay and returns it
func (s *Mock) Next(ctx context.Context) (Block, bool, error) {
	if s.next >= len(s.config.Delays) {
		return Block{}, false, fmt.Errorf("%w: %s produced %d blocks", ErrExhausted, s.config.ID, s.next)
	}

	idx := s.next
	if d := s.config.Delays[idx]; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Block{}, false, ctx.Err()
		case <-timer.C:
		}
	}

	s.next++
	return Block{Source: s.config.ID, Index: idx}, s.next == len(s.config.Delays), nil
}

var _ core.Source[Block] = (*Mock)(nil)
