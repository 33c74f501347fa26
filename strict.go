package merger

import (
	"context"

	"github.com/creastat/merger/core"
)

// StrictMerger merges blocks by strict turn-taking: a producer submitting a
// block is suspended until its slot holds the turn, so at most M-1 blocks are
// ever waiting to be merged.
type StrictMerger[B any] struct {
	*scheduler[B]
}

// NewStrictMerger creates a strict turn-taking merger
func NewStrictMerger[B any](config core.MergerConfig, opts Options[B]) (*StrictMerger[B], error) {
	config.Variant = core.VariantStrict
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	sched, err := newScheduler(config, opts, "strict-merger")
	if err != nil {
		return nil, err
	}
	return &StrictMerger[B]{scheduler: sched}, nil
}

// Submit blocks until src has the turn, then appends blk to the output.
// When final is set, the source's slot is handed to the next pending source.
func (m *StrictMerger[B]) Submit(ctx context.Context, src core.SourceID, blk B, final bool) error {
	return m.add(ctx, src, entry[B]{blk: blk, hasBlock: true, final: final})
}

// Finish ends src without a block. The marker still takes a turn.
func (m *StrictMerger[B]) Finish(ctx context.Context, src core.SourceID) error {
	return m.add(ctx, src, entry[B]{final: true})
}

func (m *StrictMerger[B]) add(ctx context.Context, src core.SourceID, e entry[B]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := m.claim(ctx, src, e.final)
	if err != nil {
		return err
	}
	defer m.release(info)

	ix := info.slot
	m.stats.Submitted++
	m.held[ix]++
	m.observeInFlight()

	err = m.wait(ctx, m.slotCond[ix], waitTurn, func() bool { return m.turn == ix })
	m.held[ix]--
	if err != nil {
		return err
	}

	m.merge(ix, e)
	m.observeInFlight()
	return nil
}

var _ core.Merger[int] = (*StrictMerger[int])(nil)
