package merger

import (
	"context"

	"github.com/creastat/merger/core"
)

// QueuedMerger decouples submission order from merge order. Each slot owns a
// bounded FIFO buffer of capacity Q; producers only block when their own buffer
// is full, and every submission drains whatever the turn pointer allows.
//
// With MaxQueuedSize set, buffered blocks and merged blocks not yet released
// share one size budget. The slot holding the turn may use all of what is
// left; other slots must leave room for a worst case block so the turn can
// always make progress.
type QueuedMerger[B any] struct {
	*scheduler[B]
	buffers []*fifo[entry[B]]
}

// NewQueuedMerger creates a bounded-queue pipelined merger
func NewQueuedMerger[B any](config core.MergerConfig, opts Options[B]) (*QueuedMerger[B], error) {
	config.Variant = core.VariantQueued
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	buffers := make([]*fifo[entry[B]], config.Slots)
	for ix := range buffers {
		buffers[ix] = newFIFO[entry[B]](config.QueueCapacity)
	}

	sched, err := newScheduler(config, opts, "queued-merger")
	if err != nil {
		return nil, err
	}
	return &QueuedMerger[B]{
		scheduler: sched,
		buffers:   buffers,
	}, nil
}

// Submit enqueues blk into the buffer of src's slot, blocking while that buffer is full
func (m *QueuedMerger[B]) Submit(ctx context.Context, src core.SourceID, blk B, final bool) error {
	return m.add(ctx, src, entry[B]{blk: blk, hasBlock: true, final: final})
}

// Finish enqueues a terminal marker for src
func (m *QueuedMerger[B]) Finish(ctx context.Context, src core.SourceID) error {
	return m.add(ctx, src, entry[B]{final: true})
}

func (m *QueuedMerger[B]) add(ctx context.Context, src core.SourceID, e entry[B]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := m.claim(ctx, src, e.final)
	if err != nil {
		return err
	}
	defer m.release(info)

	ix := info.slot
	buf := m.buffers[ix]
	if e.hasBlock && m.budget > 0 {
		e.size = m.policy.BlockSize(e.blk)
	}

	reason := waitBuffer
	if !buf.Full() {
		reason = waitBudget
	}
	if err := m.wait(ctx, m.slotCond[ix], reason, func() bool { return m.admits(ix, buf, e) }); err != nil {
		return err
	}

	buf.Push(e)
	m.queuedSize += e.size
	m.stats.Submitted++
	m.held[ix]++
	if e.final {
		info.state = stateTerminal
	}
	m.observeInFlight()

	m.tryMerge()
	return nil
}

// admits reports whether e fits into slot ix's buffer and the size budget.
// Terminal markers carry no size.
func (m *QueuedMerger[B]) admits(ix int, buf *fifo[entry[B]], e entry[B]) bool {
	if buf.Full() {
		return false
	}
	if !e.hasBlock || m.budget == 0 {
		return true
	}
	if m.turn == ix {
		return e.size <= m.queueable()
	}
	return e.size+m.maxWorstCase() <= m.queueable()
}

// tryMerge drains the buffer of the slot holding the turn until it is empty
// or the run is complete
func (m *QueuedMerger[B]) tryMerge() {
	for !m.complete && m.abortErr == nil {
		ix := m.turn
		e, ok := m.buffers[ix].Pop()
		if !ok {
			return
		}
		m.held[ix]--
		m.queuedSize -= e.size
		m.slotCond[ix].Broadcast()

		m.merge(ix, e)
		m.observeInFlight()
	}
}

var _ core.Merger[int] = (*QueuedMerger[int])(nil)
