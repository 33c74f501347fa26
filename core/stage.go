package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Source produces an ordered, finite sequence of blocks
type Source[B any] interface {
	ID() SourceID

	// Next returns the next block and whether it is the last one.
	// It must not be called again after it reported the last block.
	Next(ctx context.Context) (B, bool, error)
}

// Merger turns concurrent per-source submissions into one deterministic sequence
type Merger[B any] interface {
	// Submit hands over the next block of a source, blocking while ordering requires it.
	Submit(ctx context.Context, src SourceID, blk B, final bool) error

	// Finish marks a source as exhausted without contributing a block.
	Finish(ctx context.Context, src SourceID) error

	// Output returns a snapshot of the merged blocks so far.
	Output() []B

	// Done is closed once every slot is permanently empty.
	Done() <-chan struct{}

	// Wait blocks until the merger completes, is aborted, or ctx ends.
	Wait(ctx context.Context) error

	// Abort wakes every blocked producer with an error wrapping cause.
	Abort(cause error)

	// Activated returns the n-th source (zero based) to take a slot, waiting
	// until it does. ok is false when no n-th activation will ever happen.
	Activated(ctx context.Context, n int) (src SourceID, ok bool, err error)

	// Release hands merged size back to the queued size budget once the
	// consumer is done with the blocks.
	Release(amount int) error

	Stats() Stats
}

// Stats summarizes one merge run
type Stats struct {
	RunID       uuid.UUID
	Variant     Variant
	Slots       int
	Sources     int
	Submitted   int
	Merged      int
	Refills     int
	Waits       int
	WaitTime    time.Duration
	InFlight    int
	MaxInFlight int
	Queued      int
	Unreleased  int
	Complete    bool
}
