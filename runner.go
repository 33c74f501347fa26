package merger

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/creastat/infra/telemetry"
	"golang.org/x/sync/errgroup"

	"github.com/creastat/merger/core"
)

// Runner drives a merger with a fixed pool of producer workers. Each worker
// repeatedly claims the next source in activation order, pulls its blocks one
// at a time and submits them.
type Runner[B any] struct {
	merger core.Merger[B]
	config core.RunnerConfig
	logger telemetry.Logger
}

// NewRunner creates a runner for merger
func NewRunner[B any](merger core.Merger[B], config core.RunnerConfig, logger telemetry.Logger) *Runner[B] {
	return &Runner[B]{
		merger: merger,
		config: config,
		logger: logger,
	}
}

// Run feeds sources to the merger and waits for completion.
// Workers pick sources in the order the merger activates them, whatever the
// activation policy, so sources may be listed in any order.
func (r *Runner[B]) Run(ctx context.Context, sources []core.Source[B]) error {
	logger := r.logger.WithModule("runner")

	slots := r.merger.Stats().Slots
	workers := r.config.Workers
	if workers <= 0 {
		workers = slots
	}
	if workers < slots && workers < len(sources) {
		// every occupied slot needs a producer or the turn pointer stalls
		logger.Warn("raising worker count to the slot count",
			telemetry.Int("requested", workers),
			telemetry.Int("slots", slots),
		)
		workers = slots
	}

	logger.Info("starting producers",
		telemetry.Int("workers", workers),
		telemetry.Int("sources", len(sources)),
	)

	queue := newSourceQueue(r.merger, sources)
	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			return r.produce(gctx, w, queue)
		})
	}

	if err := g.Wait(); err != nil {
		r.merger.Abort(err)
		logger.Error("producers failed", telemetry.Err(err))
		return err
	}

	select {
	case <-r.merger.Done():
	default:
		st := r.merger.Stats()
		return fmt.Errorf("%w: drained %d sources, merger expects %d, %d blocks merged",
			core.ErrIncomplete, len(sources), st.Sources, st.Merged)
	}

	st := r.merger.Stats()
	logger.Info("producers finished",
		telemetry.Int("blocks", st.Merged),
		telemetry.Int("waits", st.Waits),
		telemetry.Float64("wait_seconds", st.WaitTime.Seconds()),
	)
	return nil
}

// produce is one worker's loop. A panic in a source is converted into an error.
func (r *Runner[B]) produce(ctx context.Context, worker int, queue *sourceQueue[B]) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("worker %d panicked: %v\nStack trace:\n%s", worker, rec, string(buf[:n]))
		}
	}()

	for {
		src, ok, err := queue.pop(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := r.drain(ctx, src); err != nil {
			return fmt.Errorf("source %q: %w", src.ID(), err)
		}
	}
}

// drain submits every block of src in generation order
func (r *Runner[B]) drain(ctx context.Context, src core.Source[B]) error {
	for {
		blk, final, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if err := r.merger.Submit(ctx, src.ID(), blk, final); err != nil {
			return err
		}
		if final {
			return nil
		}
	}
}

// sourceQueue hands out sources to workers in activation order. Each worker
// reserves the next activation index, so no two workers wait for the same source.
type sourceQueue[B any] struct {
	merger core.Merger[B]
	byID   map[core.SourceID]core.Source[B]

	mu   sync.Mutex
	next int
}

func newSourceQueue[B any](merger core.Merger[B], sources []core.Source[B]) *sourceQueue[B] {
	byID := make(map[core.SourceID]core.Source[B], len(sources))
	for _, src := range sources {
		byID[src.ID()] = src
	}
	return &sourceQueue[B]{merger: merger, byID: byID}
}

func (q *sourceQueue[B]) pop(ctx context.Context) (core.Source[B], bool, error) {
	q.mu.Lock()
	n := q.next
	if n >= len(q.byID) {
		q.mu.Unlock()
		return nil, false, nil
	}
	q.next++
	q.mu.Unlock()

	id, ok, err := q.merger.Activated(ctx, n)
	if err != nil || !ok {
		return nil, false, err
	}
	src, found := q.byID[id]
	if !found {
		return nil, false, fmt.Errorf("%w: source %q was activated but has no producer", core.ErrIncomplete, id)
	}
	return src, true, nil
}
