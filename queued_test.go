package merger

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/merger/core"
	"github.com/creastat/merger/sources"
)

// TestQueuedGoldenScenario tests the reference schedule through bounded buffers
func TestQueuedGoldenScenario(t *testing.T) {
	for _, q := range []int{1, 2, 8} {
		w := sources.NewJitteredWorkload(11, 200*time.Microsecond, goldenCounts...)
		m := newTestMerger(t, core.VariantQueued, 4, q, w.IDs(), testOptions())

		if err := runWorkload(t, m, w, 0); err != nil {
			t.Fatalf("q=%d: run failed: %v", q, err)
		}
		if diff := cmp.Diff(goldenOrder, sources.Join(m.Output())); diff != "" {
			t.Errorf("q=%d: merged order mismatch (-want +got):\n%s", q, diff)
		}
	}
}

// TestQueuedSubmitsAheadOfTurn tests that a producer with buffer space never waits for its turn
func TestQueuedSubmitsAheadOfTurn(t *testing.T) {
	m := newTestMerger(t, core.VariantQueued, 2, 3, []core.SourceID{"A", "B"}, testOptions())
	ctx, cancel := context.WithTimeout(context.Background(), watchdog)
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Submit(ctx, "B", sources.Block{Source: "B", Index: i}, i == 2))
	}
	assert.Empty(t, m.Output())
	assert.Equal(t, 3, m.Stats().InFlight)
	assert.Equal(t, 0, m.Stats().Waits)

	require.NoError(t, m.Submit(ctx, "A", sources.Block{Source: "A"}, false))
	require.NoError(t, m.Submit(ctx, "A", sources.Block{Source: "A", Index: 1}, true))
	require.NoError(t, m.Wait(ctx))

	assert.Equal(t, "A1,B1,A2,B2,B3", sources.Join(m.Output()))
	assert.Equal(t, 0, m.Stats().InFlight)
}

// TestQueuedBlocksOnFullBuffer tests that a full buffer suspends its producer until drained
func TestQueuedBlocksOnFullBuffer(t *testing.T) {
	m := newTestMerger(t, core.VariantQueued, 2, 1, []core.SourceID{"A", "B"}, testOptions())
	ctx, cancel := context.WithTimeout(context.Background(), watchdog)
	defer cancel()

	require.NoError(t, m.Submit(ctx, "B", sources.Block{Source: "B"}, false))

	done := make(chan error, 1)
	go func() {
		done <- m.Submit(ctx, "B", sources.Block{Source: "B", Index: 1}, true)
	}()
	require.Eventually(t, func() bool { return m.Stats().Waits == 1 }, time.Second, time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("B2 should wait for buffer space, returned %v", err)
	default:
	}

	require.NoError(t, m.Submit(ctx, "A", sources.Block{Source: "A"}, false))
	require.NoError(t, <-done)
	require.NoError(t, m.Submit(ctx, "A", sources.Block{Source: "A", Index: 1}, true))
	require.NoError(t, m.Wait(ctx))

	assert.Equal(t, "A1,B1,A2,B2", sources.Join(m.Output()))
	assert.LessOrEqual(t, m.Stats().MaxInFlight, 1)
}

// TestQueuedDuplicateTerminal tests that a queued terminal block closes the source
func TestQueuedDuplicateTerminal(t *testing.T) {
	m := newTestMerger(t, core.VariantQueued, 2, 2, []core.SourceID{"A", "B"}, testOptions())
	ctx := context.Background()

	require.NoError(t, m.Submit(ctx, "B", sources.Block{Source: "B"}, true))

	err := m.Submit(ctx, "B", sources.Block{Source: "B", Index: 1}, true)
	assert.True(t, core.IsProtocolViolation(err, core.ReasonDuplicateTerminal), "got %v", err)
}

// TestQueuedSubmitAfterQueuedTerminal tests that a source cannot continue past a buffered terminal block
func TestQueuedSubmitAfterQueuedTerminal(t *testing.T) {
	m := newTestMerger(t, core.VariantQueued, 2, 2, []core.SourceID{"A", "B"}, testOptions())
	ctx := context.Background()

	require.NoError(t, m.Finish(ctx, "B"))

	err := m.Submit(ctx, "B", sources.Block{Source: "B"}, false)
	assert.True(t, core.IsProtocolViolation(err, core.ReasonSourceRetired), "got %v", err)
}

// TestQueuedFinishTakesTurn tests that a buffered Finish marker still consumes a turn
func TestQueuedFinishTakesTurn(t *testing.T) {
	m := newTestMerger(t, core.VariantQueued, 2, 2, []core.SourceID{"A", "B", "C"}, testOptions())
	ctx, cancel := context.WithTimeout(context.Background(), watchdog)
	defer cancel()

	require.NoError(t, m.Submit(ctx, "B", sources.Block{Source: "B"}, false))
	require.NoError(t, m.Submit(ctx, "B", sources.Block{Source: "B", Index: 1}, true))
	require.NoError(t, m.Submit(ctx, "A", sources.Block{Source: "A"}, false))
	require.NoError(t, m.Finish(ctx, "A"))
	require.NoError(t, m.Submit(ctx, "C", sources.Block{Source: "C"}, true))
	require.NoError(t, m.Wait(ctx))

	assert.Equal(t, "A1,B1,B2,C1", sources.Join(m.Output()))
}

// TestQueuedAbortWakesFullBuffer tests that Abort releases a producer blocked on a full buffer
func TestQueuedAbortWakesFullBuffer(t *testing.T) {
	m := newTestMerger(t, core.VariantQueued, 2, 1, []core.SourceID{"A", "B"}, testOptions())
	ctx, cancel := context.WithTimeout(context.Background(), watchdog)
	defer cancel()

	require.NoError(t, m.Submit(ctx, "B", sources.Block{Source: "B"}, false))

	done := make(chan error, 1)
	go func() {
		done <- m.Submit(ctx, "B", sources.Block{Source: "B", Index: 1}, true)
	}()
	require.Eventually(t, func() bool { return m.Stats().Waits == 1 }, time.Second, time.Millisecond)

	m.Abort(context.DeadlineExceeded)
	err := <-done
	assert.ErrorIs(t, err, core.ErrAborted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// nothing merges after an abort
	err = m.Submit(ctx, "A", sources.Block{Source: "A"}, false)
	assert.ErrorIs(t, err, core.ErrAborted)
	assert.Empty(t, m.Output())
}

// TestQueuedInFlightBound tests that buffered blocks never exceed (M-1)*Q
func TestQueuedInFlightBound(t *testing.T) {
	for _, tc := range []struct{ slots, q int }{{1, 1}, {2, 1}, {3, 4}, {6, 2}} {
		w := sources.NewWorkload(sources.WorkloadConfig{
			Sources:    20,
			MaxBlocks:  15,
			Seed:       uint64(tc.slots*10 + tc.q),
			JitterSeed: 5,
			MeanDelay:  50 * time.Microsecond,
		})
		m := newTestMerger(t, core.VariantQueued, tc.slots, tc.q, w.IDs(), testOptions())
		require.NoError(t, runWorkload(t, m, w, 0))

		st := m.Stats()
		assert.LessOrEqual(t, st.MaxInFlight, (tc.slots-1)*tc.q, "slots=%d q=%d", tc.slots, tc.q)
		assert.Equal(t, w.TotalBlocks(), st.Merged)
		assert.Equal(t, w.TotalBlocks(), st.Submitted)
	}
}

// TestQueuedMatchesStrict tests that both variants produce the same order for the same workload
func TestQueuedMatchesStrict(t *testing.T) {
	cfg := sources.WorkloadConfig{
		Sources:    30,
		MaxBlocks:  20,
		Seed:       42,
		JitterSeed: 1,
		MeanDelay:  50 * time.Microsecond,
	}

	strictW := sources.NewWorkload(cfg)
	strict := newTestMerger(t, core.VariantStrict, 5, 0, strictW.IDs(), testOptions())
	require.NoError(t, runWorkload(t, strict, strictW, 0))

	cfg.JitterSeed = 2
	queuedW := sources.NewWorkload(cfg)
	queued := newTestMerger(t, core.VariantQueued, 5, 3, queuedW.IDs(), testOptions())
	require.NoError(t, runWorkload(t, queued, queuedW, 0))

	if diff := cmp.Diff(strict.Output(), queued.Output()); diff != "" {
		t.Errorf("variants disagree (-strict +queued):\n%s", diff)
	}
	assert.Equal(t, strictW.Expected(5), strict.Output())
}

func newBudgetMerger(t *testing.T, slots, budget int, ids []core.SourceID) core.Merger[sources.Block] {
	t.Helper()
	m, err := New(core.MergerConfig{
		Slots:         slots,
		Sources:       ids,
		QueueCapacity: 8,
		MaxQueuedSize: budget,
		Variant:       core.VariantQueued,
	}, testOptions())
	require.NoError(t, err)
	return m
}

// TestQueuedBudgetWaitsForRelease tests that unreleased merged blocks hold back the turn slot
func TestQueuedBudgetWaitsForRelease(t *testing.T) {
	m := newBudgetMerger(t, 2, 2, []core.SourceID{"A", "B"})
	ctx, cancel := context.WithTimeout(context.Background(), watchdog)
	defer cancel()

	require.NoError(t, m.Submit(ctx, "A", sources.Block{Source: "A"}, false))
	require.NoError(t, m.Submit(ctx, "B", sources.Block{Source: "B"}, false))
	assert.Equal(t, 2, m.Stats().Unreleased)

	done := make(chan error, 1)
	go func() {
		done <- m.Submit(ctx, "A", sources.Block{Source: "A", Index: 1}, true)
	}()
	require.Eventually(t, func() bool { return m.Stats().Waits == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "A1,B1", sources.Join(m.Output()))

	require.NoError(t, m.Release(1))
	require.NoError(t, <-done)
	assert.Equal(t, "A1,B1,A2", sources.Join(m.Output()))

	require.NoError(t, m.Release(2))
	require.NoError(t, m.Submit(ctx, "B", sources.Block{Source: "B", Index: 1}, true))
	require.NoError(t, m.Wait(ctx))
	assert.Equal(t, "A1,B1,A2,B2", sources.Join(m.Output()))

	err := m.Release(5)
	assert.ErrorIs(t, err, core.ErrOverRelease)
	assert.Equal(t, 1, m.Stats().Unreleased)
}

// TestQueuedBudgetReservesWorstCase tests that slots off the turn leave room for a worst case block
func TestQueuedBudgetReservesWorstCase(t *testing.T) {
	m := newBudgetMerger(t, 2, 3, []core.SourceID{"A", "B"})
	ctx, cancel := context.WithTimeout(context.Background(), watchdog)
	defer cancel()

	require.NoError(t, m.Submit(ctx, "B", sources.Block{Source: "B"}, false))
	require.NoError(t, m.Submit(ctx, "B", sources.Block{Source: "B", Index: 1}, false))
	assert.Equal(t, 2, m.Stats().Queued)

	done := make(chan error, 1)
	go func() {
		done <- m.Submit(ctx, "B", sources.Block{Source: "B", Index: 2}, true)
	}()
	require.Eventually(t, func() bool { return m.Stats().Waits == 1 }, time.Second, time.Millisecond)

	// the turn slot may still use the last unit
	require.NoError(t, m.Submit(ctx, "A", sources.Block{Source: "A"}, false))
	assert.Equal(t, "A1,B1", sources.Join(m.Output()))

	select {
	case err := <-done:
		t.Fatalf("B3 should wait for released budget, returned %v", err)
	default:
	}

	require.NoError(t, m.Release(2))
	require.NoError(t, <-done)
	require.NoError(t, m.Submit(ctx, "A", sources.Block{Source: "A", Index: 1}, true))
	require.NoError(t, m.Wait(ctx))
	assert.Equal(t, "A1,B1,A2,B2,B3", sources.Join(m.Output()))
}

// TestQueuedBudgetGoldenScenario tests that a budget released downstream keeps the reference order
func TestQueuedBudgetGoldenScenario(t *testing.T) {
	w := sources.NewJitteredWorkload(13, 100*time.Microsecond, goldenCounts...)

	merged := make(chan sources.Block, w.TotalBlocks())
	opts := testOptions()
	opts.OnMerged = func(b sources.Block) { merged <- b }

	m, err := New(core.MergerConfig{
		Slots:         4,
		Sources:       w.IDs(),
		QueueCapacity: 2,
		MaxQueuedSize: 4,
		Variant:       core.VariantQueued,
	}, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), watchdog)
	defer cancel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-merged:
				time.Sleep(50 * time.Microsecond)
				_ = m.Release(1)
			}
		}
	}()

	require.NoError(t, runWorkload(t, m, w, 0))
	assert.Equal(t, goldenOrder, sources.Join(m.Output()))
	assert.LessOrEqual(t, m.Stats().Queued+m.Stats().Unreleased, 4)
}
