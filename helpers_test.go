package merger

import (
	"context"
	"testing"
	"time"

	"github.com/creastat/infra/telemetry"

	"github.com/creastat/merger/core"
	"github.com/creastat/merger/sources"
)

// golden scenario: A=2, B=3, C=9, D=2, E=5, F=3, G=3, H=6, I=1, J=7 with four slots
var goldenCounts = []int{2, 3, 9, 2, 5, 3, 3, 6, 1, 7}

const goldenOrder = "A1,B1,C1,D1,A2,B2,C2,D2,E1,B3,C3,F1,E2,G1,C4,F2,E3,G2,C5,F3," +
	"E4,G3,C6,H1,E5,I1,C7,H2,J1,C8,H3,J2,C9,H4,J3,H5,J4,H6,J5,J6,J7"

// watchdog bounds every concurrent test so a broken turn pointer fails instead of hanging
const watchdog = 10 * time.Second

func testLogger() telemetry.Logger {
	return telemetry.New(telemetry.Config{Level: "error"})
}

func testOptions() Options[sources.Block] {
	opts := DefaultOptions[sources.Block]()
	opts.Logger = testLogger()
	return opts
}

func newTestMerger(t testing.TB, variant core.Variant, slots, queue int, ids []core.SourceID, opts Options[sources.Block]) core.Merger[sources.Block] {
	t.Helper()
	m, err := New(core.MergerConfig{
		Slots:         slots,
		Sources:       ids,
		QueueCapacity: queue,
		Variant:       variant,
	}, opts)
	if err != nil {
		t.Fatalf("failed to create merger: %v", err)
	}
	return m
}

// runWorkload drives m with one producer per slot (or workers, if positive)
func runWorkload(t testing.TB, m core.Merger[sources.Block], w sources.Workload, workers int) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), watchdog)
	defer cancel()
	return NewRunner(m, core.RunnerConfig{Workers: workers}, testLogger()).Run(ctx, w.Sources())
}

// submitInOrder feeds blocks from a single goroutine, following the expected
// schedule so that no submission ever has to wait
func submitInOrder(t testing.TB, m core.Merger[sources.Block], blocks []sources.Block, counts map[core.SourceID]int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), watchdog)
	defer cancel()
	for _, b := range blocks {
		if err := m.Submit(ctx, b.Source, b, b.Index+1 == counts[b.Source]); err != nil {
			t.Fatalf("submit %s failed: %v", b, err)
		}
	}
}

func countsOf(w sources.Workload) map[core.SourceID]int {
	counts := make(map[core.SourceID]int, len(w))
	for _, s := range w {
		counts[s.ID()] = s.Count()
	}
	return counts
}
