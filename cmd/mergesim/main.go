// Command mergesim runs randomized workloads through a block merger several
// times and checks that every repetition produces the reference order.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/creastat/infra/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/creastat/merger"
	"github.com/creastat/merger/core"
	"github.com/creastat/merger/sources"
)

type options struct {
	variant   string
	sources   int
	maxBlocks int
	slots     int
	workers   int
	queue     int
	budget    int
	runs      int
	reps      int
	meanDelay time.Duration
	logLevel  string
}

func main() {
	opts := options{}
	pflag.StringVar(&opts.variant, "variant", string(core.VariantStrict), "Merge algorithm: strict or queued.")
	pflag.IntVar(&opts.sources, "sources", 20, "Number of sources per run.")
	pflag.IntVar(&opts.maxBlocks, "max-blocks", 30, "Maximum number of blocks per source.")
	pflag.IntVar(&opts.slots, "slots", 4, "Number of concurrently active sources.")
	pflag.IntVar(&opts.workers, "workers", 0, "Number of producer workers; 0 means one per slot.")
	pflag.IntVar(&opts.queue, "queue", 2, "Per-slot buffer capacity for the queued variant.")
	pflag.IntVar(&opts.budget, "budget", 0, "Queued size budget shared by all slots, in blocks; 0 disables it.")
	pflag.IntVar(&opts.runs, "runs", 10, "Number of distinct workloads.")
	pflag.IntVar(&opts.reps, "reps", 4, "Repetitions per workload compared against the first.")
	pflag.DurationVar(&opts.meanDelay, "mean-delay", 200*time.Microsecond, "Mean per-block production delay.")
	pflag.StringVar(&opts.logLevel, "log-level", "info", "Log level.")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	logger := telemetry.New(telemetry.Config{Level: opts.logLevel})
	log := logger.WithModule("mergesim")

	metrics, err := merger.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	var mismatches int
	for runIdx := 0; runIdx < opts.runs; runIdx++ {
		var ref uint64
		for rep := 0; rep <= opts.reps; rep++ {
			res, err := simulate(ctx, opts, uint64(runIdx), uint64(time.Now().UnixNano()), logger, metrics)
			if err != nil {
				return fmt.Errorf("run %d/%d: %w", runIdx, rep, err)
			}

			log.Info("run finished",
				telemetry.Int("run", runIdx),
				telemetry.Int("rep", rep),
				telemetry.String("digest", fmt.Sprintf("%016x", res.digest)),
				telemetry.Int("blocks", res.blocks),
				telemetry.Int("max_in_flight", res.stats.MaxInFlight),
				telemetry.Float64("efficiency", res.efficiency),
			)

			if res.digest != res.expected {
				mismatches++
				log.Error("merged order differs from the round-robin schedule",
					telemetry.Int("run", runIdx),
					telemetry.Int("rep", rep),
				)
			}
			if rep == 0 {
				ref = res.digest
				continue
			}
			if res.digest != ref {
				mismatches++
				log.Error("merged order diverged from reference",
					telemetry.Int("run", runIdx),
					telemetry.Int("rep", rep),
				)
			}
		}
	}

	if mismatches > 0 {
		return fmt.Errorf("%d repetitions diverged", mismatches)
	}
	return nil
}

type result struct {
	digest     uint64
	expected   uint64
	blocks     int
	efficiency float64
	stats      core.Stats
}

func simulate(ctx context.Context, opts options, seed, jitterSeed uint64, logger telemetry.Logger, metrics *merger.Metrics) (result, error) {
	workload := sources.NewWorkload(sources.WorkloadConfig{
		Sources:    opts.sources,
		MaxBlocks:  opts.maxBlocks,
		Seed:       seed,
		JitterSeed: jitterSeed,
		MeanDelay:  opts.meanDelay,
	})

	b := merger.NewBuilder[sources.Block]().
		WithSlots(opts.slots).
		AddSources(workload.IDs()...).
		WithVariant(core.Variant(opts.variant)).
		WithLogger(logger).
		WithMetrics(metrics)
	if core.Variant(opts.variant) == core.VariantQueued {
		b.WithQueueCapacity(opts.queue)
	}

	// the downstream consumer hands merged blocks back to the budget
	var released chan sources.Block
	if opts.budget > 0 {
		released = make(chan sources.Block, workload.TotalBlocks())
		b.WithQueueCapacity(opts.queue).WithQueueBudget(opts.budget).OnMerged(func(blk sources.Block) { released <- blk })
	}

	m, err := b.Build()
	if err != nil {
		return result{}, err
	}

	if released != nil {
		releaseCtx, stopRelease := context.WithCancel(ctx)
		defer stopRelease()
		go func() {
			for {
				select {
				case <-releaseCtx.Done():
					return
				case <-released:
					_ = m.Release(1)
				}
			}
		}()
	}

	workers := opts.workers
	if workers <= 0 {
		workers = opts.slots
	}

	start := time.Now()
	runner := merger.NewRunner(m, core.RunnerConfig{Workers: workers}, logger)
	if err := runner.Run(ctx, workload.Sources()); err != nil {
		return result{}, err
	}
	elapsed := time.Since(start) * time.Duration(workers)

	out := m.Output()
	res := result{
		digest:   merger.Digest(out, sources.Key),
		expected: merger.Digest(workload.Expected(opts.slots), sources.Key),
		blocks:   len(out),
		stats:    m.Stats(),
	}
	if elapsed > 0 {
		res.efficiency = 100 * workload.TotalDelay().Seconds() / elapsed.Seconds()
	}
	return res, nil
}
