package sources

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/creastat/merger/core"
)

// WorkloadConfig describes a randomized set of sources
type WorkloadConfig struct {
	// Sources is the number of sources to generate
	Sources int

	// MaxBlocks bounds the per-source block count (at least one block each)
	MaxBlocks int

	// Seed determines the block counts
	Seed uint64

	// JitterSeed determines the production delays
	JitterSeed uint64

	// MeanDelay is the mean of the exponential per-block production delay.
	// Each source gets its own speed factor between 0.1x and 10x.
	MeanDelay time.Duration
}

// Workload is an ordered set of simulated sources
type Workload []*Mock

// NewWorkload generates sources in activation order. Block counts depend only
// on Seed, so two workloads with equal Seed merge to the same output no matter
// how their delays differ.
func NewWorkload(config WorkloadConfig) Workload {
	maxBlocks := max(config.MaxBlocks, 1)
	counts := rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15))
	jitter := rand.New(rand.NewPCG(config.JitterSeed, config.JitterSeed^0xbf58476d1ce4e5b9))

	w := make(Workload, 0, config.Sources)
	for i := 0; i < config.Sources; i++ {
		n := counts.IntN(maxBlocks) + 1
		// log-uniform speed factor in [0.1, 10]
		speed := math.Pow(10, jitter.Float64()*2-1)
		delays := make([]time.Duration, n)
		for j := range delays {
			delays[j] = time.Duration(jitter.ExpFloat64() * float64(config.MeanDelay) / speed)
		}
		w = append(w, NewMock(MockConfig{ID: Name(i), Delays: delays}))
	}
	return w
}

// NewFixedWorkload creates delay-free sources named A, B, C.. with the given counts
func NewFixedWorkload(counts ...int) Workload {
	w := make(Workload, len(counts))
	for i, n := range counts {
		w[i] = NewFixed(Name(i), n)
	}
	return w
}

// NewJitteredWorkload creates sources named A, B, C.. with the given counts and
// exponentially distributed production delays drawn from seed
func NewJitteredWorkload(seed uint64, meanDelay time.Duration, counts ...int) Workload {
	jitter := rand.New(rand.NewPCG(seed, seed^0xbf58476d1ce4e5b9))

	w := make(Workload, len(counts))
	for i, n := range counts {
		delays := make([]time.Duration, n)
		for j := range delays {
			delays[j] = time.Duration(jitter.ExpFloat64() * float64(meanDelay))
		}
		w[i] = NewMock(MockConfig{ID: Name(i), Delays: delays})
	}
	return w
}

// IDs returns the activation order
func (w Workload) IDs() []core.SourceID {
	ids := make([]core.SourceID, len(w))
	for i, s := range w {
		ids[i] = s.ID()
	}
	return ids
}

// Sources returns the workload as generic sources for a runner
func (w Workload) Sources() []core.Source[Block] {
	out := make([]core.Source[Block], len(w))
	for i, s := range w {
		out[i] = s
	}
	return out
}

// TotalBlocks returns the sum of all block counts
func (w Workload) TotalBlocks() int {
	total := 0
	for _, s := range w {
		total += s.Count()
	}
	return total
}

// TotalDelay returns the summed production time of all sources
func (w Workload) TotalDelay() time.Duration {
	var total time.Duration
	for _, s := range w {
		total += s.TotalDelay()
	}
	return total
}

// Expected computes the merged order for the workload by replaying the
// round-robin schedule sequentially with the given number of slots.
func (w Workload) Expected(slots int) []Block {
	type active struct {
		src  *Mock
		next int
	}

	table := make([]*active, slots)
	pending := 0
	for ix := range table {
		if pending < len(w) {
			table[ix] = &active{src: w[pending]}
			pending++
		}
	}

	out := make([]Block, 0, w.TotalBlocks())
	for remaining := len(w); remaining > 0; {
		for ix, a := range table {
			if a == nil {
				continue
			}
			out = append(out, Block{Source: a.src.ID(), Index: a.next})
			a.next++
			if a.next < a.src.Count() {
				continue
			}
			remaining--
			table[ix] = nil
			if pending < len(w) {
				table[ix] = &active{src: w[pending]}
				pending++
			}
		}
	}
	return out
}
