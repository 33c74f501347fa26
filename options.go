package merger

import (
	"github.com/creastat/infra/telemetry"
	"github.com/creastat/merger/core"
)

// Options carries the optional collaborators of a merger
type Options[B any] struct {
	Logger telemetry.Logger

	// Metrics is optional; nil disables instrumentation
	Metrics *Metrics

	// OnMerged is called for every merged block, in output order, while the
	// merger holds its lock. It must not call back into the merger.
	OnMerged func(B)

	// Observer receives the merge trace; nil disables tracing
	Observer core.Observer

	// NewActivator builds the activation policy; nil means FIFO
	NewActivator func(sources []core.SourceID) Activator

	// Policy sizes blocks for MaxQueuedSize; nil counts every block as 1
	Policy BlockPolicy[B]
}

// BlockPolicy sizes blocks against the queued size budget
type BlockPolicy[B any] interface {
	BlockSize(blk B) int

	// WorstCaseBlockSize bounds every block src may still submit
	WorstCaseBlockSize(src core.SourceID) int
}

type unitPolicy[B any] struct{}

func (unitPolicy[B]) BlockSize(B) int                      { return 1 }
func (unitPolicy[B]) WorstCaseBlockSize(core.SourceID) int { return 1 }

// DefaultOptions returns options with an info-level logger, FIFO activation
// and unit block sizes
func DefaultOptions[B any]() Options[B] {
	return Options[B]{
		Logger:       telemetry.New(telemetry.Config{Level: "info"}),
		NewActivator: NewFIFOActivator,
		Policy:       unitPolicy[B]{},
	}
}

// New creates the merger selected by config.Variant
func New[B any](config core.MergerConfig, opts Options[B]) (core.Merger[B], error) {
	switch config.Variant {
	case core.VariantQueued:
		m, err := NewQueuedMerger(config, opts)
		if err != nil {
			return nil, err
		}
		return m, nil
	case core.VariantStrict, "":
		m, err := NewStrictMerger(config, opts)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, ValidationError{
			Message: "merger validation failed",
			Details: "unknown variant " + string(config.Variant),
		}
	}
}
