package merger

import (
	"fmt"

	"github.com/creastat/infra/telemetry"
	"github.com/creastat/merger/core"
)

// Builder constructs mergers with a fluent API
type Builder[B any] struct {
	config  core.MergerConfig
	options Options[B]
}

// NewBuilder creates a builder for a strict merger with default options
func NewBuilder[B any]() *Builder[B] {
	return &Builder[B]{
		config: core.MergerConfig{
			Variant: core.VariantStrict,
			Sources: make([]core.SourceID, 0),
		},
		options: DefaultOptions[B](),
	}
}

// WithSlots sets the number of concurrently active sources
func (b *Builder[B]) WithSlots(slots int) *Builder[B] {
	b.config.Slots = slots
	return b
}

// AddSource appends a source to the activation order
func (b *Builder[B]) AddSource(src core.SourceID) *Builder[B] {
	b.config.Sources = append(b.config.Sources, src)
	return b
}

// AddSources appends several sources to the activation order
func (b *Builder[B]) AddSources(srcs ...core.SourceID) *Builder[B] {
	b.config.Sources = append(b.config.Sources, srcs...)
	return b
}

// WithVariant selects the merge algorithm
func (b *Builder[B]) WithVariant(variant core.Variant) *Builder[B] {
	b.config.Variant = variant
	return b
}

// WithQueueCapacity selects the queued variant with per-slot capacity q
func (b *Builder[B]) WithQueueCapacity(q int) *Builder[B] {
	b.config.Variant = core.VariantQueued
	b.config.QueueCapacity = q
	return b
}

// WithQueueBudget selects the queued variant and caps buffered plus unreleased
// block size at size. Merged blocks count until they are passed to Release.
func (b *Builder[B]) WithQueueBudget(size int) *Builder[B] {
	b.config.Variant = core.VariantQueued
	b.config.MaxQueuedSize = size
	return b
}

// WithBlockPolicy sets how blocks are sized against the queue budget
func (b *Builder[B]) WithBlockPolicy(policy BlockPolicy[B]) *Builder[B] {
	b.options.Policy = policy
	return b
}

// WithLogger sets the logger
func (b *Builder[B]) WithLogger(logger telemetry.Logger) *Builder[B] {
	b.options.Logger = logger
	return b
}

// WithMetrics enables instrumentation
func (b *Builder[B]) WithMetrics(metrics *Metrics) *Builder[B] {
	b.options.Metrics = metrics
	return b
}

// OnMerged registers the merged block callback
func (b *Builder[B]) OnMerged(fn func(B)) *Builder[B] {
	b.options.OnMerged = fn
	return b
}

// WithObserver registers a merge trace observer
func (b *Builder[B]) WithObserver(observer core.Observer) *Builder[B] {
	b.options.Observer = observer
	return b
}

// WithActivator replaces the FIFO activation policy
func (b *Builder[B]) WithActivator(newActivator func(sources []core.SourceID) Activator) *Builder[B] {
	b.options.NewActivator = newActivator
	return b
}

// Config returns the configuration collected so far
func (b *Builder[B]) Config() core.MergerConfig {
	config := b.config
	config.Sources = append([]core.SourceID(nil), b.config.Sources...)
	return config
}

// Build validates the configuration and creates the merger
func (b *Builder[B]) Build() (core.Merger[B], error) {
	config := b.Config()

	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("failed to build merger: %w", err)
	}

	return New(config, b.options)
}
