package core

// MergerConfig holds the construction parameters shared by both merger variants
type MergerConfig struct {
	// Slots is the number of sources allowed to be active at the same time (M)
	Slots int

	// Sources lists every source in activation order (N)
	Sources []SourceID

	// QueueCapacity bounds each slot's buffer in the queued variant (Q).
	// It is ignored by the strict variant.
	QueueCapacity int

	// MaxQueuedSize is a budget shared by all slots of the queued variant,
	// covering buffered blocks plus merged blocks not yet released.
	// Zero disables it.
	MaxQueuedSize int

	// Variant selects the merge algorithm
	Variant Variant
}

// RunnerConfig configures the pool of producer workers
type RunnerConfig struct {
	// Workers is the number of concurrent producers; zero means one per slot
	Workers int
}
