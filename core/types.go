package core

// SourceID identifies a block source in the activation order
type SourceID string

// Variant selects the merge algorithm
type Variant string

const (
	// VariantStrict blocks every producer until its slot has the turn
	VariantStrict Variant = "strict"

	// VariantQueued lets producers run ahead into bounded per-slot buffers
	VariantQueued Variant = "queued"
)

// EventType categorizes merge trace events
type EventType string

const (
	EventTypeActivated EventType = "activated"
	EventTypeMerged    EventType = "merged"
	EventTypeRetired   EventType = "retired"
	EventTypeCompleted EventType = "completed"
)

// ViolationReason explains why a submission broke the producer protocol
type ViolationReason string

const (
	ReasonUnknownSource      ViolationReason = "unknown_source"
	ReasonSourceRetired      ViolationReason = "source_retired"
	ReasonDuplicateTerminal  ViolationReason = "duplicate_terminal"
	ReasonConcurrentProducer ViolationReason = "concurrent_producer"
	ReasonMergerComplete     ViolationReason = "merger_complete"
)
