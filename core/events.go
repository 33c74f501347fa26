package core

// Event represents a merge trace event
type Event interface {
	EventType() EventType
}

// ActivatedEvent records a source taking over a slot
type ActivatedEvent struct {
	Source SourceID
	Slot   int
}

func (e ActivatedEvent) EventType() EventType {
	return EventTypeActivated
}

// MergedEvent records one entry appended to the merged output.
// Terminal markers submitted through Finish have HasBlock set to false.
type MergedEvent struct {
	Source   SourceID
	Slot     int
	Position int
	HasBlock bool
	Final    bool
}

func (e MergedEvent) EventType() EventType {
	return EventTypeMerged
}

// RetiredEvent records a slot becoming permanently empty
type RetiredEvent struct {
	Slot int
}

func (e RetiredEvent) EventType() EventType {
	return EventTypeRetired
}

// CompletedEvent signals that every slot is permanently empty
type CompletedEvent struct {
	Blocks int
}

func (e CompletedEvent) EventType() EventType {
	return EventTypeCompleted
}

// Observer receives merge trace events in order.
// It is called inside the merger's critical section and must not block.
type Observer func(Event)
