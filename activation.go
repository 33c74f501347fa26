package merger

import "github.com/creastat/merger/core"

// Activator hands out pending sources in activation order.
// It is the extension point for alternative activation policies; mergers only
// ever call Next while holding their critical section.
type Activator interface {
	// Next removes and returns the next source to activate
	Next() (core.SourceID, bool)

	// Len returns the number of sources still waiting for a slot
	Len() int
}

// fifoActivator activates sources strictly in listing order
type fifoActivator struct {
	queue []core.SourceID
}

// NewFIFOActivator creates an activator that drains sources in the given order
func NewFIFOActivator(sources []core.SourceID) Activator {
	queue := make([]core.SourceID, len(sources))
	copy(queue, sources)
	return &fifoActivator{queue: queue}
}

// Next returns the head of the queue
func (a *fifoActivator) Next() (core.SourceID, bool) {
	if len(a.queue) == 0 {
		return "", false
	}
	src := a.queue[0]
	a.queue = a.queue[1:]
	return src, true
}

// Len returns the number of queued sources
func (a *fifoActivator) Len() int {
	return len(a.queue)
}

// slot is one of the M fixed positions a source occupies while active
type slot struct {
	occupant core.SourceID
	empty    bool
}

// activateInitial fills the slots in order and marks the remainder permanently empty.
// It returns the indexes that received a source.
func activateInitial(slots []slot, pending Activator) []int {
	activated := make([]int, 0, len(slots))
	for ix := range slots {
		src, ok := pending.Next()
		if !ok {
			slots[ix] = slot{empty: true}
			continue
		}
		slots[ix] = slot{occupant: src}
		activated = append(activated, ix)
	}
	return activated
}

// refill hands slot ix to the next pending source, or empties it for good
func refill(slots []slot, ix int, pending Activator) (core.SourceID, bool) {
	src, ok := pending.Next()
	if !ok {
		slots[ix] = slot{empty: true}
		return "", false
	}
	slots[ix] = slot{occupant: src}
	return src, true
}
