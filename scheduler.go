package merger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/creastat/infra/telemetry"
	"github.com/google/uuid"

	"github.com/creastat/merger/core"
)

// sourceState tracks where a source is in its lifecycle
type sourceState int

const (
	statePending sourceState = iota
	stateActive
	stateTerminal // terminal entry submitted but not merged yet
	stateRetired
)

// sourceInfo is the merger's bookkeeping for one source
type sourceInfo struct {
	slot  int
	state sourceState
	busy  bool
}

// entry is one submission: a block, or a bare terminal marker from Finish.
// size is only set when a queued size budget is configured.
type entry[B any] struct {
	blk      B
	size     int
	hasBlock bool
	final    bool
}

// scheduler holds the state shared by both merger variants: the slot table,
// the turn pointer, the pending source queue and the merged output. Every
// field is guarded by mu.
type scheduler[B any] struct {
	mu      sync.Mutex
	variant core.Variant
	module  string
	runID   uuid.UUID

	slots     []slot
	turn      int
	pending   Activator
	sources   map[core.SourceID]*sourceInfo
	activated []core.SourceID

	// slotCond[ix] is the wait queue of the producer owning slot ix
	slotCond []*sync.Cond
	// activation wakes producers whose source is still pending
	activation *sync.Cond
	// held[ix] counts entries submitted for slot ix but not merged yet
	held []int

	// global size budget of the queued variant; zero disables it
	budget     int
	policy     BlockPolicy[B]
	queuedSize int
	unreleased int
	worstCase  int
	worstValid bool

	output   *Collector[B]
	onMerged func(B)
	observer core.Observer
	logger   telemetry.Logger
	metrics  *Metrics

	done     chan struct{}
	aborted  chan struct{}
	abortErr error
	complete bool
	stats    core.Stats
}

func newScheduler[B any](config core.MergerConfig, opts Options[B], module string) (*scheduler[B], error) {
	newActivator := opts.NewActivator
	if newActivator == nil {
		newActivator = NewFIFOActivator
	}
	policy := opts.Policy
	if policy == nil {
		policy = unitPolicy[B]{}
	}

	s := &scheduler[B]{
		variant:  config.Variant,
		module:   module,
		runID:    uuid.New(),
		slots:    make([]slot, config.Slots),
		pending:  newActivator(config.Sources),
		sources:  make(map[core.SourceID]*sourceInfo, len(config.Sources)),
		slotCond: make([]*sync.Cond, config.Slots),
		held:     make([]int, config.Slots),
		budget:   config.MaxQueuedSize,
		policy:   policy,
		output:   NewCollector[B](len(config.Sources)),
		onMerged: opts.OnMerged,
		observer: opts.Observer,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		done:     make(chan struct{}),
		aborted:  make(chan struct{}),
	}
	s.activation = sync.NewCond(&s.mu)
	for ix := range s.slotCond {
		s.slotCond[ix] = sync.NewCond(&s.mu)
	}
	for _, src := range config.Sources {
		s.sources[src] = &sourceInfo{slot: -1, state: statePending}
	}

	s.stats = core.Stats{
		RunID:   s.runID,
		Variant: config.Variant,
		Slots:   config.Slots,
		Sources: len(config.Sources),
	}

	logger := s.logger.WithModule(s.module)
	logger.Info("merger created",
		telemetry.String("run_id", s.runID.String()),
		telemetry.Int("slots", config.Slots),
		telemetry.Int("sources", len(config.Sources)),
		telemetry.Int("queue_capacity", config.QueueCapacity),
		telemetry.Int("max_queued_size", config.MaxQueuedSize),
	)

	for _, ix := range activateInitial(s.slots, s.pending) {
		s.activate(ix, s.slots[ix].occupant)
	}
	if s.abortErr != nil {
		return nil, s.abortErr
	}
	if s.slots[0].empty {
		// no sources at all
		s.completeRun()
	}
	return s, nil
}

// claim validates a submission and waits until its source occupies a slot.
// On success the source is marked busy until release is called.
func (s *scheduler[B]) claim(ctx context.Context, src core.SourceID, final bool) (*sourceInfo, error) {
	if err := s.interrupted(ctx); err != nil {
		return nil, err
	}
	if s.complete {
		return nil, s.violate(src, core.ReasonMergerComplete, "every slot is permanently empty")
	}

	info, ok := s.sources[src]
	if !ok {
		return nil, s.violate(src, core.ReasonUnknownSource, "source is not part of the activation order")
	}

	switch info.state {
	case stateTerminal, stateRetired:
		if final {
			return nil, s.violate(src, core.ReasonDuplicateTerminal, "terminal block already submitted")
		}
		return nil, s.violate(src, core.ReasonSourceRetired, "submission after terminal block")
	}

	if info.busy {
		return nil, s.violate(src, core.ReasonConcurrentProducer, "another submission for this source is in progress")
	}

	info.busy = true
	if err := s.wait(ctx, s.activation, waitActivation, func() bool { return info.state != statePending }); err != nil {
		info.busy = false
		return nil, err
	}
	return info, nil
}

func (s *scheduler[B]) release(info *sourceInfo) {
	info.busy = false
}

// wait suspends the caller on cond until ready holds, the merger is aborted,
// or ctx ends. mu must be held.
func (s *scheduler[B]) wait(ctx context.Context, cond *sync.Cond, reason waitReason, ready func() bool) error {
	if err := s.interrupted(ctx); err != nil {
		return err
	}
	if ready() {
		return nil
	}

	start := time.Now()
	s.stats.Waits++
	s.metrics.waitStarted(s.variant, reason)
	defer func() {
		elapsed := time.Since(start)
		s.stats.WaitTime += elapsed
		s.metrics.waitEnded(s.variant, reason, elapsed)
	}()

	return s.await(ctx, cond, ready)
}

// await is the bare suspension loop behind wait. mu must be held.
func (s *scheduler[B]) await(ctx context.Context, cond *sync.Cond, ready func() bool) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.wakeAll()
	})
	defer stop()

	for !ready() {
		cond.Wait()
		if err := s.interrupted(ctx); err != nil {
			return err
		}
	}
	return nil
}

// interrupted reports the abort cause or the context error, if any
func (s *scheduler[B]) interrupted(ctx context.Context) error {
	if s.abortErr != nil {
		if errors.Is(s.abortErr, core.ErrAborted) {
			return s.abortErr
		}
		return fmt.Errorf("%w: %w", core.ErrAborted, s.abortErr)
	}
	return ctx.Err()
}

// merge appends e to the output on behalf of slot ix and moves the turn on
func (s *scheduler[B]) merge(ix int, e entry[B]) {
	src := s.slots[ix].occupant
	pos := s.output.Len()

	if e.hasBlock {
		if s.budget > 0 {
			s.unreleased += e.size
		}
		s.output.Append(e.blk)
		s.stats.Merged++
		s.metrics.blockMerged(s.variant)
		if s.onMerged != nil {
			s.onMerged(e.blk)
		}
	}
	s.emit(core.MergedEvent{Source: src, Slot: ix, Position: pos, HasBlock: e.hasBlock, Final: e.final})

	if e.final {
		s.retire(ix, src)
	}
	s.advance(ix)
	s.dumpState("merge")
}

// retire hands slot ix from src to the next pending source or empties it
func (s *scheduler[B]) retire(ix int, src core.SourceID) {
	logger := s.logger.WithModule(s.module)

	s.sources[src].state = stateRetired
	s.sources[src].slot = -1
	s.worstValid = false
	if s.budget > 0 {
		// a smaller worst case may admit blocks waiting on other slots
		s.wakeSlots()
	}

	next, ok := refill(s.slots, ix, s.pending)
	if !ok {
		s.metrics.slotTransition(s.variant, false)
		s.emit(core.RetiredEvent{Slot: ix})
		logger.Debug("slot retired",
			telemetry.Int("slot", ix),
			telemetry.String("last_source", string(src)),
		)
		return
	}

	s.stats.Refills++
	s.activate(ix, next)
	logger.Debug("slot refilled",
		telemetry.Int("slot", ix),
		telemetry.String("previous_source", string(src)),
		telemetry.String("source", string(next)),
	)
}

// activate records src as the occupant of slot ix
func (s *scheduler[B]) activate(ix int, src core.SourceID) {
	info, ok := s.sources[src]
	if !ok || info.state != statePending {
		s.abort(fmt.Errorf("activator returned source %q which is not pending", src))
		return
	}
	info.state = stateActive
	info.slot = ix
	s.activated = append(s.activated, src)
	s.metrics.slotTransition(s.variant, true)
	s.emit(core.ActivatedEvent{Source: src, Slot: ix})
	s.activation.Broadcast()
}

// advance moves the turn pointer past permanently empty slots.
// If it comes back to from and that slot is empty too, the run is complete.
func (s *scheduler[B]) advance(from int) {
	next := from
	for {
		next = (next + 1) % len(s.slots)
		if next == from || !s.slots[next].empty {
			break
		}
	}
	s.turn = next

	if s.slots[next].empty {
		s.completeRun()
		return
	}
	s.slotCond[next].Broadcast()
}

func (s *scheduler[B]) completeRun() {
	if s.complete {
		return
	}
	s.complete = true
	s.stats.Complete = true
	close(s.done)
	s.emit(core.CompletedEvent{Blocks: s.output.Len()})
	s.wakeAll()

	logger := s.logger.WithModule(s.module)
	logger.Info("merge complete",
		telemetry.String("run_id", s.runID.String()),
		telemetry.Int("blocks", s.output.Len()),
		telemetry.Int("waits", s.stats.Waits),
		telemetry.Int("max_in_flight", s.stats.MaxInFlight),
	)
}

// violate aborts the run with a protocol violation and returns it
func (s *scheduler[B]) violate(src core.SourceID, reason core.ViolationReason, details string) error {
	err := &core.ProtocolViolation{Source: src, Reason: reason, Details: details}
	s.metrics.violation(s.variant, reason)

	logger := s.logger.WithModule(s.module)
	logger.Error("protocol violation",
		telemetry.String("run_id", s.runID.String()),
		telemetry.String("source", string(src)),
		telemetry.String("reason", string(reason)),
		telemetry.Err(err),
	)

	s.abort(err)
	return err
}

// abort records the first cause and wakes every suspended producer. mu must be held.
func (s *scheduler[B]) abort(cause error) {
	if cause == nil {
		cause = errors.New("aborted without cause")
	}
	if s.abortErr != nil || s.complete {
		return
	}
	s.abortErr = cause
	close(s.aborted)
	s.wakeAll()

	logger := s.logger.WithModule(s.module)
	logger.Warn("merger aborted",
		telemetry.String("run_id", s.runID.String()),
		telemetry.Int("merged", s.output.Len()),
		telemetry.Err(cause),
	)
}

func (s *scheduler[B]) wakeAll() {
	s.wakeSlots()
	s.activation.Broadcast()
}

func (s *scheduler[B]) wakeSlots() {
	for _, c := range s.slotCond {
		c.Broadcast()
	}
}

// queueable is the part of the size budget still free
func (s *scheduler[B]) queueable() int {
	return s.budget - s.queuedSize - s.unreleased
}

// maxWorstCase is the largest block any source that is not retired may still submit
func (s *scheduler[B]) maxWorstCase() int {
	if !s.worstValid {
		s.worstCase = 0
		for src, info := range s.sources {
			if info.state != stateRetired {
				s.worstCase = max(s.worstCase, s.policy.WorstCaseBlockSize(src))
			}
		}
		s.worstValid = true
	}
	return s.worstCase
}

// observeInFlight updates the in-flight statistics. Entries held for the
// slot that has the turn are about to be merged and do not count.
func (s *scheduler[B]) observeInFlight() {
	n := s.inFlight()
	if n > s.stats.MaxInFlight {
		s.stats.MaxInFlight = n
	}
	s.metrics.setInFlight(s.variant, n)
}

func (s *scheduler[B]) inFlight() int {
	n := 0
	for ix, h := range s.held {
		if ix != s.turn {
			n += h
		}
	}
	return n
}

func (s *scheduler[B]) emit(ev core.Event) {
	if s.observer != nil {
		s.observer(ev)
	}
}

// dumpState logs the slot table at trace level
func (s *scheduler[B]) dumpState(what string) {
	var b strings.Builder
	for ix, sl := range s.slots {
		if ix > 0 {
			b.WriteByte(' ')
		}
		switch {
		case sl.empty:
			b.WriteByte('-')
		case ix == s.turn:
			b.WriteString("*" + string(sl.occupant))
		default:
			b.WriteString(string(sl.occupant))
		}
	}

	logger := s.logger.WithModule(s.module)
	logger.Trace(what,
		telemetry.String("slots", b.String()),
		telemetry.Int("turn", s.turn),
		telemetry.Int("pending", s.pending.Len()),
		telemetry.Int("merged", s.output.Len()),
		telemetry.Int("in_flight", s.inFlight()),
		telemetry.Int("queued_size", s.queuedSize),
		telemetry.Int("unreleased", s.unreleased),
	)
}

// Output returns a snapshot of the merged blocks
func (s *scheduler[B]) Output() []B {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.Blocks()
}

// Done is closed when every slot is permanently empty
func (s *scheduler[B]) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the merge completes, is aborted, or ctx ends
func (s *scheduler[B]) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-s.aborted:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.interrupted(context.Background())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort stops the run and wakes every blocked producer with an error wrapping cause
func (s *scheduler[B]) Abort(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abort(cause)
}

// Activated returns the n-th source to take a slot, waiting until it does
func (s *scheduler[B]) Activated(ctx context.Context, n int) (core.SourceID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.interrupted(ctx); err != nil {
		return "", false, err
	}
	err := s.await(ctx, s.activation, func() bool {
		return n < len(s.activated) || n >= len(s.sources) || s.complete
	})
	if err != nil {
		return "", false, err
	}
	if n < 0 || n >= len(s.activated) {
		return "", false, nil
	}
	return s.activated[n], true, nil
}

// Release returns amount of merged size to the queued size budget.
// Without a budget nothing is tracked and only a zero release succeeds.
func (s *scheduler[B]) Release(amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount < 0 || amount > s.unreleased {
		return fmt.Errorf("%w: releasing %d with %d unreleased", core.ErrOverRelease, amount, s.unreleased)
	}
	s.unreleased -= amount
	s.wakeSlots()
	return nil
}

// Stats returns a snapshot of the run statistics
func (s *scheduler[B]) Stats() core.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.InFlight = s.inFlight()
	st.Queued = s.queuedSize
	st.Unreleased = s.unreleased
	return st
}
