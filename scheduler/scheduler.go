// scheduler/scheduler.go
/* Package scheduler implements bounded-concurrency admission control in front of a slow,
rate-limited backend. Submitted work items wait in a FIFO queue; a single dispatcher
admits the queue head whenever the slot pool grants a slot, and every admitted attempt
runs in its own goroutine. Throttled and transient outcomes are retried with exponential
backoff and full jitter: the slot is released before the backoff sleep and the item
re-enters at the tail of the queue. Each item carries an absolute deadline covering its
queue time and all retries; when it passes the item resolves immediately with a
FatalError wrapping outcome.ErrDeadlineExceeded.

The scheduler does not log. Observability collaborators attach through Subscribe. */
package scheduler

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/backend"
	"github.com/deploymenttheory/go-api-admission-scheduler/logger"
	"github.com/deploymenttheory/go-api-admission-scheduler/outcome"
	"github.com/deploymenttheory/go-api-admission-scheduler/ratehandler"
	"github.com/deploymenttheory/go-api-admission-scheduler/slotpool"
	"github.com/google/uuid"
)

// ErrQueueFull is returned by Submit when QueueLimit items are already queued.
var ErrQueueFull = errors.New("scheduler queue is full")

// WorkItem is an opaque payload plus the caller's correlation ID.
type WorkItem struct {
	CorrelationID string
	Payload       any
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRand sets the random source used for backoff jitter.
func WithRand(rng *rand.Rand) Option {
	return func(s *Scheduler) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// WithEventSink subscribes sink from construction onwards.
func WithEventSink(sink EventSink) Option {
	return func(s *Scheduler) {
		s.Subscribe(sink)
	}
}

// WithSlotPoolLogger sets the logger the slot pool uses for acquire/release debug logs.
func WithSlotPoolLogger(log logger.Logger) Option {
	return func(s *Scheduler) {
		s.poolLog = log
	}
}

type item struct {
	work     WorkItem
	handle   *Handle
	deadline time.Time

	ctx       context.Context
	cancel    context.CancelCauseFunc
	stopWatch func() bool

	// emitMu orders the item's events. It is acquired before Scheduler.mu.
	emitMu sync.Mutex

	// Guarded by Scheduler.mu.
	elem       *list.Element
	timer      *time.Timer
	retry      *ratehandler.RetryState
	lastCause  error
	enqueuedAt time.Time
}

// Scheduler is the single admission-control authority for one backend.
type Scheduler struct {
	cfg     Config
	policy  ratehandler.Policy
	client  backend.Client
	pool    *slotpool.Pool
	poolLog logger.Logger

	mu         sync.Mutex
	queue      *list.List
	pending    map[*item]struct{}
	admitting  *item
	closed     bool
	rng        *rand.Rand
	stats      Stats
	confidence map[int]int

	sinkMu   sync.RWMutex
	sinks    map[uint64]EventSink
	nextSink uint64

	wake        chan struct{}
	stop        chan struct{}
	dispatching chan struct{}
	invocations sync.WaitGroup
}

// New validates cfg, builds the slot pool and starts the dispatcher.
func New(cfg Config, client backend.Client, opts ...Option) (*Scheduler, error) {
	if client == nil {
		return nil, errors.New("backend client cannot be nil")
	}
	cfg.SetDefaultValues()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:         cfg,
		policy:      cfg.policy(),
		client:      client,
		queue:       list.New(),
		pending:     make(map[*item]struct{}),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		confidence:  make(map[int]int),
		sinks:       make(map[uint64]EventSink),
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		dispatching: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	var poolOpts []slotpool.Option
	if s.poolLog != nil {
		poolOpts = append(poolOpts, slotpool.WithLogger(s.poolLog))
	}
	pool, err := slotpool.New(cfg.Capacity, poolOpts...)
	if err != nil {
		return nil, err
	}
	s.pool = pool

	go s.dispatch()
	return s, nil
}

// Submit enqueues a work item and returns immediately. A zero deadline means now plus
// DefaultMaxWait. Cancelling ctx cancels the item.
func (s *Scheduler) Submit(ctx context.Context, work WorkItem, deadline time.Time) (*Handle, error) {
	if work.CorrelationID == "" {
		work.CorrelationID = uuid.New().String()
	}
	now := time.Now()
	if deadline.IsZero() {
		deadline = now.Add(s.cfg.DefaultMaxWait)
	}

	it := &item{
		work:       work,
		handle:     newHandle(work.CorrelationID),
		deadline:   deadline,
		retry:      ratehandler.NewRetryState(deadline),
		enqueuedAt: now,
	}
	it.emitMu.Lock()
	defer it.emitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, outcome.ErrSchedulerClosed
	}
	// The item the dispatcher holds while it waits for a slot is still queued.
	queued := s.queue.Len()
	if s.admitting != nil {
		queued++
	}
	if s.cfg.QueueLimit > 0 && queued >= s.cfg.QueueLimit {
		s.mu.Unlock()
		return nil, ErrQueueFull
	}

	base, cancel := context.WithCancelCause(ctx)
	itemCtx, cancelDeadline := context.WithDeadlineCause(base, deadline, outcome.ErrDeadlineExceeded)
	it.ctx = itemCtx
	it.cancel = func(cause error) {
		cancel(cause)
		cancelDeadline()
	}
	it.handle.cancel = func() { it.cancel(outcome.ErrCancelled) }
	it.stopWatch = context.AfterFunc(itemCtx, func() { s.expire(it) })

	it.elem = s.queue.PushBack(it)
	s.stats.Submitted++
	s.mu.Unlock()

	s.emit(Event{CorrelationID: work.CorrelationID, Type: EventQueued, State: StateQueued, Timestamp: now})
	s.signal()
	return it.handle, nil
}

// Execute performs a single backend attempt under a slot, bypassing the submission queue
// and the retry policy. It is the probe's measurement primitive and emits no item events.
func (s *Scheduler) Execute(ctx context.Context, payload any) outcome.Outcome {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return outcome.Fatal(outcome.ErrSchedulerClosed)
	}
	s.invocations.Add(1)
	s.mu.Unlock()
	defer s.invocations.Done()

	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return outcome.Fatal(contextError(err))
	}
	capacity := s.pool.Capacity()

	s.mu.Lock()
	s.stats.Attempts++
	s.stats.Executed++
	s.mu.Unlock()

	out := s.invoke(ctx, payload)
	s.releaseSlot(slot)
	s.record(capacity, out)
	return out
}

// Resize changes the slot pool capacity. Current holders are never evicted.
func (s *Scheduler) Resize(capacity int) error {
	return s.pool.Resize(capacity)
}

// Capacity returns the current slot pool capacity.
func (s *Scheduler) Capacity() int {
	return s.pool.Capacity()
}

// InFlight returns the number of backend invocations currently holding a slot.
func (s *Scheduler) InFlight() int {
	return s.pool.InFlight()
}

// QueueLength returns the number of items waiting for admission.
func (s *Scheduler) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.queue.Len()
	if s.admitting != nil {
		n++
	}
	return n
}

// Subscribe registers sink for all subsequent events and returns a function that
// removes it.
func (s *Scheduler) Subscribe(sink EventSink) (unsubscribe func()) {
	if sink == nil {
		return func() {}
	}
	s.sinkMu.Lock()
	id := s.nextSink
	s.nextSink++
	s.sinks[id] = sink
	s.sinkMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.sinkMu.Lock()
			delete(s.sinks, id)
			s.sinkMu.Unlock()
		})
	}
}

// Close stops intake, fails queued and backing-off items with outcome.ErrSchedulerClosed
// and waits for in-flight invocations to finish or ctx to be done.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	type abandonedItem struct {
		it  *item
		err error
	}
	var abandoned []abandonedItem
	for e := s.queue.Front(); e != nil; e = e.Next() {
		it := e.Value.(*item)
		it.elem = nil
		abandoned = append(abandoned, abandonedItem{it, terminalError(outcome.ErrSchedulerClosed, it)})
	}
	s.queue.Init()
	for it := range s.pending {
		it.timer.Stop()
		it.timer = nil
		abandoned = append(abandoned, abandonedItem{it, terminalError(outcome.ErrSchedulerClosed, it)})
	}
	clear(s.pending)
	if it := s.admitting; it != nil {
		abandoned = append(abandoned, abandonedItem{it, terminalError(outcome.ErrSchedulerClosed, it)})
	}
	close(s.stop)
	s.mu.Unlock()

	for _, a := range abandoned {
		s.resolve(a.it, outcome.Fatal(a.err), 0)
		a.it.cancel(outcome.ErrSchedulerClosed)
	}

	drained := make(chan struct{})
	go func() {
		<-s.dispatching
		s.invocations.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch admits the queue head whenever a slot is granted.
func (s *Scheduler) dispatch() {
	defer close(s.dispatching)

	for {
		it := s.next()
		if it == nil {
			return
		}

		slot, err := s.pool.Acquire(it.ctx)

		s.mu.Lock()
		s.admitting = nil
		if err != nil {
			// Expired, cancelled or closed while waiting; the watcher resolves it.
			s.mu.Unlock()
			continue
		}
		if s.closed || it.ctx.Err() != nil {
			s.mu.Unlock()
			s.releaseSlot(slot)
			continue
		}
		s.invocations.Add(1)
		s.stats.Admitted++
		s.stats.Attempts++
		queueWait := time.Since(it.enqueuedAt)
		s.mu.Unlock()

		capacity := s.pool.Capacity()
		attempt := it.handle.beginAttempt()
		s.emitFor(it, Event{
			CorrelationID: it.work.CorrelationID,
			Type:          EventAdmitted,
			State:         StateAdmitted,
			Attempt:       attempt,
			Timestamp:     time.Now(),
			Capacity:      capacity,
			QueueWait:     queueWait,
		})

		go s.attempt(it, slot, attempt, capacity)
	}
}

// next pops the queue head, blocking until one is available or the scheduler closes.
func (s *Scheduler) next() *item {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		if front := s.queue.Front(); front != nil {
			it := s.queue.Remove(front).(*item)
			it.elem = nil
			s.admitting = it
			s.mu.Unlock()
			return it
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.stop:
			return nil
		}
	}
}

// attempt runs one backend invocation for an admitted item and applies the retry policy.
func (s *Scheduler) attempt(it *item, slot slotpool.Slot, attempt, capacity int) {
	defer s.invocations.Done()

	it.handle.setState(StateInvoking)
	out := s.invoke(it.ctx, it.work.Payload)
	s.releaseSlot(slot)
	s.record(capacity, out)

	if out.Terminal() {
		if out.Kind == outcome.KindFatalError && it.ctx.Err() != nil {
			// The backend reported our own cancellation; resolve with its cause.
			s.expire(it)
			return
		}
		s.resolve(it, out, attempt)
		return
	}

	eventType := EventTransientFailure
	if out.Kind == outcome.KindThrottled {
		eventType = EventThrottled
	}
	s.emitFor(it, Event{
		CorrelationID: it.work.CorrelationID,
		Type:          eventType,
		State:         StateInvoking,
		Attempt:       attempt,
		Timestamp:     time.Now(),
		Capacity:      capacity,
		Kind:          out.Kind,
		RetryAfter:    out.RetryAfter,
		Err:           out.Err(),
	})

	now := time.Now()
	it.emitMu.Lock()
	s.mu.Lock()
	it.lastCause = out.Err()
	if it.ctx.Err() != nil {
		s.mu.Unlock()
		it.emitMu.Unlock()
		s.expire(it)
		return
	}

	var delay time.Duration
	var terminal error
	switch {
	case s.closed:
		terminal = terminalError(outcome.ErrSchedulerClosed, it)
	case it.retry.Exhausted(s.policy):
		terminal = terminalError(outcome.ErrRetriesExhausted, it)
	default:
		delay = it.retry.Advance(s.policy, s.rng, out.RetryAfter)
		if !it.retry.FitsBeforeDeadline(now, delay) {
			terminal = terminalError(outcome.ErrDeadlineExceeded, it)
		}
	}
	if terminal != nil {
		s.mu.Unlock()
		it.emitMu.Unlock()
		s.resolve(it, outcome.Fatal(terminal), attempt)
		return
	}
	s.stats.Retries++
	s.pending[it] = struct{}{}
	it.timer = time.AfterFunc(delay, func() { s.requeue(it) })
	s.mu.Unlock()
	defer it.emitMu.Unlock()

	it.handle.setState(StateRetrying)
	s.emit(Event{
		CorrelationID: it.work.CorrelationID,
		Type:          EventRetried,
		State:         StateRetrying,
		Attempt:       attempt,
		Timestamp:     now,
		Kind:          out.Kind,
		Delay:         delay,
		Err:           out.Err(),
	})
}

// requeue puts an item whose backoff elapsed back at the tail of the queue.
func (s *Scheduler) requeue(it *item) {
	it.emitMu.Lock()
	defer it.emitMu.Unlock()

	s.mu.Lock()
	if _, ok := s.pending[it]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, it)
	it.timer = nil
	if it.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	it.enqueuedAt = now
	it.elem = s.queue.PushBack(it)
	s.mu.Unlock()

	it.handle.setState(StateQueued)
	s.signal()
	s.emit(Event{
		CorrelationID: it.work.CorrelationID,
		Type:          EventQueued,
		State:         StateQueued,
		Attempt:       it.handle.Attempts(),
		Timestamp:     now,
	})
}

// expire resolves an item whose context is done, removing it from the queue or the
// backoff set. An item mid-invocation keeps its slot until the backend returns.
func (s *Scheduler) expire(it *item) {
	cause := context.Cause(it.ctx)
	var sentinel error
	switch {
	case errors.Is(cause, outcome.ErrDeadlineExceeded), errors.Is(cause, context.DeadlineExceeded):
		sentinel = outcome.ErrDeadlineExceeded
	case errors.Is(cause, outcome.ErrSchedulerClosed):
		sentinel = outcome.ErrSchedulerClosed
	default:
		sentinel = outcome.ErrCancelled
	}

	s.mu.Lock()
	if it.elem != nil {
		s.queue.Remove(it.elem)
		it.elem = nil
	}
	if it.timer != nil {
		it.timer.Stop()
		it.timer = nil
		delete(s.pending, it)
	}
	err := terminalError(sentinel, it)
	s.mu.Unlock()

	s.resolve(it, outcome.Fatal(err), it.handle.Attempts())
}

// resolve delivers the terminal outcome once and emits the Terminal event.
func (s *Scheduler) resolve(it *item, out outcome.Outcome, attempts int) {
	if !it.handle.finish(out) {
		return
	}
	defer it.handle.complete()
	it.stopWatch()
	it.cancel(context.Canceled)

	s.mu.Lock()
	switch {
	case out.Kind == outcome.KindSuccess:
		s.stats.Succeeded++
	case out.Is(outcome.ErrDeadlineExceeded):
		s.stats.Failed++
		s.stats.DeadlineExceeded++
	case out.Is(outcome.ErrCancelled):
		s.stats.Failed++
		s.stats.Cancelled++
	default:
		s.stats.Failed++
	}
	s.mu.Unlock()

	if attempts == 0 {
		attempts = it.handle.Attempts()
	}
	s.emitFor(it, Event{
		CorrelationID: it.work.CorrelationID,
		Type:          EventTerminal,
		State:         it.handle.State(),
		Attempt:       attempts,
		Timestamp:     time.Now(),
		Kind:          out.Kind,
		Err:           out.Err(),
	})
}

// invoke calls the backend, converting panics and malformed outcomes to FatalError.
func (s *Scheduler) invoke(ctx context.Context, payload any) (out outcome.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome.Fatal(fmt.Errorf("%w: %v", outcome.ErrBackendPanic, r))
		}
	}()

	out = s.client.Invoke(ctx, payload)
	if err := out.Validate(); err != nil {
		return outcome.Fatal(err)
	}
	return out
}

// record updates outcome counters and the confidence score of the capacity the attempt
// ran under.
func (s *Scheduler) record(capacity int, out outcome.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch out.Kind {
	case outcome.KindSuccess:
		s.confidence[capacity] += confidenceSuccessGain
	case outcome.KindThrottled:
		s.stats.Throttled++
		s.confidence[capacity] -= confidenceThrottlePenalty
	case outcome.KindTransientError:
		s.stats.Transient++
	}
}

func (s *Scheduler) releaseSlot(slot slotpool.Slot) {
	// Release only fails for slots this scheduler never held.
	_ = s.pool.Release(slot)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// emitFor delivers an event for it, ordered with the item's other events.
func (s *Scheduler) emitFor(it *item, e Event) {
	it.emitMu.Lock()
	defer it.emitMu.Unlock()
	s.emit(e)
}

func (s *Scheduler) emit(e Event) {
	s.sinkMu.RLock()
	if len(s.sinks) == 0 {
		s.sinkMu.RUnlock()
		return
	}
	sinks := make([]EventSink, 0, len(s.sinks))
	for _, sink := range s.sinks {
		sinks = append(sinks, sink)
	}
	s.sinkMu.RUnlock()

	for _, sink := range sinks {
		sink.HandleEvent(e)
	}
}

// terminalError wraps sentinel and, when present, the item's last backend failure.
// Callers hold s.mu or own the item exclusively.
func terminalError(sentinel error, it *item) error {
	if it.lastCause != nil {
		return fmt.Errorf("item %s: %w (last failure: %w)", it.work.CorrelationID, sentinel, it.lastCause)
	}
	return fmt.Errorf("item %s: %w", it.work.CorrelationID, sentinel)
}

// contextError maps a context error to the matching outcome sentinel.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", outcome.ErrDeadlineExceeded, err)
	}
	return fmt.Errorf("%w: %w", outcome.ErrCancelled, err)
}
