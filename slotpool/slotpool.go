// slotpool/slotpool.go
/* Package slotpool provides a resizable pool of execution slots. A slot is the permission
to have one request in flight against the backend. Waiters are served strictly FIFO and a
released slot is handed directly to the longest-waiting caller, so exactly one waiter is
woken per release. */
package slotpool

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidCapacity is returned when a capacity below one is requested.
	ErrInvalidCapacity = errors.New("slot pool capacity must be at least 1")

	// ErrSlotNotHeld is returned when releasing a slot that was already released.
	ErrSlotNotHeld = errors.New("slot is not held")

	// ErrForeignSlot is returned when releasing a slot granted by another pool.
	ErrForeignSlot = errors.New("slot does not belong to this pool")
)

// Slot is the handle returned by Acquire. It must be passed to Release exactly once.
type Slot struct {
	id        uuid.UUID
	pool      *Pool
	grantedAt time.Time
}

// ID returns the unique identifier of the slot grant.
func (s Slot) ID() uuid.UUID {
	return s.id
}

// GrantedAt returns the time the slot was granted.
func (s Slot) GrantedAt() time.Time {
	return s.grantedAt
}

// Stats is a point-in-time snapshot of pool accounting.
type Stats struct {
	Capacity         int
	InFlight         int
	Waiting          int
	PeakInFlight     int
	Acquisitions     int64
	Releases         int64
	CancelledWaiters int64
	TotalWait        time.Duration
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for acquire/release debug logging.
func WithLogger(log logger.Logger) Option {
	return func(p *Pool) {
		if log != nil {
			p.log = log
		}
	}
}

type waiter struct {
	ready    chan Slot
	enqueued time.Time
	elem     *list.Element
}

// Pool controls the number of concurrently held slots.
type Pool struct {
	mu       sync.Mutex
	capacity int
	held     map[uuid.UUID]struct{}
	waiters  *list.List
	stats    Stats
	log      logger.Logger
}

// New creates a pool with the given capacity.
func New(capacity int, opts ...Option) (*Pool, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	p := &Pool{
		capacity: capacity,
		held:     make(map[uuid.UUID]struct{}, capacity),
		waiters:  list.New(),
		log:      logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Acquire blocks until a slot is granted or ctx is done. A waiter cancelled before it is
// granted is removed from the queue without affecting accounting.
func (p *Pool) Acquire(ctx context.Context) (Slot, error) {
	if err := ctx.Err(); err != nil {
		return Slot{}, err
	}

	start := time.Now()

	p.mu.Lock()
	if p.waiters.Len() == 0 && len(p.held) < p.capacity {
		slot := p.grantLocked(start)
		inFlight := len(p.held)
		p.mu.Unlock()
		p.logAcquired(slot, 0, inFlight)
		return slot, nil
	}

	w := &waiter{ready: make(chan Slot, 1), enqueued: start}
	w.elem = p.waiters.PushBack(w)
	p.mu.Unlock()

	select {
	case slot := <-w.ready:
		p.logAcquired(slot, time.Since(start), p.InFlight())
		return slot, nil
	case <-ctx.Done():
		p.mu.Lock()
		if w.elem != nil {
			p.waiters.Remove(w.elem)
			w.elem = nil
			p.stats.CancelledWaiters++
			p.mu.Unlock()
			p.log.Debug("Slot acquisition cancelled", zap.Error(ctx.Err()))
			return Slot{}, ctx.Err()
		}
		p.mu.Unlock()

		// Granted concurrently with cancellation: pass the slot on.
		slot := <-w.ready
		if err := p.Release(slot); err != nil {
			p.log.Warn("Failed to return slot granted after cancellation", zap.Error(err))
		}
		p.mu.Lock()
		p.stats.CancelledWaiters++
		p.mu.Unlock()
		return Slot{}, ctx.Err()
	}
}

// TryAcquire grants a slot only if one is free and nobody is waiting.
func (p *Pool) TryAcquire() (Slot, bool) {
	p.mu.Lock()
	if p.waiters.Len() > 0 || len(p.held) >= p.capacity {
		p.mu.Unlock()
		return Slot{}, false
	}
	slot := p.grantLocked(time.Now())
	inFlight := len(p.held)
	p.mu.Unlock()
	p.logAcquired(slot, 0, inFlight)
	return slot, true
}

// Release returns a slot to the pool and hands it to the longest waiting caller if any.
// Releasing a slot twice, or a slot from another pool, returns an error and leaves
// accounting untouched.
func (p *Pool) Release(slot Slot) error {
	if slot.pool != p {
		return ErrForeignSlot
	}

	p.mu.Lock()
	if _, ok := p.held[slot.id]; !ok {
		p.mu.Unlock()
		return ErrSlotNotHeld
	}
	delete(p.held, slot.id)
	p.stats.Releases++
	p.dispatchLocked()
	inFlight, capacity := len(p.held), p.capacity
	p.mu.Unlock()

	p.log.Debug("Released slot",
		zap.String("SlotID", slot.id.String()),
		zap.Duration("HeldFor", time.Since(slot.grantedAt)),
		zap.Int("InFlight", inFlight),
		zap.Int("Capacity", capacity),
	)
	return nil
}

// Resize changes the capacity. Shrinking never evicts current holders; the excess drains
// as they release. Growing immediately grants slots to waiters up to the new headroom.
func (p *Pool) Resize(capacity int) error {
	if capacity < 1 {
		return ErrInvalidCapacity
	}

	p.mu.Lock()
	previous := p.capacity
	p.capacity = capacity
	p.dispatchLocked()
	inFlight := len(p.held)
	p.mu.Unlock()

	if previous != capacity {
		p.log.Debug("Resized slot pool",
			zap.Int("From", previous),
			zap.Int("To", capacity),
			zap.Int("InFlight", inFlight),
		)
	}
	return nil
}

// Capacity returns the current capacity.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// InFlight returns the number of slots currently held.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.held)
}

// Waiting returns the number of queued waiters.
func (p *Pool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiters.Len()
}

// Stats returns a snapshot of pool accounting.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Capacity = p.capacity
	s.InFlight = len(p.held)
	s.Waiting = p.waiters.Len()
	return s
}

func (p *Pool) grantLocked(now time.Time) Slot {
	slot := Slot{id: uuid.New(), pool: p, grantedAt: now}
	p.held[slot.id] = struct{}{}
	p.stats.Acquisitions++
	if len(p.held) > p.stats.PeakInFlight {
		p.stats.PeakInFlight = len(p.held)
	}
	return slot
}

// dispatchLocked grants slots to waiters in FIFO order while there is headroom.
func (p *Pool) dispatchLocked() {
	for len(p.held) < p.capacity && p.waiters.Len() > 0 {
		front := p.waiters.Front()
		w := p.waiters.Remove(front).(*waiter)
		w.elem = nil
		now := time.Now()
		p.stats.TotalWait += now.Sub(w.enqueued)
		w.ready <- p.grantLocked(now)
	}
}

func (p *Pool) logAcquired(slot Slot, wait time.Duration, inFlight int) {
	p.log.Debug("Acquired slot",
		zap.String("SlotID", slot.id.String()),
		zap.Duration("AcquisitionTime", wait),
		zap.Int("InFlight", inFlight),
	)
}
