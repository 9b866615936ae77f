// slotpool/slotpool_test.go
package slotpool

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/mocklogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		wantErr  error
	}{
		{"One", 1, nil},
		{"Six", 6, nil},
		{"Zero", 0, ErrInvalidCapacity},
		{"Negative", -3, ErrInvalidCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.capacity)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.capacity, p.Capacity())
			assert.Zero(t, p.InFlight())
		})
	}
}

func TestAcquireRelease(t *testing.T) {
	log := mocklogger.NewPermissiveMockLogger()
	p, err := New(2, WithLogger(log))
	require.NoError(t, err)

	s1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	s2, ok := p.TryAcquire()
	require.True(t, ok)
	assert.NotEqual(t, s1.ID(), s2.ID())
	assert.False(t, s1.GrantedAt().IsZero())

	_, ok = p.TryAcquire()
	assert.False(t, ok, "Pool at capacity must refuse TryAcquire")
	assert.Equal(t, 2, p.InFlight())

	require.NoError(t, p.Release(s1))
	require.NoError(t, p.Release(s2))
	assert.Zero(t, p.InFlight())
	log.AssertCalled(t, "Debug", "Acquired slot", mock.Anything)
}

func TestReleaseErrors(t *testing.T) {
	p, _ := New(1)
	other, _ := New(1)

	slot, err := p.Acquire(context.Background())
	require.NoError(t, err)
	foreign, err := other.Acquire(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, p.Release(foreign), ErrForeignSlot)
	assert.ErrorIs(t, p.Release(Slot{}), ErrForeignSlot)
	require.NoError(t, p.Release(slot))
	assert.ErrorIs(t, p.Release(slot), ErrSlotNotHeld)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Acquisitions)
	assert.Equal(t, int64(1), stats.Releases)
	assert.Zero(t, stats.InFlight)
}

func TestFIFOHandOff(t *testing.T) {
	p, _ := New(1)
	holder, err := p.Acquire(context.Background())
	require.NoError(t, err)

	const n = 10
	order := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slot, err := p.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			order <- i
			assert.NoError(t, p.Release(slot))
		}(i)
		// Enqueue deterministically.
		waitFor(t, func() bool { return p.Waiting() == i+1 })
	}

	require.NoError(t, p.Release(holder))
	wg.Wait()
	close(order)

	got := make([]int, 0, n)
	for i := range order {
		got = append(got, i)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestReleaseWakesExactlyOneWaiter(t *testing.T) {
	p, _ := New(1)
	holder, _ := p.Acquire(context.Background())

	var granted atomic.Int32
	slots := make(chan Slot, 3)
	for i := 0; i < 3; i++ {
		go func() {
			slot, err := p.Acquire(context.Background())
			if err == nil {
				granted.Add(1)
				slots <- slot
			}
		}()
	}
	waitFor(t, func() bool { return p.Waiting() == 3 })

	require.NoError(t, p.Release(holder))
	waitFor(t, func() bool { return granted.Load() == 1 })
	assert.Equal(t, 2, p.Waiting())
	assert.Equal(t, 1, p.InFlight())

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Release(<-slots))
	}
	assert.Zero(t, p.InFlight())
}

func TestCancelledWaiterLeavesNoTrace(t *testing.T) {
	p, _ := New(1)
	holder, _ := p.Acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errCh <- err
	}()
	waitFor(t, func() bool { return p.Waiting() == 1 })

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Zero(t, p.Waiting())
	assert.Equal(t, 1, p.InFlight())

	require.NoError(t, p.Release(holder))
	stats := p.Stats()
	assert.Zero(t, stats.InFlight)
	assert.Equal(t, int64(1), stats.CancelledWaiters)
	assert.Equal(t, stats.Acquisitions, stats.Releases)
}

func TestAcquireWithDoneContext(t *testing.T) {
	p, _ := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.InFlight())
}

func TestResize(t *testing.T) {
	t.Run("ShrinkKeepsHolders", func(t *testing.T) {
		p, _ := New(3)
		var held []Slot
		for i := 0; i < 3; i++ {
			s, _ := p.TryAcquire()
			held = append(held, s)
		}

		require.NoError(t, p.Resize(1))
		assert.Equal(t, 3, p.InFlight(), "Holders must not be evicted")

		require.NoError(t, p.Release(held[0]))
		_, ok := p.TryAcquire()
		assert.False(t, ok, "No headroom until in-flight drains below the new capacity")

		require.NoError(t, p.Release(held[1]))
		require.NoError(t, p.Release(held[2]))
		_, ok = p.TryAcquire()
		assert.True(t, ok)
	})

	t.Run("GrowWakesWaitersUpToHeadroom", func(t *testing.T) {
		p, _ := New(1)
		holder, _ := p.Acquire(context.Background())

		var granted atomic.Int32
		for i := 0; i < 4; i++ {
			go func() {
				if _, err := p.Acquire(context.Background()); err == nil {
					granted.Add(1)
				}
			}()
		}
		waitFor(t, func() bool { return p.Waiting() == 4 })

		require.NoError(t, p.Resize(3))
		waitFor(t, func() bool { return granted.Load() == 2 })
		assert.Equal(t, 2, p.Waiting())
		assert.Equal(t, 3, p.InFlight())

		require.NoError(t, p.Release(holder))
		waitFor(t, func() bool { return granted.Load() == 3 })
	})

	t.Run("Invalid", func(t *testing.T) {
		p, _ := New(2)
		assert.ErrorIs(t, p.Resize(0), ErrInvalidCapacity)
		assert.Equal(t, 2, p.Capacity())
	})
}

func TestBoundedConcurrency(t *testing.T) {
	for _, capacity := range []int{1, 3, 8} {
		p, _ := New(capacity)
		var active, peak atomic.Int32
		var wg sync.WaitGroup

		for i := 0; i < 200; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				slot, err := p.Acquire(context.Background())
				if err != nil {
					return
				}
				n := active.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(100 * time.Microsecond)
				active.Add(-1)
				_ = p.Release(slot)
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, int(peak.Load()), capacity)
		assert.LessOrEqual(t, p.Stats().PeakInFlight, capacity)
		assert.Zero(t, p.InFlight())
	}
}

// TestNoLeakUnderRandomOperations runs random acquire/cancel/release/resize sequences
// and checks that the pool returns to zero in-flight at quiescence.
func TestNoLeakUnderRandomOperations(t *testing.T) {
	p, _ := New(4)
	rng := rand.New(rand.NewSource(42))

	const ops = 10000
	var wg sync.WaitGroup
	for i := 0; i < ops; i++ {
		choice := rng.Intn(10)
		timeout := time.Duration(rng.Intn(200)) * time.Microsecond

		if choice == 0 {
			_ = p.Resize(1 + i%6)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			if choice < 4 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			slot, err := p.Acquire(ctx)
			if err != nil {
				return
			}
			if choice%2 == 0 {
				time.Sleep(timeout)
			}
			assert.NoError(t, p.Release(slot))
		}()
	}
	wg.Wait()

	stats := p.Stats()
	assert.Zero(t, stats.InFlight)
	assert.Zero(t, stats.Waiting)
	assert.Equal(t, stats.Acquisitions, stats.Releases)
}
