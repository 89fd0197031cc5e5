package binding

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRegistry_CreateConfirm(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now), WithoutTimers())

	p, err := r.Create(7, "Steve", "chat:1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.RequesterID)

	_, err = r.Create(8, "Steve", "chat:2")
	assert.ErrorIs(t, err, ErrConflict)

	clock.Advance(59 * time.Second)
	got, err := r.Confirm("Steve")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.RequesterID)
	assert.Equal(t, "chat:1", got.Ref)

	_, err = r.Confirm("Steve")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ConfirmAfterWindow(t *testing.T) {
	clock := newFakeClock()
	var expired []Pending
	r := NewRegistry(
		WithClock(clock.Now),
		WithoutTimers(),
		WithExpiryHandler(func(p Pending) { expired = append(expired, p) }),
	)

	_, err := r.Create(7, "A", "")
	require.NoError(t, err)

	clock.Advance(61 * time.Second)
	_, err = r.Confirm("A")
	assert.ErrorIs(t, err, ErrNotFound)
	require.Len(t, expired, 1)
	assert.Equal(t, "A", expired[0].Account)

	_, ok := r.Expire("A")
	assert.False(t, ok)
	assert.Len(t, expired, 1)
}

func TestRegistry_ConfirmAtWindowBoundary(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now), WithoutTimers())

	_, err := r.Create(7, "A", "")
	require.NoError(t, err)
	_, err = r.Create(8, "B", "")
	require.NoError(t, err)

	clock.Advance(DefaultWindow)
	assert.Equal(t, 0, r.Sweep())
	got, err := r.Confirm("A")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.RequesterID)

	clock.Advance(time.Nanosecond)
	_, err = r.Confirm("B")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_StaleEntryIsReplaced(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now), WithoutTimers())

	_, err := r.Create(7, "A", "")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	_, ok := r.Get("A")
	assert.False(t, ok)

	p, err := r.Create(9, "A", "")
	require.NoError(t, err)
	assert.Equal(t, int64(9), p.RequesterID)
}

func TestRegistry_ExpireOnlyWhenAged(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now), WithoutTimers())

	_, err := r.Create(7, "A", "")
	require.NoError(t, err)

	_, ok := r.Expire("A")
	assert.False(t, ok)

	clock.Advance(DefaultWindow)
	_, ok = r.Expire("A")
	assert.False(t, ok, "a request exactly at the window is still valid")

	clock.Advance(time.Nanosecond)
	p, ok := r.Expire("A")
	assert.True(t, ok)
	assert.Equal(t, int64(7), p.RequesterID)
}

func TestRegistry_Sweep(t *testing.T) {
	clock := newFakeClock()
	var n atomic.Int32
	r := NewRegistry(
		WithClock(clock.Now),
		WithoutTimers(),
		WithExpiryHandler(func(Pending) { n.Add(1) }),
	)

	_, _ = r.Create(1, "A", "")
	_, _ = r.Create(2, "B", "")
	clock.Advance(30 * time.Second)
	_, _ = r.Create(3, "C", "")
	clock.Advance(31 * time.Second)

	assert.Equal(t, 2, r.Sweep())
	assert.Equal(t, int32(2), n.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_TimerExpires(t *testing.T) {
	done := make(chan Pending, 1)
	r := NewRegistry(
		WithWindow(20*time.Millisecond),
		WithExpiryHandler(func(p Pending) { done <- p }),
	)
	defer r.Close()

	_, err := r.Create(7, "A", "chat")
	require.NoError(t, err)

	select {
	case p := <-done:
		assert.Equal(t, "A", p.Account)
	case <-time.After(2 * time.Second):
		t.Fatal("entry was not expired by its timer")
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ConfirmStopsTimer(t *testing.T) {
	var n atomic.Int32
	r := NewRegistry(
		WithWindow(30*time.Millisecond),
		WithExpiryHandler(func(Pending) { n.Add(1) }),
	)
	defer r.Close()

	_, err := r.Create(7, "A", "")
	require.NoError(t, err)
	_, err = r.Confirm("A")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), n.Load())
}

// TestRegistry_ExactlyOnceProperty races Confirm against Expire and checks
// that each entry is resolved exactly once, either confirmed or expired.
func TestRegistry_ExactlyOnceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clock := newFakeClock()
		var resolved atomic.Int32
		r := NewRegistry(
			WithClock(clock.Now),
			WithoutTimers(),
			WithExpiryHandler(func(Pending) { resolved.Add(1) }),
		)
		confirmers := rapid.IntRange(1, 8).Draw(t, "confirmers")
		expirers := rapid.IntRange(0, 8).Draw(t, "expirers")

		if _, err := r.Create(1, "A", ""); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Duration(rapid.IntRange(0, 120).Draw(t, "ageSeconds")) * time.Second)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < confirmers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := r.Confirm("A"); err == nil {
					resolved.Add(1)
				}
			}()
		}
		for i := 0; i < expirers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				r.Expire("A")
			}()
		}
		close(start)
		wg.Wait()

		if resolved.Load() != 1 {
			t.Fatalf("entry resolved %d times", resolved.Load())
		}
		if r.Len() != 0 {
			t.Fatalf("entry still stored after resolution")
		}
	})
}

func TestCancel_OnlyMatchingRequest(t *testing.T) {
	clock := newFakeClock()
	var expired int
	r := NewRegistry(WithClock(clock.Now), WithoutTimers(), WithExpiryHandler(func(Pending) { expired++ }))

	p, err := r.Create(1, "Steve", "ref")
	require.NoError(t, err)

	other := p
	other.RequesterID = 2
	assert.False(t, r.Cancel(other))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Cancel(p))
	assert.Equal(t, 0, r.Len())
	assert.Zero(t, expired)

	_, err = r.Confirm("Steve")
	assert.ErrorIs(t, err, ErrNotFound)
}
