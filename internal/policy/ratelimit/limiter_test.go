package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(interval time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(interval)
	l.now = clock.Now
	return l, clock
}

func TestLimiterSpacesRequests(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(30 * time.Second)

	_, _, ok := l.Reserve()
	require.True(t, ok)

	_, retry, ok := l.Reserve()
	require.False(t, ok)
	require.InDelta(t, (30 * time.Second).Seconds(), retry.Seconds(), 0.001)

	clock.Advance(10 * time.Second)
	_, retry, ok = l.Reserve()
	require.False(t, ok)
	require.InDelta(t, (20 * time.Second).Seconds(), retry.Seconds(), 0.001)

	clock.Advance(20 * time.Second)
	_, _, ok = l.Reserve()
	require.True(t, ok)
}

func TestLimiterReleaseReturnsSlot(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(time.Minute)

	res, _, ok := l.Reserve()
	require.True(t, ok)
	clock.Advance(time.Millisecond)
	res.Release()

	clock.Advance(time.Millisecond)
	res, retry, ok := l.Reserve()
	require.True(t, ok, "released slot should be reusable, retry after %s", retry)

	clock.Advance(time.Second)
	_, retry, ok = l.Reserve()
	require.False(t, ok)
	require.InDelta(t, (59 * time.Second).Seconds(), retry.Seconds(), 0.001)
	res.Release()
}

func TestLimiterReleaseAfterLongHandler(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(time.Minute)

	res, _, ok := l.Reserve()
	require.True(t, ok)
	clock.Advance(30 * time.Second)
	res.Release()

	_, _, ok = l.Reserve()
	require.True(t, ok)
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(0)
	for i := 0; i < 100; i++ {
		_, _, ok := l.Reserve()
		require.True(t, ok)
	}
	require.Zero(t, l.Interval())
}

func TestZeroReservationRelease(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() { Reservation{}.Release() })
}
