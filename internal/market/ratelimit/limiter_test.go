package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// virtualTime advances the clock by every imposed sleep.
type virtualTime struct {
	mu  sync.Mutex
	now time.Time
}

func (v *virtualTime) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *virtualTime) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	v.mu.Unlock()
}

func (v *virtualTime) Sleep(_ context.Context, d time.Duration) error {
	v.Advance(d)
	return nil
}

func TestAwaitSlot_FirstCallDoesNotWait(t *testing.T) {
	vt := &virtualTime{now: epoch}
	var waits []time.Duration
	l := New(DefaultMinInterval, WithClock(vt.Now), WithSleep(vt.Sleep), WithWaitObserver(func(d time.Duration) {
		waits = append(waits, d)
	}))

	require.NoError(t, l.AwaitSlot(context.Background()))
	assert.Equal(t, []time.Duration{0}, waits)
	assert.Equal(t, epoch, l.LastDispatch())
}

func TestAwaitSlot_SequentialCallsAreSpaced(t *testing.T) {
	vt := &virtualTime{now: epoch}
	l := New(DefaultMinInterval, WithClock(vt.Now), WithSleep(vt.Sleep))
	ctx := context.Background()

	var dispatched []time.Time
	for i := 0; i < 5; i++ {
		require.NoError(t, l.AwaitSlot(ctx))
		dispatched = append(dispatched, vt.Now())
		vt.Advance(100 * time.Millisecond)
	}

	for i := 1; i < len(dispatched); i++ {
		gap := dispatched[i].Sub(dispatched[i-1])
		assert.GreaterOrEqual(t, gap, DefaultMinInterval, "dispatch %d", i)
	}
}

func TestAwaitSlot_NoWaitAfterQuietPeriod(t *testing.T) {
	vt := &virtualTime{now: epoch}
	var last time.Duration
	l := New(DefaultMinInterval, WithClock(vt.Now), WithSleep(vt.Sleep), WithWaitObserver(func(d time.Duration) { last = d }))
	ctx := context.Background()

	require.NoError(t, l.AwaitSlot(ctx))
	vt.Advance(5 * time.Second)
	require.NoError(t, l.AwaitSlot(ctx))
	assert.Equal(t, time.Duration(0), last)

	vt.Advance(200 * time.Millisecond)
	require.NoError(t, l.AwaitSlot(ctx))
	assert.Equal(t, time.Second, last)
}

func TestAwaitSlot_ConcurrentCallersAreSpaced(t *testing.T) {
	interval := 10 * time.Millisecond
	l := New(interval)

	const callers = 8
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.AwaitSlot(context.Background()))
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), (callers-1)*interval)
	assert.False(t, l.LastDispatch().Before(start.Add((callers-1)*interval)))
}

// pendingSleep is one blocked wait, released by the test.
type pendingSleep struct {
	d       time.Duration
	release chan struct{}
}

func TestAwaitSlot_LateTimerDoesNotShrinkNextGap(t *testing.T) {
	vt := &virtualTime{now: epoch}
	sleeps := make(chan pendingSleep)
	l := New(DefaultMinInterval, WithClock(vt.Now), WithSleep(func(_ context.Context, d time.Duration) error {
		p := pendingSleep{d: d, release: make(chan struct{})}
		sleeps <- p
		<-p.release
		return nil
	}))
	ctx := context.Background()

	require.NoError(t, l.AwaitSlot(ctx))

	second := make(chan error, 1)
	go func() { second <- l.AwaitSlot(ctx) }()
	b := <-sleeps
	assert.Equal(t, DefaultMinInterval, b.d)

	third := make(chan error, 1)
	go func() { third <- l.AwaitSlot(ctx) }()
	c := <-sleeps
	assert.Equal(t, 2*DefaultMinInterval, c.d)

	// the second caller wakes 300ms late
	vt.Advance(DefaultMinInterval + 300*time.Millisecond)
	close(b.release)
	require.NoError(t, <-second)
	assert.Equal(t, epoch.Add(1500*time.Millisecond), l.LastDispatch())

	// the third wakes on its reserved slot and has to wait out the rest
	vt.Advance(900 * time.Millisecond)
	close(c.release)
	extra := <-sleeps
	assert.Equal(t, 300*time.Millisecond, extra.d)
	vt.Advance(extra.d)
	close(extra.release)
	require.NoError(t, <-third)

	assert.Equal(t, epoch.Add(2700*time.Millisecond), l.LastDispatch())
}

func TestAwaitSlot_RealTimers(t *testing.T) {
	interval := 15 * time.Millisecond
	l := New(interval)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, l.AwaitSlot(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 3*interval)
}

func TestAwaitSlot_Cancellation(t *testing.T) {
	l := New(time.Hour)
	require.NoError(t, l.AwaitSlot(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.AwaitSlot(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done, cancelDone := context.WithCancel(context.Background())
	cancelDone()
	assert.ErrorIs(t, l.AwaitSlot(done), context.Canceled)
}
