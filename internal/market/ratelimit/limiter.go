// Package ratelimit spaces outbound upstream calls.
//
// One Limiter is shared by every call to the market-data API: it throttles
// the aggregate request rate, not the rate per endpoint. Callers reserve
// dispatch slots in arrival order, so concurrent callers leave in FIFO order
// and two dispatches are never closer than the configured interval.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultMinInterval keeps the gateway under the free-tier upstream limit.
const DefaultMinInterval = 1200 * time.Millisecond

type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time // tail of the reserved slots
	last     time.Time // last actual dispatch

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	onWait func(d time.Duration)
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleep replaces the timer based wait, tests use it to avoid real sleeps.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// WithWaitObserver is called once per AwaitSlot with the wait it imposed.
func WithWaitObserver(fn func(d time.Duration)) Option {
	return func(l *Limiter) { l.onWait = fn }
}

func New(interval time.Duration, opts ...Option) *Limiter {
	if interval < 0 {
		interval = 0
	}
	l := &Limiter{
		interval: interval,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AwaitSlot blocks until at least the interval has passed since the previous
// dispatch. Slots are reserved in arrival order before waiting; on wake-up
// the gap to the last actual dispatch is checked again, so a late timer in
// front does not squeeze the next dispatch.
func (l *Limiter) AwaitSlot(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	start := l.now()
	slot := start
	if !l.next.IsZero() {
		if next := l.next.Add(l.interval); next.After(start) {
			slot = next
		}
	}
	l.next = slot
	l.mu.Unlock()

	// a cancelled caller keeps its slot; later callers stay spaced after it
	wait := slot.Sub(start)
	for {
		if wait > 0 {
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
		at, remaining := l.dispatch()
		if remaining <= 0 {
			if l.onWait != nil {
				l.onWait(at.Sub(start))
			}
			return nil
		}
		wait = remaining
	}
}

// dispatch records now as the dispatch time when the interval since the
// previous dispatch has passed. Otherwise it returns the remaining wait.
func (l *Limiter) dispatch() (time.Time, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if !l.last.IsZero() {
		if remaining := l.last.Add(l.interval).Sub(now); remaining > 0 {
			return time.Time{}, remaining
		}
	}
	l.last = now
	if l.next.Before(now) {
		l.next = now
	}
	return now, 0
}

// LastDispatch is the time the most recent caller was let through.
func (l *Limiter) LastDispatch() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *Limiter) Interval() time.Duration {
	return l.interval
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
