package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually driven Clock. Callbacks run synchronously inside Advance,
// in deadline order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers map[uint64]*fakeTimer
}

type fakeTimer struct {
	clock    *Fake
	id       uint64
	deadline time.Time
	fn       func()
}

// NewFake returns a Fake starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, timers: make(map[uint64]*fakeTimer)}
}

// Now returns the fake time.
func (clock *Fake) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

// AfterFunc registers f to run once the fake time reaches now+d.
func (clock *Fake) AfterFunc(d time.Duration, f func()) Timer {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	if d < 0 {
		d = 0
	}
	clock.seq++
	timer := &fakeTimer{clock: clock, id: clock.seq, deadline: clock.now.Add(d), fn: f}
	clock.timers[timer.id] = timer
	return timer
}

// Stop removes the timer if it has not fired yet.
func (timer *fakeTimer) Stop() bool {
	timer.clock.mu.Lock()
	defer timer.clock.mu.Unlock()
	if _, ok := timer.clock.timers[timer.id]; !ok {
		return false
	}
	delete(timer.clock.timers, timer.id)
	return true
}

// Advance moves time forward by d, firing every timer that falls due.
func (clock *Fake) Advance(d time.Duration) {
	clock.mu.Lock()
	target := clock.now.Add(d)
	clock.mu.Unlock()

	for {
		clock.mu.Lock()
		next := clock.nextDueLocked(target)
		if next == nil {
			clock.now = target
			clock.mu.Unlock()
			return
		}
		delete(clock.timers, next.id)
		if next.deadline.After(clock.now) {
			clock.now = next.deadline
		}
		clock.mu.Unlock()

		next.fn()
	}
}

// Pending returns the remaining delays of all armed timers, shortest first.
func (clock *Fake) Pending() []time.Duration {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	delays := make([]time.Duration, 0, len(clock.timers))
	for _, timer := range clock.timers {
		delays = append(delays, timer.deadline.Sub(clock.now))
	}
	sort.Slice(delays, func(i, j int) bool { return delays[i] < delays[j] })
	return delays
}

func (clock *Fake) nextDueLocked(target time.Time) *fakeTimer {
	var next *fakeTimer
	for _, timer := range clock.timers {
		if timer.deadline.After(target) {
			continue
		}
		if next == nil || timer.deadline.Before(next.deadline) ||
			(timer.deadline.Equal(next.deadline) && timer.id < next.id) {
			next = timer
		}
	}
	return next
}
