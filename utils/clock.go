package utils

import (
	"container/heap"
	"sync"
	"time"
)

// Clock provides time to the distributor so timeouts can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// AutoClock uses real time.
type AutoClock struct{}

func NewAutoClock() *AutoClock {
	return &AutoClock{}
}

func (c *AutoClock) Now() time.Time {
	return time.Now()
}

func (c *AutoClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualClock only moves when Advance is called. Due callbacks run on the
// goroutine calling Advance, in fire-time order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers timerHeap
	seq    uint64
}

// NewManualClock creates a clock stopped at start, or at 2024-01-01 UTC when
// start is zero.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	mt := &manualTimer{
		fireAt: c.now.Add(d),
		seq:    c.seq,
		fn:     f,
		clock:  c,
	}
	heap.Push(&c.timers, mt)
	return mt
}

// Advance moves time forward and fires every timer that became due, including
// timers scheduled by the callbacks themselves.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	for len(c.timers) > 0 {
		mt := c.timers[0]
		if mt.stopped {
			heap.Pop(&c.timers)
			continue
		}
		if mt.fireAt.After(c.now) {
			break
		}
		heap.Pop(&c.timers)
		mt.stopped = true
		// callbacks may schedule or stop timers
		c.mu.Unlock()
		mt.fn()
		c.mu.Lock()
	}
	c.mu.Unlock()
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, mt := range c.timers {
		if !mt.stopped {
			n++
		}
	}
	return n
}

type manualTimer struct {
	fireAt  time.Time
	seq     uint64
	fn      func()
	clock   *ManualClock
	stopped bool
	index   int
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type timerHeap []*manualTimer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	mt := x.(*manualTimer)
	mt.index = len(*h)
	*h = append(*h, mt)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	mt := old[n-1]
	old[n-1] = nil
	mt.index = -1
	*h = old[:n-1]
	return mt
}
