// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package callout implements the timer wheel collaborator the proxy's
// core state machines depend on: Set/Clear/Left/InQueue plus an Age
// entry point the event loop calls on each timer tick to fire anything
// due. Expiry order is strict; when two timers are due at the same
// instant, the one inserted first fires first, matching the ordering
// guarantee the report/query/aggregation pipeline relies on.
package callout

import (
	"container/heap"
	"sync"
	"time"
)

// Handle identifies a pending timer. The zero Handle never refers to a
// live timer, so records can use it as their "no timer set" sentinel.
type Handle uint64

// Func is invoked when a timer fires. arg is whatever was passed to Set.
type Func func(arg any)

type entry struct {
	handle  Handle
	expires time.Time
	seq     uint64
	fn      Func
	arg     any
	index   int // heap index, maintained by container/heap
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].expires.Equal(h[j].expires) {
		return h[i].seq < h[j].seq
	}
	return h[i].expires.Before(h[j].expires)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Service is a callout timer wheel. The zero value is not usable; call New.
type Service struct {
	mu      sync.Mutex
	clk     clockFunc
	pending entryHeap
	byID    map[Handle]*entry
	nextID  Handle
	seq     uint64
}

type clockFunc func() time.Time

// New returns a ready-to-use Service. now is the clock Set computes
// expiry times from and Left measures against; nil means time.Now.
// Age does not read it and fires against the time it is given.
func New(now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	s := &Service{clk: now, byID: make(map[Handle]*entry)}
	heap.Init(&s.pending)
	return s
}

// Set arms a new timer firing after delay, returning its Handle. Unlike
// the original C timer service, calling Set never implicitly clears a
// previous handle: callers must Clear explicitly first, matching the
// "does not replace in place" contract records rely on.
func (s *Service) Set(delay time.Duration, fn Func, arg any) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.seq++
	e := &entry{
		handle:  s.nextID,
		expires: s.clk().Add(delay),
		seq:     s.seq,
		fn:      fn,
		arg:     arg,
	}
	s.byID[e.handle] = e
	heap.Push(&s.pending, e)
	return e.handle
}

// Clear cancels h. Clearing an already-fired or unknown handle is a no-op.
func (s *Service) Clear(h Handle) {
	if h == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[h]
	if !ok {
		return
	}
	delete(s.byID, h)
	if e.index >= 0 {
		heap.Remove(&s.pending, e.index)
	}
}

// Left returns the time remaining before h fires, or 0 if h is unknown
// or already fired.
func (s *Service) Left(h Handle) time.Duration {
	if h == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[h]
	if !ok {
		return 0
	}
	d := e.expires.Sub(s.clk())
	if d < 0 {
		return 0
	}
	return d
}

// InQueue reports whether h still refers to a pending (not fired, not
// cleared) timer.
func (s *Service) InQueue(h Handle) bool {
	if h == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[h]
	return ok
}

// Age fires, in expiry order (ties broken by insertion order), every
// timer due at or before now. Callbacks run synchronously and to
// completion before Age considers the next one, so a callback that
// calls Set/Clear on other handles observes a consistent queue.
func (s *Service) Age(now time.Time) {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 || s.pending[0].expires.After(now) {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.pending).(*entry)
		delete(s.byID, e.handle)
		s.mu.Unlock()

		e.fn(e.arg)
	}
}
