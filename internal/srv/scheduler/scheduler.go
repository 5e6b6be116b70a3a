// Package scheduler runs deferred, cancellable callbacks ordered by deadline
// on a single goroutine.
//
// Callbacks execute on the scheduler goroutine, concurrently with the
// dispatcher. A callback that needs to touch display or device state must
// push an action on the dispatcher queue instead of mutating it directly.
package scheduler

import (
	"container/heap"
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Fudge avoids oversleeping: a task due within Fudge is run right away.
const Fudge = time.Millisecond

type slot struct {
	gen       uint64
	fn        func()
	used      bool
	cancelled bool
}

type entry struct {
	deadline time.Time
	index    int
	gen      uint64
}

type deadlineHeap []entry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

type Scheduler struct {
	lock  sync.Mutex
	slots []slot
	free  []int
	tasks deadlineHeap

	wake chan struct{}
	now  func() time.Time
}

func New() *Scheduler {
	return &Scheduler{
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

// Handle identifies a scheduled task. The zero Handle is inert.
type Handle struct {
	scheduler *Scheduler
	index     int
	gen       uint64
}

// Cancel flags the task so it is discarded when popped.
// It reports whether the task was still pending.
func (h Handle) Cancel() bool {
	if h.scheduler == nil {
		return false
	}
	return h.scheduler.cancel(h)
}

// Schedule runs fn approximately delay from now.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) Handle {
	return s.ScheduleAt(s.now().Add(delay), fn)
}

// ScheduleAt runs fn at the absolute deadline.
func (s *Scheduler) ScheduleAt(deadline time.Time, fn func()) Handle {
	s.lock.Lock()
	var index int
	if n := len(s.free); n > 0 {
		index = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.slots = append(s.slots, slot{})
		index = len(s.slots) - 1
	}
	sl := &s.slots[index]
	sl.used = true
	sl.cancelled = false
	sl.fn = fn
	heap.Push(&s.tasks, entry{deadline: deadline, index: index, gen: sl.gen})
	h := Handle{scheduler: s, index: index, gen: sl.gen}
	s.lock.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return h
}

func (s *Scheduler) cancel(h Handle) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if h.index < 0 || h.index >= len(s.slots) {
		return false
	}
	sl := &s.slots[h.index]
	if !sl.used || sl.gen != h.gen || sl.cancelled {
		return false
	}
	sl.cancelled = true
	return true
}

// Pending returns the number of tasks in the heap, cancelled ones included.
func (s *Scheduler) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.tasks)
}

// pop removes the earliest task if it is due and releases its slot.
func (s *Scheduler) pop(now time.Time) (fn func(), due bool) {
	if len(s.tasks) == 0 || s.tasks[0].deadline.After(now.Add(Fudge)) {
		return nil, false
	}
	e := heap.Pop(&s.tasks).(entry)
	sl := &s.slots[e.index]
	if !sl.cancelled {
		fn = sl.fn
	}
	sl.fn = nil
	sl.used = false
	sl.cancelled = false
	sl.gen++
	s.free = append(s.free, e.index)
	return fn, true
}

// Run fires due tasks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	logrus.Debugf("Start scheduler")

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		s.lock.Lock()
		for {
			fn, due := s.pop(s.now())
			if !due {
				break
			}
			if fn == nil {
				continue
			}
			s.lock.Unlock()
			s.fire(fn)
			s.lock.Lock()
		}

		var wait <-chan time.Time
		if len(s.tasks) > 0 {
			timer.Reset(s.tasks[0].deadline.Sub(s.now()))
			wait = timer.C
		}
		s.lock.Unlock()

		select {
		case <-ctx.Done():
			timer.Stop()
			logrus.Debugf("Scheduler stopped")
			return
		case <-s.wake:
		case <-wait:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

func (s *Scheduler) fire(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.Errorf("Scheduled task panicked: %v\n%s", rec, debug.Stack())
		}
	}()
	fn()
}
