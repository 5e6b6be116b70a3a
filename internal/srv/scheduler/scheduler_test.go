package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func startScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func TestScheduleFiresAfterDelay(t *testing.T) {
	s := startScheduler(t)

	start := time.Now()
	fired := make(chan time.Time, 1)
	s.Schedule(50*time.Millisecond, func() { fired <- time.Now() })

	select {
	case at := <-fired:
		if elapsed := at.Sub(start); elapsed < 50*time.Millisecond-Fudge {
			t.Errorf("fired too early: %v", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("task never fired")
	}
}

func TestDeadlineOrder(t *testing.T) {
	s := startScheduler(t)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	record := func(i int) func() {
		return func() {
			mu.Lock()
			order = append(order, i)
			n := len(order)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
		}
	}

	s.Schedule(90*time.Millisecond, record(3))
	s.Schedule(30*time.Millisecond, record(1))
	s.Schedule(60*time.Millisecond, record(2))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tasks did not all fire")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range []int{1, 2, 3} {
		if order[i] != v {
			t.Fatalf("order = %v, want [1 2 3]", order)
		}
	}
}

func TestCancelBeforeDeadline(t *testing.T) {
	s := startScheduler(t)

	var ran int32
	h := s.Schedule(40*time.Millisecond, func() { atomic.StoreInt32(&ran, 1) })
	if !h.Cancel() {
		t.Fatal("Cancel() = false for a pending task")
	}
	if h.Cancel() {
		t.Error("second Cancel() = true")
	}

	time.Sleep(120 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("cancelled task executed")
	}
	if n := s.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want cancelled entry discarded", n)
	}
}

func TestCancelAfterFireIsNoop(t *testing.T) {
	s := startScheduler(t)

	fired := make(chan struct{})
	h := s.Schedule(0, func() { close(fired) })
	<-fired
	if h.Cancel() {
		t.Error("Cancel() = true after the task fired")
	}

	// The slot is reused by the next task; the stale handle must not cancel it.
	again := make(chan struct{})
	s.Schedule(10*time.Millisecond, func() { close(again) })
	h.Cancel()
	select {
	case <-again:
	case <-time.After(time.Second):
		t.Fatal("stale handle cancelled a newer task")
	}
}

func TestZeroHandle(t *testing.T) {
	var h Handle
	if h.Cancel() {
		t.Error("zero Handle Cancel() = true")
	}
}

func TestEqualDeadlinesRunOnce(t *testing.T) {
	s := startScheduler(t)

	var a, b int32
	var wg sync.WaitGroup
	wg.Add(2)
	deadline := time.Now().Add(30 * time.Millisecond)
	s.ScheduleAt(deadline, func() { atomic.AddInt32(&a, 1); wg.Done() })
	s.ScheduleAt(deadline, func() { atomic.AddInt32(&b, 1); wg.Done() })

	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("tasks with equal deadline did not both fire")
	}
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&a) != 1 || atomic.LoadInt32(&b) != 1 {
		t.Errorf("executions a=%d b=%d, want 1 each", a, b)
	}
}

func TestPanicIsLoggedAndSchedulerContinues(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	s := startScheduler(t)

	s.Schedule(0, func() { panic("boom") })
	next := make(chan struct{})
	s.Schedule(20*time.Millisecond, func() { close(next) })

	select {
	case <-next:
	case <-time.After(time.Second):
		t.Fatal("scheduler stopped after a panicking task")
	}

	found := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			found = true
		}
	}
	if !found {
		t.Error("panic was not logged")
	}
}

func TestScheduleFromCallback(t *testing.T) {
	s := startScheduler(t)

	done := make(chan struct{})
	s.Schedule(0, func() {
		s.Schedule(10*time.Millisecond, func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task scheduled from a callback never fired")
	}
}
