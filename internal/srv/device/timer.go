package device

import (
	"context"
	"fmt"
	"time"

	"github.com/jypelle/authbox/internal/srv/event"
)

// Timer emits (name) once the duration given to Set has elapsed.
// Set and Cancel may be called from any goroutine and never block: only the
// latest command is kept until the timer goroutine picks it up.
type Timer struct {
	*Base
	commands chan time.Duration

	timer *time.Timer
	armed bool
}

const cancelTimer = time.Duration(-1)

// NewTimer takes no args.
func NewTimer(queue *event.Queue, name string, args []string, handler event.Callback) (Worker, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("timer %s takes no argument, got %v", name, args)
	}
	t := &Timer{
		Base:     NewBase(queue, "Timer", name, handler),
		commands: make(chan time.Duration, 1),
	}
	t.loop = Loop{Iterate: t.wait}
	return t, nil
}

// Set (re)arms the timer.
func (t *Timer) Set(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.send(d)
}

func (t *Timer) Cancel() {
	t.send(cancelTimer)
}

func (t *Timer) send(d time.Duration) {
	for {
		select {
		case t.commands <- d:
			return
		default:
		}
		// Drop the stale command.
		select {
		case <-t.commands:
		default:
		}
	}
}

func (t *Timer) wait(ctx context.Context) error {
	var expired <-chan time.Time
	if t.armed {
		expired = t.timer.C
	}

	select {
	case <-ctx.Done():
	case d := <-t.commands:
		t.disarm()
		if d != cancelTimer {
			t.timer = time.NewTimer(d)
			t.armed = true
		}
	case <-expired:
		t.armed = false
		t.log.Debugf("Timer expired")
		t.Emit(t.name)
	}
	return nil
}

func (t *Timer) disarm() {
	if t.armed {
		t.timer.Stop()
		t.armed = false
	}
}
