package device

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jypelle/authbox/internal/srv/event"
	"github.com/sirupsen/logrus"
)

const (
	minBackoff = 10 * time.Millisecond
	maxBackoff = time.Second
)

// Worker is a peripheral running in the background for the process lifetime.
type Worker interface {
	Name() string
	Start(ctx context.Context)
}

// Loop describes what a worker does on its goroutine.
// A nil Iterate means the device has no background activity.
type Loop struct {
	OnStart func(ctx context.Context) error
	Iterate func(ctx context.Context) error
}

// Base carries what every device shares: its configured name, the queue
// it emits actions on and the loop running its iterations.
type Base struct {
	name    string
	kind    string
	queue   *event.Queue
	handler event.Callback
	loop    Loop
	log     *logrus.Entry
}

func NewBase(queue *event.Queue, kind string, name string, handler event.Callback) *Base {
	return &Base{
		name:    name,
		kind:    kind,
		queue:   queue,
		handler: handler,
		log:     logrus.WithFields(logrus.Fields{"device": name, "kind": kind}),
	}
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) Kind() string {
	return b.kind
}

func (b *Base) String() string {
	return fmt.Sprintf("%s %s", b.kind, b.name)
}

// Emit pushes the device handler with args on the dispatcher queue.
// Devices never act on shared state themselves.
func (b *Base) Emit(args ...interface{}) {
	if b.handler == nil {
		b.log.Debugf("No handler, dropping event %v", args)
		return
	}
	b.queue.Push(event.NewAction(b.String(), b.handler, args...))
}

// Start launches the worker goroutine.
func (b *Base) Start(ctx context.Context) {
	if b.loop.Iterate == nil {
		b.log.Debugf("No background loop")
		return
	}
	b.log.Infof("Start %s device", b.kind)
	go b.run(ctx)
}

func (b *Base) run(ctx context.Context) {
	if b.loop.OnStart != nil {
		if err := b.safely(ctx, b.loop.OnStart); err != nil {
			b.log.Errorf("Start hook failed: %v", err)
		}
	}

	backoff := time.Duration(0)
	for ctx.Err() == nil {
		err := b.safely(ctx, b.loop.Iterate)
		if err == nil {
			backoff = 0
			continue
		}
		if ctx.Err() != nil {
			break
		}

		if backoff == 0 {
			backoff = minBackoff
		} else if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
		b.log.Errorf("Iteration failed, retrying in %v: %v", backoff, err)

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
	b.log.Debugf("Worker stopped")
}

func (b *Base) safely(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return fn(ctx)
}
