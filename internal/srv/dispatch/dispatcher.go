// Package dispatch serializes every state-affecting action of the appliance.
//
// Device workers, scheduler callbacks and api handlers all push actions on a
// single event.Queue. The Dispatcher drains it on one goroutine, so at most
// one action runs at any instant, in queue arrival order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/jypelle/authbox/internal/srv/device"
	"github.com/jypelle/authbox/internal/srv/event"
	"github.com/sirupsen/logrus"
)

var ErrAlreadyRunning = errors.New("dispatcher already running")

// Lookup resolves a (section, key) pair of the configuration.
type Lookup func(section, key string) (string, error)

type Dispatcher struct {
	lock     sync.Mutex
	queue    *event.Queue
	registry Registry
	workers  []device.Worker
	byName   map[string]device.Worker
	running  bool

	workerCtx context.Context
}

func New(queue *event.Queue, registry Registry) *Dispatcher {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Dispatcher{
		queue:     queue,
		registry:  registry,
		byName:    make(map[string]device.Worker),
		workerCtx: context.Background(),
	}
}

func (d *Dispatcher) Queue() *event.Queue {
	return d.queue
}

// Register builds the worker described by args (kind first, then positional
// arguments) and keeps it for Run to start.
func (d *Dispatcher) Register(name string, args []string, handler event.Callback) (device.Worker, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.running {
		return nil, fmt.Errorf("register %s: %w", name, ErrAlreadyRunning)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("register %s: missing device kind", name)
	}
	if _, ok := d.byName[name]; ok {
		return nil, fmt.Errorf("register %s: already registered", name)
	}

	factory, err := d.registry.Lookup(args[0])
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}

	logrus.Debugf("Instantiating %s %s with %v", args[0], name, args[1:])
	worker, err := factory(d.queue, name, args[1:], handler)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}

	d.workers = append(d.workers, worker)
	d.byName[name] = worker
	return worker, nil
}

// RegisterFromConfig reads the "pins" entry of name, formatted as
// Kind:arg:arg..., and registers it.
func (d *Dispatcher) RegisterFromConfig(lookup Lookup, name string, handler event.Callback) (device.Worker, error) {
	raw, err := lookup("pins", name)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	return d.Register(name, strings.Split(raw, ":"), handler)
}

func (d *Dispatcher) Worker(name string) device.Worker {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.byName[name]
}

// Run starts every registered worker then executes queued actions one at a
// time until a Shutdown message arrives or ctx is done.
// Workers are not stopped when Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.lock.Lock()
	if d.running {
		d.lock.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	workers := append([]device.Worker(nil), d.workers...)
	d.lock.Unlock()

	logrus.Infof("Starting %d devices", len(workers))
	for _, w := range workers {
		w.Start(d.workerCtx)
	}

	for {
		select {
		case <-ctx.Done():
			logrus.Infof("Interrupted, leaving dispatcher loop")
			return nil
		case msg := <-d.queue.Messages():
			switch m := msg.(type) {
			case event.Shutdown:
				logrus.Infof("Shutdown requested, leaving dispatcher loop")
				return nil
			case event.Action:
				d.execute(m)
			}
		}
	}
}

func (d *Dispatcher) execute(action event.Action) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.Errorf("Action %s panicked with %v: %v\n%s", action, action.Args, rec, debug.Stack())
		}
	}()
	if err := action.Run(); err != nil {
		logrus.Errorf("Action %s failed with %v: %v", action, action.Args, err)
	}
}
