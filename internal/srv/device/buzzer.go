package device

import (
	"context"
	"fmt"
	"time"

	"github.com/jypelle/authbox/internal/srv/event"
	"periph.io/x/conn/v3/gpio"
)

// Pattern alternates on and off durations, starting with on.
type Pattern []time.Duration

var (
	BeepShort  = Pattern{80 * time.Millisecond}
	BeepLong   = Pattern{600 * time.Millisecond}
	BeepDenied = Pattern{150 * time.Millisecond, 100 * time.Millisecond, 150 * time.Millisecond, 100 * time.Millisecond, 150 * time.Millisecond}
)

// Buzzer plays beep patterns on its own goroutine so the dispatcher never
// waits on them.
type Buzzer struct {
	*Base
	pin      gpio.PinIO
	requests chan Pattern
}

// NewBuzzer expects args [output pin].
func NewBuzzer(queue *event.Queue, name string, args []string, handler event.Callback) (Worker, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("buzzer %s expects an output pin, got %v", name, args)
	}

	b := &Buzzer{
		Base:     NewBase(queue, "Buzzer", name, handler),
		requests: make(chan Pattern, 1),
	}
	var err error
	b.pin, err = outputPin(args[0], gpio.Low)
	if err != nil {
		return nil, err
	}
	b.loop = Loop{Iterate: b.play}
	return b, nil
}

// Beep queues a pattern. It is dropped if another one is already waiting.
func (b *Buzzer) Beep(pattern Pattern) bool {
	select {
	case b.requests <- pattern:
		return true
	default:
		b.log.Debugf("Buzzer busy, dropping pattern")
		return false
	}
}

func (b *Buzzer) play(ctx context.Context) error {
	var pattern Pattern
	select {
	case <-ctx.Done():
		return nil
	case pattern = <-b.requests:
	}

	// Always leave the buzzer silent, even on error or cancellation.
	defer b.pin.Out(gpio.Low)

	for i, d := range pattern {
		if err := b.pin.Out(gpio.Level(i%2 == 0)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d):
		}
	}
	return nil
}
