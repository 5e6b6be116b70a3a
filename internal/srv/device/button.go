package device

import (
	"context"
	"fmt"
	"time"

	"github.com/jypelle/authbox/internal/srv/event"
	"periph.io/x/conn/v3/gpio"
)

const (
	buttonPollPeriod = 5 * time.Millisecond
	buttonDebounce   = 20 * time.Millisecond
)

// Button is a push button wired between an input pin and ground, with an
// optional light on an output pin.
// It emits (name, event.ButtonEventType) on press and release.
type Button struct {
	*Base
	pin   gpio.PinIO
	light gpio.PinIO

	isPressed  bool
	lastChange time.Time
	ticker     *time.Ticker
}

// NewButton expects args [input pin] or [input pin, light pin].
func NewButton(queue *event.Queue, name string, args []string, handler event.Callback) (Worker, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("button %s expects input pin and optional light pin, got %v", name, args)
	}

	b := &Button{Base: NewBase(queue, "Button", name, handler)}

	var err error
	b.pin, err = inputPin(args[0])
	if err != nil {
		return nil, err
	}
	if len(args) == 2 && args[1] != "" {
		b.light, err = outputPin(args[1], gpio.Low)
		if err != nil {
			return nil, err
		}
	}

	b.loop = Loop{OnStart: b.onStart, Iterate: b.poll}
	return b, nil
}

func (b *Button) onStart(ctx context.Context) error {
	b.ticker = time.NewTicker(buttonPollPeriod)
	go func() {
		<-ctx.Done()
		b.ticker.Stop()
	}()
	return nil
}

func (b *Button) poll(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case now := <-b.ticker.C:
		b.refresh(now)
	}
	return nil
}

// refresh samples the pin once. The line is pulled up, so Low means pressed.
func (b *Button) refresh(now time.Time) {
	pressed := b.pin.Read() == gpio.Low
	if pressed == b.isPressed || now.Sub(b.lastChange) < buttonDebounce {
		return
	}
	b.isPressed = pressed
	b.lastChange = now
	if pressed {
		b.log.Debugf("Button pressed")
		b.Emit(b.name, event.PRESS_EVENT_TYPE)
	} else {
		b.log.Debugf("Button released")
		b.Emit(b.name, event.RELEASE_EVENT_TYPE)
	}
}

// SetLight drives the button light, if any.
func (b *Button) SetLight(on bool) error {
	if b.light == nil {
		return nil
	}
	return b.light.Out(gpio.Level(on))
}
