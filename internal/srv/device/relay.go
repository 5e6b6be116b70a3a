package device

import (
	"fmt"
	"strings"

	"github.com/jypelle/authbox/internal/srv/event"
	"periph.io/x/conn/v3/gpio"
)

// Relay drives a door strike or a power relay. It has no background loop:
// On and Off are called from dispatcher actions.
type Relay struct {
	*Base
	pin        gpio.PinIO
	activeHigh bool
	on         bool
}

// NewRelay expects args [ActiveHigh|ActiveLow, output pin].
func NewRelay(queue *event.Queue, name string, args []string, handler event.Callback) (Worker, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("relay %s expects output type and output pin, got %v", name, args)
	}

	r := &Relay{Base: NewBase(queue, "Relay", name, handler)}
	switch strings.ToLower(args[0]) {
	case "activehigh":
		r.activeHigh = true
	case "activelow":
		r.activeHigh = false
	default:
		return nil, fmt.Errorf("relay %s: unknown output type %q", name, args[0])
	}

	var err error
	r.pin, err = outputPin(args[1], r.level(false))
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Relay) level(on bool) gpio.Level {
	return gpio.Level(on == r.activeHigh)
}

func (r *Relay) On() error {
	r.log.Infof("Relay on")
	r.on = true
	return r.pin.Out(r.level(true))
}

func (r *Relay) Off() error {
	r.log.Infof("Relay off")
	r.on = false
	return r.pin.Out(r.level(false))
}

func (r *Relay) IsOn() bool {
	return r.on
}
