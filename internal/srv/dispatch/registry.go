package dispatch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jypelle/authbox/internal/srv/device"
	"github.com/jypelle/authbox/internal/srv/event"
)

var ErrUnknownDeviceKind = errors.New("unknown device kind")

// Factory builds a worker from its configured name and positional arguments.
type Factory func(queue *event.Queue, name string, args []string, handler event.Callback) (device.Worker, error)

// Registry maps the short kind names usable in configuration to factories.
type Registry map[string]Factory

// DefaultRegistry is the allow-list of peripherals an appliance can be built from.
func DefaultRegistry() Registry {
	return Registry{
		"HIDKeystrokingReader": device.NewHIDKeystrokingReader,
		"Button":               device.NewButton,
		"Relay":                device.NewRelay,
		"Buzzer":               device.NewBuzzer,
		"Timer":                device.NewTimer,
	}
}

func (r Registry) Lookup(kind string) (Factory, error) {
	factory, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownDeviceKind, kind, r.Kinds())
	}
	return factory, nil
}

func (r Registry) Kinds() []string {
	kinds := make([]string, 0, len(r))
	for k := range r {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
