package device

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// inputPin looks up a pin by name or alias and sets it as input with an
// internal pull up resistor. Setting up an already configured pin is fine.
func inputPin(name string) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("failed to find input pin %s", name)
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to setup input pin %s: %w", name, err)
	}
	return pin, nil
}

// outputPin looks up a pin and drives it to its initial level.
func outputPin(name string, initial gpio.Level) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("failed to find output pin %s", name)
	}
	if err := pin.Out(initial); err != nil {
		return nil, fmt.Errorf("failed to setup output pin %s: %w", name, err)
	}
	return pin, nil
}
