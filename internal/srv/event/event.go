package event

import (
	"fmt"
)

// Callback is the unit of work carried by an Action.
// Returned errors are logged by the dispatcher, they never stop it.
type Callback func(args ...interface{}) error

// Message is what travels on the Queue: either an Action or a Shutdown.
type Message interface {
	isMessage()
}

// Action is a deferred invocation of Callback with Args.
type Action struct {
	Name     string
	Callback Callback
	Args     []interface{}
}

func (Action) isMessage() {}

// Run invokes the callback with the action arguments.
func (a Action) Run() error {
	if a.Callback == nil {
		return fmt.Errorf("action %s has no callback", a.String())
	}
	return a.Callback(a.Args...)
}

func (a Action) String() string {
	if a.Name == "" {
		return "anonymous"
	}
	return a.Name
}

// Shutdown asks the dispatcher loop to exit.
type Shutdown struct{}

func (Shutdown) isMessage() {}

// NewAction builds a named action.
func NewAction(name string, callback Callback, args ...interface{}) Action {
	return Action{Name: name, Callback: callback, Args: args}
}

// Buttons
type ButtonEventType int

const (
	PRESS_EVENT_TYPE ButtonEventType = iota
	RELEASE_EVENT_TYPE
)

func (t ButtonEventType) String() string {
	switch t {
	case PRESS_EVENT_TYPE:
		return "press"
	case RELEASE_EVENT_TYPE:
		return "release"
	default:
		return fmt.Sprintf("ButtonEventType(%d)", int(t))
	}
}
