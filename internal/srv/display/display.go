// Package display drives a small character display from named states.
//
// A state is either a static list of template lines or a sequence of timed
// frames. Lines are rendered with their bindings and only the lines that
// changed since the previous render are written to the hardware.
//
// CharacterDisplay is not safe for concurrent use: SetState must be called
// from dispatcher actions only. Timers armed on the scheduler never render
// directly, they push an action back on the dispatcher queue.
package display

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jypelle/authbox/internal/srv/event"
	"github.com/jypelle/authbox/internal/srv/scheduler"
	"github.com/sirupsen/logrus"
)

var ErrUnknownState = errors.New("unknown display state")

// Timers is the part of the scheduler the display relies on.
type Timers interface {
	ScheduleAt(deadline time.Time, fn func()) scheduler.Handle
}

type CharacterDisplay struct {
	driver *TextDriver
	config *Config
	timers Timers
	queue  *event.Queue
	now    func() time.Time

	state    string
	lines    []string
	bindings Bindings

	rendered []string
	dirty    bool

	// epoch changes on every SetState, frameGen on every frame change.
	// Timer actions carry them so that late ones are ignored.
	epoch    uint64
	frameGen uint64

	frames   []Frame
	frame    int
	frameEnd time.Time

	stateRefresh scheduler.Handle
	frameRefresh scheduler.Handle
	frameAdvance scheduler.Handle
}

func New(driver *TextDriver, config *Config, timers Timers, queue *event.Queue) *CharacterDisplay {
	return &CharacterDisplay{
		driver: driver,
		config: config,
		timers: timers,
		queue:  queue,
		now:    time.Now,
		dirty:  true,
	}
}

// SetState switches to the named state and renders it right away.
func (d *CharacterDisplay) SetState(name string, bindings Bindings) error {
	state, ok := d.config.States[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownState, name)
	}
	logrus.Debugf("Display state %s", name)

	d.stateRefresh.Cancel()
	d.frameRefresh.Cancel()
	d.frameAdvance.Cancel()
	d.epoch++
	d.state = name
	d.bindings = bindings
	d.frames = nil
	d.frame = 0

	now := d.now()
	if state.Refresh > 0 {
		period := state.Refresh.Duration()
		d.armStateRefresh(d.epoch, now.Add(period), period)
	}

	switch {
	case len(state.Lines) > 0:
		d.lines = state.Lines
		return d.refresh()
	case len(state.Seq) > 0:
		d.frames = state.Seq
		return d.enterFrame(0, now)
	default:
		d.lines = nil
		return d.refresh()
	}
}

func (d *CharacterDisplay) enterFrame(index int, start time.Time) error {
	d.frameRefresh.Cancel()
	d.frameAdvance.Cancel()
	d.frameGen++
	d.frame = index

	frame := d.frames[index]
	d.lines = frame.Lines
	if frame.Duration > 0 {
		d.frameEnd = start.Add(frame.Duration.Duration())
		d.frameAdvance = d.arm(d.frameEnd, d.advance(d.epoch, d.frameGen))
	}
	if frame.Refresh > 0 {
		period := frame.Refresh.Duration()
		d.armFrameRefresh(d.epoch, d.frameGen, start.Add(period), period)
	}
	return d.refresh()
}

// arm schedules callback to run as a dispatcher action at deadline.
func (d *CharacterDisplay) arm(deadline time.Time, callback event.Callback) scheduler.Handle {
	return d.timers.ScheduleAt(deadline, func() {
		d.queue.Push(event.NewAction("display timer", callback))
	})
}

func (d *CharacterDisplay) advance(epoch, gen uint64) event.Callback {
	return func(...interface{}) error {
		if epoch != d.epoch || gen != d.frameGen || len(d.frames) == 0 {
			return nil
		}
		return d.enterFrame((d.frame+1)%len(d.frames), d.frameEnd)
	}
}

// armStateRefresh re-renders the state every period until the next SetState.
func (d *CharacterDisplay) armStateRefresh(epoch uint64, deadline time.Time, period time.Duration) {
	d.stateRefresh = d.arm(deadline, func(...interface{}) error {
		if epoch != d.epoch {
			return nil
		}
		d.armStateRefresh(epoch, nextTick(deadline, period, d.now()), period)
		return d.refresh()
	})
}

// armFrameRefresh re-renders the current frame every period until the frame changes.
func (d *CharacterDisplay) armFrameRefresh(epoch, gen uint64, deadline time.Time, period time.Duration) {
	d.frameRefresh = d.arm(deadline, func(...interface{}) error {
		if epoch != d.epoch || gen != d.frameGen {
			return nil
		}
		d.armFrameRefresh(epoch, gen, nextTick(deadline, period, d.now()), period)
		return d.refresh()
	})
}

// nextTick keeps a periodic timer on its original cadence, skipping missed ticks.
func nextTick(previous time.Time, period time.Duration, now time.Time) time.Time {
	next := previous.Add(period)
	if next.Before(now) {
		next = now.Add(period)
	}
	return next
}

// refresh renders the current lines with the current bindings.
func (d *CharacterDisplay) refresh() error {
	values := d.bindings.evaluate()
	lines := make([]string, len(d.lines))
	for i, template := range d.lines {
		line, err := format(template, values)
		if err != nil {
			return fmt.Errorf("display state %s: %w", d.state, err)
		}
		lines[i] = line
	}

	if !d.dirty && equalLines(lines, d.rendered) {
		return nil
	}

	previous := d.rendered
	cleared := false
	if d.dirty || len(lines) != len(previous) || !anyLineMatches(lines, previous) {
		if err := d.driver.Clear(); err != nil {
			d.dirty = true
			return err
		}
		cleared = true
	}

	for i, line := range lines {
		text := line
		if cleared {
			if line == "" {
				continue
			}
		} else {
			if line == previous[i] {
				continue
			}
			// Blank what is left of a longer previous content.
			if pad := utf8.RuneCountInString(previous[i]) - utf8.RuneCountInString(line); pad > 0 {
				text = line + strings.Repeat(" ", pad)
			}
		}
		if err := d.driver.WriteLine(i, text); err != nil {
			d.dirty = true
			return err
		}
	}

	d.rendered = lines
	d.dirty = false
	return nil
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// anyLineMatches reports whether at least one position holds the same line in both.
func anyLineMatches(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			return true
		}
	}
	return false
}
