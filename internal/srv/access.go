package srv

import (
	"fmt"

	"github.com/jypelle/authbox/apimodel"
	"github.com/jypelle/authbox/internal/srv/device"
	"github.com/jypelle/authbox/internal/srv/display"
	"github.com/jypelle/authbox/internal/srv/event"
	"github.com/jypelle/authbox/internal/srv/scheduler"
	"github.com/sirupsen/logrus"
)

// Everything below runs as dispatcher actions.

func (s *ServerApp) onBadge(args ...interface{}) error {
	if len(args) != 2 {
		return fmt.Errorf("badge event: unexpected args %v", args)
	}
	badge, ok := args[1].(string)
	if !ok {
		return fmt.Errorf("badge event: unexpected badge %v", args[1])
	}

	holder, ok := s.Holder(badge)
	if !ok {
		return s.deny(badge)
	}
	return s.grant(holder, badge)
}

func (s *ServerApp) onExitButton(args ...interface{}) error {
	if len(args) != 2 {
		return fmt.Errorf("exit button event: unexpected args %v", args)
	}
	if args[1] != event.PRESS_EVENT_TYPE {
		return nil
	}
	return s.grant("exit", "")
}

func (s *ServerApp) onRelock(args ...interface{}) error {
	logrus.Infof("Relock door")
	if s.doorRelay != nil {
		if err := s.doorRelay.Off(); err != nil {
			return fmt.Errorf("relock: %w", err)
		}
	}
	s.setLight(false)
	return s.showReady()
}

func (s *ServerApp) onOtherDevice(args ...interface{}) error {
	logrus.Infof("Unhandled device event %v", args)
	return nil
}

func (s *ServerApp) onDeniedReset(args ...interface{}) error {
	if args[0] != s.deniedGen || s.doorOpen() {
		return nil
	}
	return s.showReady()
}

func (s *ServerApp) grant(holder string, badge string) error {
	logrus.Infof("Access granted to %s", holder)
	s.cancelDeniedReset()

	if s.doorRelay != nil {
		if err := s.doorRelay.On(); err != nil {
			return fmt.Errorf("unlock for %s: %w", holder, err)
		}
		s.relockTimer.Set(s.UnlockDuration.Duration())
	}
	s.setLight(true)
	s.beep(device.BeepShort)

	now := s.now()
	s.RecordGranted(holder, now)
	s.report(apimodel.AccessEvent{Badge: badge, Holder: holder, Granted: true, Time: now})

	return s.ShowState("granted", display.Bindings{"name": display.Literal(holder)})
}

func (s *ServerApp) deny(badge string) error {
	logrus.Warnf("Access denied to badge %s", badge)
	s.beep(device.BeepDenied)

	s.RecordDenied()
	s.report(apimodel.AccessEvent{Badge: badge, Granted: false, Time: s.now()})

	// Somebody else is going through, keep the granted screen.
	if s.doorOpen() {
		return nil
	}

	s.cancelDeniedReset()
	gen := s.deniedGen
	s.deniedReset = s.scheduler.Schedule(s.DeniedDuration.Duration(), func() {
		s.queue.Push(event.NewAction("denied reset", s.onDeniedReset, gen))
	})
	return s.ShowState("denied", display.Bindings{"badge": display.Literal(badge)})
}

func (s *ServerApp) cancelDeniedReset() {
	s.deniedGen++
	s.deniedReset.Cancel()
	s.deniedReset = scheduler.Handle{}
}

func (s *ServerApp) showReady() error {
	return s.ShowState("ready", nil)
}

func (s *ServerApp) setLight(on bool) {
	if s.exitButton == nil {
		return
	}
	if err := s.exitButton.SetLight(on); err != nil {
		logrus.Warnf("%v", err)
	}
}

func (s *ServerApp) beep(pattern device.Pattern) {
	if s.buzzer != nil {
		s.buzzer.Beep(pattern)
	}
}

func (s *ServerApp) report(ev apimodel.AccessEvent) {
	if s.reporter != nil {
		s.reporter.Report(ev)
	}
}

// clock is bound to {time} in every state, evaluated on each render.
func (s *ServerApp) clock() display.Binding {
	return display.Func(func() string {
		return s.now().Format("15:04:05")
	})
}

// Unlock opens the door as if holder had badged.
func (s *ServerApp) Unlock(holder string) error {
	return s.grant(holder, "")
}

// ShowState switches the display, adding the {time} binding when missing.
func (s *ServerApp) ShowState(state string, bindings display.Bindings) error {
	all := display.Bindings{"time": s.clock()}
	for k, v := range bindings {
		all[k] = v
	}
	return s.display.SetState(state, all)
}

func (s *ServerApp) Stats() apimodel.AccessStats {
	stats := s.ServerState.Stats()
	result := apimodel.AccessStats{
		GrantedCount: stats.GrantedCount,
		DeniedCount:  stats.DeniedCount,
		LastHolder:   stats.LastHolder,
		DoorOpen:     s.doorOpen(),
	}
	if !stats.LastAccess.IsZero() {
		lastAccess := stats.LastAccess
		result.LastAccess = &lastAccess
	}
	return result
}
